package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrInvalidPayload is returned when a delivery body is not valid JSON.
var ErrInvalidPayload = errors.New("webhook payload is not valid JSON")

type ruleKind int

const (
	// ruleKey reads a single top-level key.
	ruleKey ruleKind = iota
	// rulePath walks nested objects, one key per segment.
	rulePath
)

// FieldRule is one encoding of a logical field inside a delivery.
type FieldRule struct {
	kind ruleKind
	path []string
}

// Key matches a top-level key.
func Key(name string) FieldRule {
	return FieldRule{kind: ruleKey, path: []string{name}}
}

// Path matches a dotted path of nested objects, e.g. "data.customer.id".
func Path(dotted string) FieldRule {
	return FieldRule{kind: rulePath, path: strings.Split(dotted, ".")}
}

func (r FieldRule) lookup(doc map[string]any) (any, bool) {
	switch r.kind {
	case ruleKey:
		v, ok := doc[r.path[0]]
		return v, ok
	case rulePath:
		var cur any = doc
		for _, seg := range r.path {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = obj[seg]; !ok {
				return nil, false
			}
		}
		return cur, true
	}
	return nil, false
}

// FieldExtractor tries its rules in order and returns the first non-empty
// scalar.
type FieldExtractor []FieldRule

func (e FieldExtractor) Extract(doc map[string]any) string {
	for _, rule := range e {
		v, ok := rule.lookup(doc)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

// Field encodings seen across processor event versions, most specific first.
var (
	transactionIDField = FieldExtractor{
		Key("transaction_id"),
		Path("data.transaction_id"),
		Path("data.id"),
		Path("payload.transaction_id"),
		Path("payload.data.id"),
		Path("payload.data.transaction_id"),
	}
	customerIDField = FieldExtractor{
		Key("customer_id"),
		Path("data.customer_id"),
		Path("data.customer.id"),
		Path("payload.customer_id"),
		Path("payload.data.customer_id"),
	}
	eventTypeField = FieldExtractor{
		Key("event_type"),
		Key("type"),
		Path("payload.event_type"),
		Key("alert_name"),
	}
	eventIDField = FieldExtractor{
		Key("event_id"),
		Key("notification_id"),
		Path("payload.event_id"),
	}
	statusField = FieldExtractor{
		Key("status"),
		Path("data.status"),
		Path("payload.data.status"),
	}
	userIDField = FieldExtractor{
		Path("data.custom_data.user_id"),
		Path("custom_data.user_id"),
		Path("payload.data.custom_data.user_id"),
	}
	emailField = FieldExtractor{
		Path("data.email"),
		Key("email"),
		Path("payload.data.email"),
	}
	createdAtField = FieldExtractor{
		Path("data.created_at"),
		Path("payload.data.created_at"),
	}
	updatedAtField = FieldExtractor{
		Path("data.updated_at"),
		Key("occurred_at"),
		Path("payload.data.updated_at"),
	}
	// Customer objects carry their own id under data.id.
	linkedCustomerIDField = FieldExtractor{
		Key("customer_id"),
		Path("data.id"),
		Path("payload.data.id"),
	}
)

// Payload is a decoded delivery body.
type Payload struct {
	doc map[string]any
}

// ParsePayload decodes raw, keeping numbers exact so numeric ids survive.
// Any JSON document is accepted; one that is not an object carries no fields.
func ParsePayload(raw []byte) (*Payload, error) {
	if !json.Valid(raw) {
		return nil, ErrInvalidPayload
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, ErrInvalidPayload
	}
	doc, _ := v.(map[string]any)
	return &Payload{doc: doc}, nil
}

func (p *Payload) EventID() string       { return eventIDField.Extract(p.doc) }
func (p *Payload) EventType() string     { return eventTypeField.Extract(p.doc) }
func (p *Payload) TransactionID() string { return transactionIDField.Extract(p.doc) }
func (p *Payload) CustomerID() string    { return customerIDField.Extract(p.doc) }
func (p *Payload) Status() string        { return statusField.Extract(p.doc) }
func (p *Payload) UserID() string        { return userIDField.Extract(p.doc) }

func (p *Payload) Email() string {
	return strings.ToLower(emailField.Extract(p.doc))
}

func (p *Payload) LinkedCustomerID() string { return linkedCustomerIDField.Extract(p.doc) }

// CreatedAt and UpdatedAt return the transaction timestamps carried by the
// event, or the zero time.
func (p *Payload) CreatedAt() time.Time { return parseTimestamp(createdAtField.Extract(p.doc)) }
func (p *Payload) UpdatedAt() time.Time { return parseTimestamp(updatedAtField.Extract(p.doc)) }

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
