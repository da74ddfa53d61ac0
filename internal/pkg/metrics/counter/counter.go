// Package counter keeps running allocation tallies in a Redis hash. Counters
// are observational: every write is best-effort and never fails a request.
package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	allocationsKey = "leadvault:counters:allocations"
	defaultAddTimeout = 200 * time.Millisecond
)

// Field names written by the allocators.
const (
	FulfillmentGranted          = "fulfillment.granted"
	FulfillmentLeads            = "fulfillment.leads"
	FulfillmentAlreadyFulfilled = "fulfillment.already_fulfilled"
	FulfillmentInsufficient     = "fulfillment.insufficient_inventory"
	SignupGranted               = "signup.granted"
	SignupLeads                 = "signup.leads"
	SignupDeniedPrefix          = "signup.denied."
	BackfillGranted             = "backfill.granted"
	BackfillLeads               = "backfill.leads"
	WebhookReceived             = "webhook.received"
	WebhookDuplicate            = "webhook.duplicate"
	WebhookRejected             = "webhook.rejected"
)

// Recorder increments named counters and reads them back.
type Recorder interface {
	Add(ctx context.Context, field string, n int64)
	Snapshot(ctx context.Context) (map[string]int64, error)
}

type RedisRecorder struct {
	client     *redis.Client
	addTimeout time.Duration
}

func NewRedisRecorder(client *redis.Client) *RedisRecorder {
	return &RedisRecorder{client: client, addTimeout: defaultAddTimeout}
}

// Add increments field by n. Errors are swallowed.
func (r *RedisRecorder) Add(ctx context.Context, field string, n int64) {
	if n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.addTimeout)
	defer cancel()
	_ = r.client.HIncrBy(ctx, allocationsKey, field, n).Err()
}

func (r *RedisRecorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, allocationsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Nop discards every increment.
type Nop struct{}

func (Nop) Add(context.Context, string, int64) {}

func (Nop) Snapshot(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}
