// Package iphash turns client addresses into salted one-way tokens so that
// signup throttling never stores a raw IP.
package iphash

import (
	"encoding/hex"
	"net"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes keyed BLAKE2b-256 digests of normalized IP addresses.
type Hasher struct {
	key []byte
}

// New returns a Hasher keyed with salt. BLAKE2b accepts keys of at most 64
// bytes; longer salts are digested down to 32 bytes first.
func New(salt string) *Hasher {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Hasher{key: key}
}

// Hash returns the hex digest of ip, or "" when ip is empty. IPv4-mapped IPv6
// and textual variants of the same address hash identically. Strings that do
// not parse as an IP are hashed as given, lowercased.
func (h *Hasher) Hash(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	normalized := strings.ToLower(ip)
	if parsed := net.ParseIP(ip); parsed != nil {
		normalized = parsed.String()
	}

	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Unreachable: New bounds the key length.
		panic(err)
	}
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}
