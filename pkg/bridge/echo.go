// Copyright 2024-2026 Aiku AI

package bridge

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultEchoTTL bounds how long a sent message ID stays in the echo
// set waiting for its gateway echo to come back.
const DefaultEchoTTL = 10 * time.Minute

// DefaultEchoCapacity bounds the echo set size; the oldest pending ID
// is evicted when the bridge outpaces the gateway this badly.
const DefaultEchoCapacity = 4096

// EchoTracker remembers the IDs of messages the bridge itself sent to
// Discord so the matching inbound gateway events can be discarded
// instead of bridged back to Matrix.
type EchoTracker struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewEchoTracker creates a tracker. Non-positive arguments select the
// defaults.
func NewEchoTracker(ttl time.Duration, capacity int) *EchoTracker {
	if ttl <= 0 {
		ttl = DefaultEchoTTL
	}
	if capacity <= 0 {
		capacity = DefaultEchoCapacity
	}
	return &EchoTracker{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](ttl),
			ttlcache.WithCapacity[string, struct{}](uint64(capacity)),
		),
	}
}

// Start launches the expiry loop. Pair with Stop.
func (t *EchoTracker) Start() {
	go t.cache.Start()
}

// Stop halts the expiry loop.
func (t *EchoTracker) Stop() {
	t.cache.Stop()
}

// Add records a message ID as a pending echo.
func (t *EchoTracker) Add(messageID string) {
	t.cache.Set(messageID, struct{}{}, ttlcache.DefaultTTL)
}

// Observe reports whether the given inbound message ID is a pending
// echo, consuming it on a match. A second event with the same ID is
// therefore not treated as an echo.
func (t *EchoTracker) Observe(messageID string) bool {
	_, present := t.cache.GetAndDelete(messageID)
	return present
}

// Len returns the number of pending echoes.
func (t *EchoTracker) Len() int {
	return t.cache.Len()
}
