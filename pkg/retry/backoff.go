// Package retry provides deterministic backoff and the single-retry helper
// used against external rendering services.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds the wait before a retry.
type Policy struct {
	Name      string
	Base      time.Duration
	Max       time.Duration
	MaxJitter time.Duration
}

// Key identifies one external call. It seeds the jitter, so a replayed run
// waits exactly as long as the first run did.
type Key struct {
	Backend string
	Op      string
	RunID   string
	Attempt int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", k.Backend, k.Op, k.Attempt, k.RunID)
}

// DefaultPolicy is used for the one retry allowed per external call.
var DefaultPolicy = Policy{
	Name:      "single-retry",
	Base:      500 * time.Millisecond,
	Max:       5 * time.Second,
	MaxJitter: 250 * time.Millisecond,
}

// Delay is Base doubled per prior attempt, capped at Max, plus jitter.
func (p Policy) Delay(k Key) time.Duration {
	d := p.Base
	for i := 0; i < k.Attempt && (p.Max <= 0 || d < p.Max); i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d + p.Jitter(k)
}

// Jitter is in [0, MaxJitter) and depends only on the policy name and key.
func (p Policy) Jitter(k Key) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(p.Name + "|" + k.String()))
	n := binary.BigEndian.Uint64(sum[:8]) % uint64(p.MaxJitter) //nolint:gosec // MaxJitter checked positive
	return time.Duration(n)
}
