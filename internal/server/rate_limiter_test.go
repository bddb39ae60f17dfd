package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestRateLimiterBurstThenRefill(t *testing.T) {
	r := require.New(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(10, 10*time.Second, clock.Now)

	for i := range 10 {
		r.True(rl.allow(), "message %d", i)
	}
	r.False(rl.allow())

	clock.Advance(time.Second)
	r.True(rl.allow())
	r.False(rl.allow())

	clock.Advance(time.Minute)
	for range 10 {
		r.True(rl.allow())
	}
	r.False(rl.allow(), "refill must cap at capacity")
}

func TestRateLimiterSanitizesArguments(t *testing.T) {
	r := require.New(t)
	clock := &fakeClock{now: time.Unix(0, 0)}
	rl := newRateLimiter(0, 0, clock.Now)

	r.True(rl.allow())
	r.False(rl.allow())
	clock.Advance(time.Second)
	r.True(rl.allow())
}

func TestUserLimitersShareBudgetPerUser(t *testing.T) {
	r := require.New(t)
	clock := &fakeClock{now: time.Unix(0, 0)}
	limits := newUserLimiters(RateLimitConfig{Burst: 2, RefillInterval: time.Minute}, clock.Now)

	r.True(limits.allow("alice"))
	r.True(limits.allow("alice"))
	r.False(limits.allow("alice"))

	r.True(limits.allow("bob"), "other users keep their own budget")
}
