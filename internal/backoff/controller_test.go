package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/logging"
)

// fakeClock lets tests drive time.Now() deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestController(clock *fakeClock) *Controller {
	c := New(logging.Nop())
	c.now = clock.now
	return c
}

func TestRegisterError_UnclassifiedCodeIsIgnored(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	c.RegisterError("edgex", "40001", "bad request")

	assert.False(t, c.IsPaused("edgex"))
}

func TestBackoff_ExponentialScheduleMatchesSeedScenario(t *testing.T) {
	// Seed scenario §8.3: three 21104 errors five minutes apart pause for
	// +120s, +240s, +480s respectively from the error time.
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	c.RegisterError("lighter", "21104", "invalid nonce")
	info, ok := c.PauseInfo("lighter")
	require.True(t, ok)
	assert.InDelta(t, 120*time.Second, info.Remaining, float64(time.Second))

	clock.advance(5 * time.Minute)
	c.RegisterError("lighter", "21104", "invalid nonce")
	info, ok = c.PauseInfo("lighter")
	require.True(t, ok)
	assert.InDelta(t, 240*time.Second, info.Remaining, float64(time.Second))

	clock.advance(5 * time.Minute)
	c.RegisterError("lighter", "21104", "invalid nonce")
	info, ok = c.PauseInfo("lighter")
	require.True(t, ok)
	assert.InDelta(t, 480*time.Second, info.Remaining, float64(time.Second))
}

func TestBackoff_ResetsAfterQuietWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	c.RegisterError("lighter", "21104", "invalid nonce")
	c.RegisterError("lighter", "21104", "invalid nonce")

	// A 40-minute quiet gap exceeds the 30-minute reset window.
	clock.advance(40 * time.Minute)
	c.RegisterError("lighter", "21104", "invalid nonce")

	info, ok := c.PauseInfo("lighter")
	require.True(t, ok)
	assert.InDelta(t, 120*time.Second, info.Remaining, float64(time.Second))
}

func TestBackoff_CapsAtMaxBackoff(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	for i := 0; i < 10; i++ {
		c.RegisterError("edgex", "429", "rate limited")
		clock.advance(time.Second) // stay well inside the 30-minute window
	}

	info, ok := c.PauseInfo("edgex")
	require.True(t, ok)
	assert.LessOrEqual(t, info.Remaining, maxBackoff)
}

func TestIsPaused_RecoveryLoggedOnlyOnce(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	c.RegisterError("edgex", "429", "rate limited")
	assert.True(t, c.IsPaused("edgex"))

	clock.advance(121 * time.Second)
	assert.False(t, c.IsPaused("edgex"))
	// Second call after expiry must stay silent / not panic and keep
	// returning false; recoveryLogged suppresses a duplicate log line.
	assert.False(t, c.IsPaused("edgex"))
}

func TestRestartHook_FiresOnInvalidNonceThrottled(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	fired := 0
	c.SetRestartHook("lighter", func() { fired++ })

	c.RegisterError("lighter", "21104", "invalid nonce")
	assert.Equal(t, 1, fired)

	// Within 30s: suppressed.
	clock.advance(10 * time.Second)
	c.RegisterError("lighter", "21104", "invalid nonce")
	assert.Equal(t, 1, fired)

	// After 30s: fires again.
	clock.advance(25 * time.Second)
	c.RegisterError("lighter", "21104", "invalid nonce")
	assert.Equal(t, 2, fired)
}

func TestRestartHook_DoesNotFireForOtherVenues(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	fired := 0
	c.SetRestartHook("lighter", func() { fired++ })

	c.RegisterError("edgex", "21104", "invalid nonce")
	assert.Equal(t, 0, fired)
}

func TestReset_ClearsState(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newTestController(clock)

	c.RegisterError("edgex", "429", "rate limited")
	require.True(t, c.IsPaused("edgex"))

	c.Reset("edgex")
	assert.False(t, c.IsPaused("edgex"))
}
