// Package backoff implements the Backoff Controller (spec §4.2, C2): a
// central per-venue error/pause state machine shared by every venue session
// and read by any execution consumer before issuing orders. It is the one
// object in the system that multiple venue sessions mutate concurrently
// (spec §5 "Shared-resource policy").
package backoff

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrorKind classifies a business error by substring match on its code or
// message (spec §4.2 register_error).
type ErrorKind string

const (
	ErrorInvalidNonce       ErrorKind = "INVALID_NONCE"
	ErrorRateLimitGlobal    ErrorKind = "RATE_LIMIT_GLOBAL"
	ErrorRateLimitPerAccount ErrorKind = "RATE_LIMIT_PER_ACCOUNT"
)

const (
	baseBackoff    = 120 * time.Second
	backoffMult    = 2.0
	maxBackoff     = 3600 * time.Second
	errorResetAfter = 30 * time.Minute
	restartHookMinGap = 30 * time.Second
)

// RestartHook is invoked at most once per 30s per venue when an
// INVALID_NONCE error arrives, so the venue's session can rebuild itself
// without disturbing unrelated venues (spec §4.2 set_restart_hook).
type RestartHook func()

type venueState struct {
	mu sync.Mutex

	lastErrorKind  ErrorKind
	errorCount     int
	lastErrorTime  time.Time
	pauseUntil     time.Time
	pauseDuration  time.Duration
	recoveryLogged bool

	restartHook     RestartHook
	lastRestartTime time.Time
}

// PauseInfo is the (reason, remaining, pause-until) tuple returned by
// PauseInfo (spec §4.2 pause_info).
type PauseInfo struct {
	Reason    string
	Remaining time.Duration
	PauseUntil time.Time
}

// Controller is the thread-safe, process-wide Backoff Controller.
type Controller struct {
	log zerolog.Logger

	mu     sync.RWMutex
	venues map[string]*venueState

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// New creates an empty Backoff Controller.
func New(log zerolog.Logger) *Controller {
	return &Controller{
		log:    log,
		venues: map[string]*venueState{},
		now:    time.Now,
	}
}

func (c *Controller) state(venue string) *venueState {
	c.mu.RLock()
	st, ok := c.venues[venue]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.venues[venue]; ok {
		return st
	}
	st = &venueState{}
	c.venues[venue] = st
	return st
}

// classify maps an error code/message to an ErrorKind by substring match
// (spec §4.2 and the original error_backoff_controller.py _parse_error_type).
func classify(code, message string) (ErrorKind, bool) {
	haystack := code + " " + message
	switch {
	case strings.Contains(haystack, "21104"):
		return ErrorInvalidNonce, true
	case strings.Contains(haystack, "429"):
		return ErrorRateLimitGlobal, true
	case strings.Contains(haystack, "23000"), strings.Contains(strings.ToLower(haystack), "too many requests"):
		return ErrorRateLimitPerAccount, true
	default:
		return "", false
	}
}

// RegisterError classifies the error and updates the venue's backoff state
// per the exponential-backoff algorithm in spec §4.2 / P4. Unclassifiable
// errors are ignored entirely — they never touch the pause state.
func (c *Controller) RegisterError(venue, code, message string) {
	kind, ok := classify(code, message)
	if !ok {
		return
	}

	st := c.state(venue)
	st.mu.Lock()

	now := c.now()
	if st.lastErrorTime.IsZero() || now.Sub(st.lastErrorTime) > errorResetAfter {
		st.errorCount = 1
	} else {
		st.errorCount++
	}
	st.lastErrorKind = kind
	st.lastErrorTime = now

	duration := time.Duration(float64(baseBackoff) * pow(backoffMult, float64(st.errorCount-1)))
	if duration > maxBackoff {
		duration = maxBackoff
	}
	st.pauseDuration = duration
	st.pauseUntil = now.Add(duration)
	st.recoveryLogged = false

	count := st.errorCount
	hook := st.restartHook
	var fireHook bool
	if kind == ErrorInvalidNonce && hook != nil {
		if now.Sub(st.lastRestartTime) >= restartHookMinGap {
			st.lastRestartTime = now
			fireHook = true
		}
	}
	st.mu.Unlock()

	c.log.Warn().
		Str("venue", venue).
		Str("error_kind", string(kind)).
		Int("error_count", count).
		Dur("pause_duration", duration).
		Msg("backoff: registered error, pausing outbound orders")

	// The controller holds no lock during hook invocation (spec §4.2
	// thread-safety contract).
	if fireHook {
		hook()
	}
}

// IsPaused reports whether the venue is currently paused. Emits a single
// recovery log line, guarded by recoveryLogged, the first time the pause
// has expired (spec §4.2, P4).
func (c *Controller) IsPaused(venue string) bool {
	st := c.state(venue)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pauseUntil.IsZero() {
		return false
	}

	now := c.now()
	if now.Before(st.pauseUntil) {
		return true
	}

	if !st.recoveryLogged {
		st.recoveryLogged = true
		kind, count := st.lastErrorKind, st.errorCount
		c.log.Info().
			Str("venue", venue).
			Str("error_kind", string(kind)).
			Int("error_count", count).
			Msg("backoff: pause expired, resuming normal operation")
	}
	return false
}

// PauseInfo returns the current pause details, or false if not paused.
func (c *Controller) PauseInfo(venue string) (PauseInfo, bool) {
	st := c.state(venue)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := c.now()
	if st.pauseUntil.IsZero() || !now.Before(st.pauseUntil) {
		return PauseInfo{}, false
	}

	return PauseInfo{
		Reason:     string(st.lastErrorKind),
		Remaining:  st.pauseUntil.Sub(now),
		PauseUntil: st.pauseUntil,
	}, true
}

// Reset clears a venue's backoff state entirely.
func (c *Controller) Reset(venue string) {
	st := c.state(venue)
	st.mu.Lock()
	defer st.mu.Unlock()
	*st = venueState{restartHook: st.restartHook}
}

// SetRestartHook registers the hook invoked on INVALID_NONCE, throttled to
// at most once per 30s per venue (spec §4.2 set_restart_hook).
func (c *Controller) SetRestartHook(venue string, hook RestartHook) {
	st := c.state(venue)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.restartHook = hook
}

func pow(base, exp float64) float64 {
	result := 1.0
	// exp is always a small non-negative integer here (error count - 1),
	// so a simple loop avoids pulling in math.Pow's float edge cases.
	n := int(exp)
	for i := 0; i < n; i++ {
		result *= base
	}
	return result
}

