// Package retry wraps remote mailbox mutations with error classification
// and bounded exponential backoff.
package retry

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind classifies a remote mailbox error. Classification is derived from
// substrings of the lower-level error text; servers rarely return
// structured codes, so this is acknowledged heuristic matching.
type Kind int

const (
	Unknown Kind = iota
	// RateLimit means the server throttled us; retried with backoff.
	RateLimit
	// Transient means a temporary server-side fault; retried with backoff.
	Transient
	// ConnectionLost means the link dropped; a reconnect is required.
	ConnectionLost
	// MessageNotFound means the target no longer exists (e.g. expunged).
	MessageNotFound
	// Permanent means retrying cannot help.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case RateLimit:
		return "RATE_LIMITED"
	case Transient:
		return "TRANSIENT_ERROR"
	case ConnectionLost:
		return "CONNECTION_LOST"
	case MessageNotFound:
		return "MESSAGE_NOT_FOUND"
	case Permanent:
		return "PERMANENT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether an operation failing with this kind should be
// attempted again.
func (k Kind) Retryable() bool {
	return k == RateLimit || k == Transient
}

// Classify maps an error to its Kind by substring matching.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	text := strings.ToLower(err.Error())

	switch {
	case containsAny(text, "too many", "rate", "throttl", "quota", "try again later"):
		return RateLimit
	case containsAny(text, "system error", "temporary", "try again", "service unavailable", "internal error"):
		return Transient
	case containsAny(text, "connection", "disconnected", "broken pipe", "reset by peer", "timed out", "eof"):
		return ConnectionLost
	case containsAny(text, "no such message", "not found", "nonexistent", "expunged"):
		return MessageNotFound
	case containsAny(text, "permission denied", "invalid", "not supported"):
		return Permanent
	default:
		return Unknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// OpError is the structured terminal error produced when an operation
// exhausts its retries or fails with a non-retryable classification.
type OpError struct {
	Op       string
	UID      uint32
	Attempts int
	Kind     Kind
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed for UID %d after %d attempts: [%s] %v",
		e.Op, e.UID, e.Attempts, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 1000 * time.Millisecond
)

// Executor runs remote mutations with retry. Backoff doubles after each
// failed attempt (1000, 2000, 4000 ms ...) and blocks the calling
// goroutine; throughput is not a design goal here.
type Executor struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// Sleep is injectable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
	Log   *slog.Logger
}

// NewExecutor returns an Executor with the default policy: 3 attempts,
// 1 second initial backoff.
func NewExecutor(log *slog.Logger) *Executor {
	return &Executor{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		Sleep:          time.Sleep,
		Log:            log,
	}
}

// Do runs fn, retrying on RateLimit and Transient classifications. On
// exhaustion or a non-retryable failure it returns an *OpError carrying
// the operation name, target UID, attempt count, and classification.
func (e *Executor) Do(op string, uid uint32, fn func() error) error {
	backoff := e.InitialBackoff
	sleep := e.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	attempt := 0
	for {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}

		kind := Classify(err)
		e.Log.Warn("mailbox operation failed",
			"op", op, "uid", uid, "kind", kind.String(),
			"attempt", attempt, "max_attempts", e.MaxAttempts, "error", err)

		if !kind.Retryable() || attempt >= e.MaxAttempts {
			return &OpError{Op: op, UID: uid, Attempts: attempt, Kind: kind, Err: err}
		}

		if kind == RateLimit {
			e.Log.Warn("rate limited; backing off", "op", op, "uid", uid, "backoff", backoff)
		}
		sleep(backoff)
		backoff *= 2
	}
}
