package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dhorvath/mailsift/internal/models"
)

// ErrMalformedTimestamp is returned by EvaluateTTL when a message carries
// no usable server timestamp.
var ErrMalformedTimestamp = errors.New("malformed message timestamp")

// TTLKind discriminates the retention policies.
type TTLKind int

const (
	// TTLKeep never expires.
	TTLKeep TTLKind = iota
	// TTLDays expires after a single age threshold.
	TTLDays
	// TTLDetailed applies separate thresholds for read and unread messages.
	TTLDetailed
)

// TTL is a retention policy.
type TTL struct {
	Kind   TTLKind
	Days   time.Duration // TTLDays threshold
	Read   time.Duration // TTLDetailed threshold for seen messages
	Unread time.Duration // TTLDetailed threshold for unseen messages
}

func (t TTL) String() string {
	switch t.Kind {
	case TTLKeep:
		return "Keep"
	case TTLDays:
		return formatDays(t.Days)
	default:
		return fmt.Sprintf("{read: %s, unread: %s}", formatDays(t.Read), formatDays(t.Unread))
	}
}

// StateActionKind discriminates the retention actions.
type StateActionKind int

const (
	StateMove StateActionKind = iota
	StateDelete
)

// StateAction is the action a state filter applies on expiry.
type StateAction struct {
	Kind   StateActionKind
	Target string // destination label for StateMove
}

func (a StateAction) String() string {
	if a.Kind == StateDelete {
		return "Delete"
	}
	return "Move(" + a.Target + ")"
}

// StateFilter is one named retention rule. An empty label set matches every
// message. Nerf marks the rule as dry-run: evaluation proceeds normally but
// the action is only logged.
type StateFilter struct {
	Name   string
	Labels []models.Label
	TTL    TTL
	Action StateAction
	Nerf   bool
}

// Matches reports whether msg participates in this rule: true when the
// label set is empty or intersects the message's labels.
func (sf *StateFilter) Matches(msg *models.Message) bool {
	if len(sf.Labels) == 0 {
		return true
	}
	for _, l := range sf.Labels {
		if msg.HasLabel(l) {
			return true
		}
	}
	return false
}

// Validate rejects rules whose expiry could not be acted on: a move with
// no destination, or a detailed TTL missing one of its thresholds.
func (sf *StateFilter) Validate() error {
	switch sf.TTL.Kind {
	case TTLKeep:
		return nil
	case TTLDetailed:
		if sf.TTL.Read <= 0 || sf.TTL.Unread <= 0 {
			return fmt.Errorf("detailed ttl requires both read and unread thresholds")
		}
	}
	if sf.Action.Kind == StateMove && sf.Action.Target == "" {
		return fmt.Errorf("move action requires a destination label")
	}
	return nil
}

// EvaluateTTL resolves the retention policy for msg at the given instant.
// It returns the action to apply when the TTL has expired, nil otherwise.
// A message without a valid timestamp fails with ErrMalformedTimestamp;
// callers are expected to have validated timestamps at fetch time.
func (sf *StateFilter) EvaluateTTL(msg *models.Message, now time.Time) (*StateAction, error) {
	if msg.Date.IsZero() {
		return nil, fmt.Errorf("uid %d: %w", msg.UID, ErrMalformedTimestamp)
	}
	age := now.Sub(msg.Date)

	var threshold time.Duration
	switch sf.TTL.Kind {
	case TTLKeep:
		return nil, nil
	case TTLDays:
		threshold = sf.TTL.Days
	case TTLDetailed:
		if msg.IsRead() {
			threshold = sf.TTL.Read
		} else {
			threshold = sf.TTL.Unread
		}
	}

	if age >= threshold {
		action := sf.Action
		return &action, nil
	}
	return nil, nil
}

// ParseDays parses a duration of the form "<n>d" into a time.Duration.
func ParseDays(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	num, ok := strings.CutSuffix(s, "d")
	if !ok || num == "" {
		return 0, fmt.Errorf("unsupported TTL format %q; expected \"<n>d\"", s)
	}
	days, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("invalid TTL duration %q: %w", s, err)
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

func formatDays(d time.Duration) string {
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
