package filter

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/dhorvath/mailsift/internal/models"
)

// ActionKind discriminates the content filter actions.
type ActionKind int

const (
	ActionStar ActionKind = iota
	ActionFlag
	ActionMove
)

// Action is one content filter action. Target is the destination label for
// ActionMove and empty otherwise.
type Action struct {
	Kind   ActionKind
	Target string
}

func (a Action) String() string {
	switch a.Kind {
	case ActionStar:
		return "Star"
	case ActionFlag:
		return "Flag"
	default:
		return "Move(" + a.Target + ")"
	}
}

// AddressFilter matches address lists against an ordered list of glob
// patterns. An empty pattern list means the field must carry no addresses.
type AddressFilter struct {
	Patterns []string
}

// Matches reports whether any of the emails glob-matches any pattern.
func (f *AddressFilter) Matches(emails []string) bool {
	for _, pat := range f.Patterns {
		for _, email := range emails {
			if matchGlob(pat, email) {
				return true
			}
		}
	}
	return false
}

// LabelsFilter restricts matching by label membership: the message must
// carry at least one included label (when any are configured) and none of
// the excluded ones.
type LabelsFilter struct {
	Included []models.Label
	Excluded []models.Label
}

// MessageFilter is one named content-match rule. Absent clauses impose no
// constraint; configured clauses are all ANDed.
type MessageFilter struct {
	Name    string
	To      *AddressFilter
	Cc      *AddressFilter
	From    *AddressFilter
	Subject []string
	Labels  LabelsFilter
	// Headers maps a canonical header name to glob patterns. Every pair
	// must match (patterns within a pair are ORed).
	Headers map[string][]string
	Actions []Action
}

// Matches reports whether every configured clause holds for msg. It is a
// pure predicate with no side effects.
func (f *MessageFilter) Matches(msg *models.Message) bool {
	if !addressClauseHolds(f.To, msg.To) {
		return false
	}
	if !addressClauseHolds(f.Cc, msg.Cc) {
		return false
	}
	if !addressClauseHolds(f.From, msg.From) {
		return false
	}

	if len(f.Subject) > 0 {
		found := false
		for _, pat := range f.Subject {
			if matchGlob(pat, msg.Subject) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Labels.Included) > 0 && !carriesAny(msg, f.Labels.Included) {
		return false
	}
	if len(f.Labels.Excluded) > 0 && carriesAny(msg, f.Labels.Excluded) {
		return false
	}

	for name, patterns := range f.Headers {
		value, ok := msg.Header(name)
		if !ok {
			return false
		}
		matched := false
		for _, pat := range patterns {
			if matchGlob(pat, value) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// Validate compiles every glob pattern, so malformed filter syntax is
// caught at configuration load time rather than mid-run.
func (f *MessageFilter) Validate() error {
	for _, af := range []*AddressFilter{f.To, f.Cc, f.From} {
		if af == nil {
			continue
		}
		if err := compilePatterns(af.Patterns); err != nil {
			return fmt.Errorf("filter %q: %w", f.Name, err)
		}
	}
	if err := compilePatterns(f.Subject); err != nil {
		return fmt.Errorf("filter %q subject: %w", f.Name, err)
	}
	for name, patterns := range f.Headers {
		if err := compilePatterns(patterns); err != nil {
			return fmt.Errorf("filter %q header %q: %w", f.Name, name, err)
		}
	}
	if len(f.Actions) == 0 {
		return fmt.Errorf("filter %q has no actions", f.Name)
	}
	return nil
}

func addressClauseHolds(af *AddressFilter, addrs []models.Address) bool {
	if af == nil {
		return true
	}
	emails := make([]string, 0, len(addrs))
	for _, a := range addrs {
		emails = append(emails, a.Email)
	}
	// An empty pattern list requires the field to be empty.
	if len(af.Patterns) == 0 {
		return len(emails) == 0
	}
	return af.Matches(emails)
}

func carriesAny(msg *models.Message, labels []models.Label) bool {
	for _, l := range labels {
		if msg.HasLabel(l) {
			return true
		}
	}
	return false
}

// globCache memoizes compiled patterns. The run is single-threaded by
// construction, so no locking is needed; patterns reaching this point have
// already been validated at load time.
var globCache = map[string]glob.Glob{}

func matchGlob(pattern, s string) bool {
	g, ok := globCache[pattern]
	if !ok {
		g = glob.MustCompile(pattern)
		globCache[pattern] = g
	}
	return g.Match(s)
}

func compilePatterns(patterns []string) error {
	for _, pat := range patterns {
		g, err := glob.Compile(pat)
		if err != nil {
			return fmt.Errorf("invalid glob %q: %w", pat, err)
		}
		globCache[pat] = g
	}
	return nil
}
