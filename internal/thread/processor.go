package thread

import (
	"log/slog"

	"github.com/dhorvath/mailsift/internal/filter"
	"github.com/dhorvath/mailsift/internal/models"
)

// Applier performs a single remote mutation for one message. The engine
// implements it over the mailbox and the retry executor; tests substitute
// recording fakes.
type Applier interface {
	ApplyFilterAction(msg *models.Message, action filter.Action) error
	ApplyStateAction(msg *models.Message, action filter.StateAction) error
}

// Processor applies one decision atomically across an entire thread.
type Processor struct {
	Threads *Map
	Applier Applier
	Clock   filter.Clock
	Log     *slog.Logger
	// Nerf forces dry-run behavior for every state filter.
	Nerf bool
}

// ApplyContentAction applies a content filter action to the whole thread
// msg belongs to, or to msg alone when it is unthreaded. A content match
// on one message is treated as relevant to the entire conversation.
//
// It returns the messages acted upon so the caller can drop them from the
// working set. On a mutation failure the partial result is returned along
// with the error.
func (p *Processor) ApplyContentAction(msg *models.Message, action filter.Action) ([]*models.Message, error) {
	targets := p.members(msg)

	var processed []*models.Message
	for _, target := range targets {
		if err := p.Applier.ApplyFilterAction(target, action); err != nil {
			return processed, err
		}
		processed = append(processed, target)
	}
	return processed, nil
}

// ApplyRetentionAction evaluates the state filter's TTL against the NEWEST
// message in msg's thread and, only when that evaluation reports expiry,
// applies the filter's action to every thread member. An active thread is
// never pruned just because its oldest message is stale.
//
// The returned slice is empty when the thread has not expired. A malformed
// timestamp on the governing message is logged and skips the thread rather
// than aborting the run.
func (p *Processor) ApplyRetentionAction(msg *models.Message, sf *filter.StateFilter) ([]*models.Message, error) {
	targets := p.members(msg)
	newest := newestOf(targets)

	action, err := sf.EvaluateTTL(newest, p.Clock.Now())
	if err != nil {
		p.Log.Warn("skipping thread with unusable timestamp",
			"state", sf.Name, "uid", newest.UID, "error", err)
		return nil, nil
	}
	if action == nil {
		return nil, nil
	}

	nerfed := p.Nerf || sf.Nerf
	var processed []*models.Message
	for _, target := range targets {
		if nerfed {
			p.Log.Info("nerf: would apply action",
				"state", sf.Name, "uid", target.UID, "action", action.String())
			processed = append(processed, target)
			continue
		}
		if err := p.Applier.ApplyStateAction(target, *action); err != nil {
			return processed, err
		}
		processed = append(processed, target)
	}
	return processed, nil
}

// Members returns the thread members of msg, or msg alone when it belongs
// to no thread.
func (p *Processor) Members(msg *models.Message) []*models.Message {
	return p.members(msg)
}

func (p *Processor) members(msg *models.Message) []*models.Message {
	if _, members, ok := p.Threads.Of(msg); ok {
		return members
	}
	return []*models.Message{msg}
}

// newestOf picks the thread member with the latest timestamp; UID breaks
// ties so the choice is stable.
func newestOf(msgs []*models.Message) *models.Message {
	newest := msgs[0]
	for _, m := range msgs[1:] {
		if m.Date.After(newest.Date) || (m.Date.Equal(newest.Date) && m.UID > newest.UID) {
			newest = m
		}
	}
	return newest
}
