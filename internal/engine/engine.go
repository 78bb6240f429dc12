// Package engine runs the two-phase filter pipeline over a mailbox:
// content filters first, then retention filters, both applied
// thread-consistently through the retry executor.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/dhorvath/mailsift/internal/filter"
	"github.com/dhorvath/mailsift/internal/mailbox"
	"github.com/dhorvath/mailsift/internal/models"
	"github.com/dhorvath/mailsift/internal/retry"
	"github.com/dhorvath/mailsift/internal/thread"
)

const (
	starFlag      = "\\Flagged"
	importantFlag = "\\Important"
	deletedFlag   = "\\Deleted"
)

// Service orchestrates one filter cycle. It owns the working set and the
// thread map exclusively for the duration of a run; everything is
// single-threaded and blocking by design.
type Service struct {
	Mailbox mailbox.Mailbox
	Retry   *retry.Executor
	Clock   filter.Clock
	Log     *slog.Logger

	MessageFilters []*filter.MessageFilter
	StateFilters   []*filter.StateFilter

	// Folder is the mailbox folder to process. Defaults to INBOX.
	Folder string
	// Nerf forces dry-run behavior for every action in the run.
	Nerf bool
}

// New returns a Service with the default retry policy and the real clock.
func New(mb mailbox.Mailbox, messageFilters []*filter.MessageFilter, stateFilters []*filter.StateFilter, log *slog.Logger) *Service {
	return &Service{
		Mailbox:        mb,
		Retry:          retry.NewExecutor(log),
		Clock:          filter.RealClock{},
		Log:            log,
		MessageFilters: messageFilters,
		StateFilters:   stateFilters,
		Folder:         "INBOX",
	}
}

// Run executes one full cycle: fetch, thread reconstruction, Phase 1
// (content filters), Phase 2 (retention filters). The thread map is
// rebuilt from scratch; nothing survives between runs.
func (s *Service) Run() error {
	messages, err := s.fetchMessages()
	if err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}
	s.Log.Info("fetched messages", "folder", s.Folder, "count", len(messages))

	threads := thread.Build(messages)
	s.Log.Debug("built thread map", "threads", threads.Len())

	proc := &thread.Processor{
		Threads: threads,
		Applier: s,
		Clock:   s.Clock,
		Log:     s.Log,
		Nerf:    s.Nerf,
	}

	working := append([]*models.Message(nil), messages...)
	working = s.runMessageFilters(working, proc)
	working = s.runStateFilters(working, proc)

	s.Log.Info("run complete", "untouched", len(working))
	return nil
}

func (s *Service) fetchMessages() ([]*models.Message, error) {
	if err := s.Mailbox.Select(s.Folder); err != nil {
		return nil, err
	}
	seqs, err := s.Mailbox.Search("ALL")
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	records, err := s.Mailbox.Fetch(seqs)
	if err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(records))
	for _, rec := range records {
		msg, err := models.NewMessage(rec.UID, rec.Seq, rec.RawHeader, rec.Flags, rec.InternalDate, rec.ProviderThreadID)
		if err != nil {
			s.Log.Warn("skipping unparseable message", "uid", rec.UID, "error", err)
			continue
		}
		if msg.HasNoAddresses() {
			// Structural defect; the message stays in the run but is
			// excluded from content scoring.
			s.Log.Error("message has no address fields", "uid", rec.UID)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// runMessageFilters is Phase 1: the first matching filter's first action is
// applied across the matched message's whole thread, and everything acted
// upon leaves the working set. The index only advances when nothing
// matched, since removal shifts the set under the current position.
func (s *Service) runMessageFilters(working []*models.Message, proc *thread.Processor) []*models.Message {
	s.Log.Info("phase 1: content filters", "filters", len(s.MessageFilters))

	i := 0
	for i < len(working) {
		msg := working[i]
		if msg.HasNoAddresses() {
			i++
			continue
		}

		matched := s.firstMessageFilter(msg)
		if matched == nil {
			i++
			continue
		}
		action := matched.Actions[0]

		processed, err := proc.ApplyContentAction(msg, action)
		if err != nil {
			// Fatal for this thread only; the run keeps going.
			s.Log.Error("abandoning thread after mutation failure",
				"filter", matched.Name, "uid", msg.UID, "error", err)
			processed = proc.Members(msg)
		}
		s.Log.Info("filter matched",
			"filter", matched.Name, "uids", uidsOf(processed),
			"action", action.String(), "nerf", s.Nerf)
		working = removeAll(working, processed)
	}
	return working
}

// runStateFilters is Phase 2: the first matching state filter governs each
// remaining message. Keep protects the message's entire thread; otherwise
// the thread expires only when its newest member has outlived the TTL.
func (s *Service) runStateFilters(working []*models.Message, proc *thread.Processor) []*models.Message {
	s.Log.Info("phase 2: retention filters", "filters", len(s.StateFilters))

	i := 0
	for i < len(working) {
		msg := working[i]

		matched := s.firstStateFilter(msg)
		if matched == nil {
			i++
			continue
		}

		if matched.TTL.Kind == filter.TTLKeep {
			protected := proc.Members(msg)
			s.Log.Debug("keep state protects thread",
				"state", matched.Name, "uids", uidsOf(protected))
			working = removeAll(working, protected)
			continue
		}

		processed, err := proc.ApplyRetentionAction(msg, matched)
		if err != nil {
			s.Log.Error("abandoning thread after mutation failure",
				"state", matched.Name, "uid", msg.UID, "error", err)
			working = removeAll(working, proc.Members(msg))
			continue
		}
		if len(processed) == 0 {
			i++
			continue
		}
		s.Log.Info("state expired",
			"state", matched.Name, "uids", uidsOf(processed),
			"action", matched.Action.String(), "nerf", s.Nerf || matched.Nerf)
		working = removeAll(working, processed)
	}
	return working
}

func (s *Service) firstMessageFilter(msg *models.Message) *filter.MessageFilter {
	for _, mf := range s.MessageFilters {
		if len(mf.Actions) > 0 && mf.Matches(msg) {
			return mf
		}
	}
	return nil
}

func (s *Service) firstStateFilter(msg *models.Message) *filter.StateFilter {
	for _, sf := range s.StateFilters {
		if sf.Matches(msg) {
			return sf
		}
	}
	return nil
}

// ApplyFilterAction performs one content filter mutation for one message.
func (s *Service) ApplyFilterAction(msg *models.Message, action filter.Action) error {
	switch action.Kind {
	case filter.ActionStar:
		s.Log.Info("starring message", "uid", msg.UID, "from", msg.SenderDisplay(), "subject", msg.Subject)
		return s.addFlag(msg, starFlag, "star")
	case filter.ActionFlag:
		s.Log.Info("flagging message", "uid", msg.UID, "from", msg.SenderDisplay(), "subject", msg.Subject)
		return s.addFlag(msg, importantFlag, "flag")
	case filter.ActionMove:
		s.Log.Info("moving message", "uid", msg.UID, "from", msg.SenderDisplay(),
			"dest", action.Target, "subject", msg.Subject)
		return s.move(msg, action.Target)
	}
	return nil
}

// ApplyStateAction performs one retention mutation for one message.
func (s *Service) ApplyStateAction(msg *models.Message, action filter.StateAction) error {
	switch action.Kind {
	case filter.StateDelete:
		s.Log.Info("deleting message", "uid", msg.UID, "from", msg.SenderDisplay(), "subject", msg.Subject)
		return s.Retry.Do("delete", msg.UID, func() error {
			return s.Mailbox.Store(msg.UID, mailbox.LabelDelta{Add: []string{deletedFlag}})
		})
	case filter.StateMove:
		s.Log.Info("moving message", "uid", msg.UID, "from", msg.SenderDisplay(),
			"dest", action.Target, "subject", msg.Subject)
		return s.move(msg, action.Target)
	}
	return nil
}

func (s *Service) addFlag(msg *models.Message, flag, op string) error {
	// Re-adding a present label is a no-op; skip the round trip.
	if msg.HasLabel(models.NewLabel(flag)) {
		s.Log.Debug("label already present", "uid", msg.UID, "flag", flag)
		return nil
	}
	if s.Nerf {
		s.Log.Info("nerf: would apply action", "op", op, "uid", msg.UID)
		return nil
	}
	return s.Retry.Do(op, msg.UID, func() error {
		return s.Mailbox.Store(msg.UID, mailbox.LabelDelta{Add: []string{flag}})
	})
}

func (s *Service) move(msg *models.Message, dest string) error {
	if s.Nerf {
		s.Log.Info("nerf: would apply action", "op", "move", "uid", msg.UID, "dest", dest)
		return nil
	}
	if err := s.ensureLabel(dest); err != nil {
		return err
	}
	return s.Retry.Do("move", msg.UID, func() error {
		return s.Mailbox.Move(msg.UID, dest)
	})
}

// ensureLabel creates the destination label on the server when missing.
func (s *Service) ensureLabel(name string) error {
	labels, err := s.Mailbox.ListLabels()
	if err != nil {
		return fmt.Errorf("listing labels: %w", err)
	}
	for _, l := range labels {
		if l == name {
			return nil
		}
	}
	s.Log.Info("creating missing label", "label", name)
	if err := s.Mailbox.CreateLabel(name); err != nil {
		return fmt.Errorf("creating label %q: %w", name, err)
	}
	return nil
}

var _ thread.Applier = (*Service)(nil)

func uidsOf(msgs []*models.Message) []uint32 {
	uids := make([]uint32, len(msgs))
	for i, m := range msgs {
		uids[i] = m.UID
	}
	return uids
}

func removeAll(working, processed []*models.Message) []*models.Message {
	if len(processed) == 0 {
		return working
	}
	drop := make(map[uint32]bool, len(processed))
	for _, m := range processed {
		drop[m.UID] = true
	}
	out := working[:0]
	for _, m := range working {
		if !drop[m.UID] {
			out = append(out, m)
		}
	}
	return out
}
