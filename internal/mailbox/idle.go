package mailbox

import (
	"context"
	"fmt"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// idlePollInterval is the fallback polling cadence for servers without the
// IDLE extension.
const idlePollInterval = 5 * time.Second

// Watcher is implemented by transports that can block until the selected
// folder changes. The in-memory mailbox does not implement it.
type Watcher interface {
	// WaitForUpdate blocks until the selected folder reports a change,
	// the timeout elapses, or the context is canceled. A timeout is not
	// an error; callers re-run the filter cycle either way.
	WaitForUpdate(ctx context.Context, timeout time.Duration) error
}

// WaitForUpdate runs IDLE (with a polling fallback) until the server
// reports a mailbox change.
func (m *Client) WaitForUpdate(ctx context.Context, timeout time.Duration) error {
	updates := make(chan imapclient.Update, 10)
	m.c.Updates = updates
	defer func() { m.c.Updates = nil }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(m.c).IdleWithFallback(stop, idlePollInterval)
	}()

	stopIdle := func() {
		close(stop)
		<-done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			stopIdle()
			return ctx.Err()
		case <-timer.C:
			stopIdle()
			return nil
		case err := <-done:
			if err != nil {
				return fmt.Errorf("idle loop failed: %w", err)
			}
			return nil
		case update := <-updates:
			if _, ok := update.(*imapclient.MailboxUpdate); ok {
				stopIdle()
				return nil
			}
		}
	}
}

var _ Watcher = (*Client)(nil)
var _ Mailbox = (*Client)(nil)
var _ Mailbox = (*Memory)(nil)
