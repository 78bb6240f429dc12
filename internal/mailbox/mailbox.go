// Package mailbox defines the narrow mailbox surface the rule engine
// needs, with a real IMAP transport and an in-memory implementation used
// by tests. Callers pick one by dependency injection; nothing in the
// engine knows which it is talking to.
package mailbox

import "time"

// Record is one raw fetched mailbox entry, before header parsing.
type Record struct {
	UID              uint32
	Seq              uint32
	Flags            []string
	InternalDate     time.Time
	ProviderThreadID string
	RawHeader        []byte
}

// LabelDelta describes a flag/label mutation on a single message.
type LabelDelta struct {
	Add    []string
	Remove []string
}

// Mailbox is the capability interface over a remote mailbox. The
// implementation is assumed to be already authenticated and
// transport-secured; connection failures surface as classifiable errors.
type Mailbox interface {
	// Select opens the named folder for subsequent operations.
	Select(folder string) error
	// Search returns the sequence numbers matching the query. Only the
	// "ALL" query is needed by the engine.
	Search(query string) ([]uint32, error)
	// Fetch retrieves records for the given sequence numbers.
	Fetch(seqs []uint32) ([]Record, error)
	// Store applies a flag/label delta to the message with the given UID.
	Store(uid uint32, delta LabelDelta) error
	// Move relocates the message with the given UID to dest.
	Move(uid uint32, dest string) error
	// ListLabels returns all folder/label names on the server.
	ListLabels() ([]string, error)
	// CreateLabel creates a folder/label.
	CreateLabel(name string) error
	// Logout ends the session.
	Logout() error
}
