package mailbox

import (
	"fmt"
	"sort"
	"time"
)

// MemoryMessage is one message held by the in-memory mailbox.
type MemoryMessage struct {
	UID              uint32
	Flags            []string
	InternalDate     time.Time
	ProviderThreadID string
	RawHeader        []byte
}

// MoveRecord captures one Move call for assertions.
type MoveRecord struct {
	UID  uint32
	From string
	To   string
}

// StoreRecord captures one Store call for assertions.
type StoreRecord struct {
	UID   uint32
	Delta LabelDelta
}

// Memory is a deterministic in-memory Mailbox used by engine tests. It
// records every mutation and can inject failures through ErrHook.
type Memory struct {
	folders  map[string][]*MemoryMessage
	selected string
	nextUID  uint32

	Moves  []MoveRecord
	Stores []StoreRecord

	// ErrHook, when set, is consulted before every mutating operation;
	// a non-nil return is surfaced to the caller. Used to exercise the
	// retry executor.
	ErrHook func(op string, uid uint32) error
}

// NewMemory returns an empty in-memory mailbox with an INBOX folder.
func NewMemory() *Memory {
	return &Memory{
		folders: map[string][]*MemoryMessage{"INBOX": nil},
		nextUID: 1,
	}
}

// Append adds a message to the named folder, assigning it a UID, and
// returns that UID. The folder is created when missing.
func (m *Memory) Append(folder string, msg MemoryMessage) uint32 {
	if msg.UID == 0 {
		msg.UID = m.nextUID
		m.nextUID++
	} else if msg.UID >= m.nextUID {
		m.nextUID = msg.UID + 1
	}
	stored := msg
	m.folders[folder] = append(m.folders[folder], &stored)
	return stored.UID
}

// Folder returns the messages currently in the named folder.
func (m *Memory) Folder(name string) []*MemoryMessage {
	return m.folders[name]
}

// Message finds a message by UID across all folders, returning its folder.
func (m *Memory) Message(uid uint32) (*MemoryMessage, string, bool) {
	for folder, msgs := range m.folders {
		for _, msg := range msgs {
			if msg.UID == uid {
				return msg, folder, true
			}
		}
	}
	return nil, "", false
}

func (m *Memory) Select(folder string) error {
	if _, ok := m.folders[folder]; !ok {
		return fmt.Errorf("select %q: no such mailbox", folder)
	}
	m.selected = folder
	return nil
}

func (m *Memory) Search(query string) ([]uint32, error) {
	if m.selected == "" {
		return nil, fmt.Errorf("search: no mailbox selected")
	}
	if query != "" && query != "ALL" {
		return nil, fmt.Errorf("search: unsupported query %q", query)
	}
	seqs := make([]uint32, len(m.folders[m.selected]))
	for i := range seqs {
		seqs[i] = uint32(i + 1)
	}
	return seqs, nil
}

func (m *Memory) Fetch(seqs []uint32) ([]Record, error) {
	if m.selected == "" {
		return nil, fmt.Errorf("fetch: no mailbox selected")
	}
	msgs := m.folders[m.selected]
	records := make([]Record, 0, len(seqs))
	for _, seq := range seqs {
		if seq == 0 || int(seq) > len(msgs) {
			return nil, fmt.Errorf("fetch: no such message %d", seq)
		}
		msg := msgs[seq-1]
		records = append(records, Record{
			UID:              msg.UID,
			Seq:              seq,
			Flags:            append([]string(nil), msg.Flags...),
			InternalDate:     msg.InternalDate,
			ProviderThreadID: msg.ProviderThreadID,
			RawHeader:        msg.RawHeader,
		})
	}
	return records, nil
}

func (m *Memory) Store(uid uint32, delta LabelDelta) error {
	if err := m.hook("store", uid); err != nil {
		return err
	}
	msg, _, ok := m.Message(uid)
	if !ok {
		return fmt.Errorf("store: no such message %d", uid)
	}
	for _, add := range delta.Add {
		if !containsFlag(msg.Flags, add) {
			msg.Flags = append(msg.Flags, add)
		}
	}
	for _, remove := range delta.Remove {
		msg.Flags = removeFlag(msg.Flags, remove)
	}
	m.Stores = append(m.Stores, StoreRecord{UID: uid, Delta: delta})
	return nil
}

func (m *Memory) Move(uid uint32, dest string) error {
	if err := m.hook("move", uid); err != nil {
		return err
	}
	if _, ok := m.folders[dest]; !ok {
		return fmt.Errorf("move: no such mailbox %q", dest)
	}
	msg, from, ok := m.Message(uid)
	if !ok {
		return fmt.Errorf("move: no such message %d", uid)
	}
	m.folders[from] = removeMessage(m.folders[from], uid)
	m.folders[dest] = append(m.folders[dest], msg)
	m.Moves = append(m.Moves, MoveRecord{UID: uid, From: from, To: dest})
	return nil
}

func (m *Memory) ListLabels() ([]string, error) {
	names := make([]string, 0, len(m.folders))
	for name := range m.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) CreateLabel(name string) error {
	if _, ok := m.folders[name]; ok {
		return nil
	}
	m.folders[name] = nil
	return nil
}

func (m *Memory) Logout() error { return nil }

func (m *Memory) hook(op string, uid uint32) error {
	if m.ErrHook != nil {
		return m.ErrHook(op, uid)
	}
	return nil
}

func containsFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func removeFlag(flags []string, flag string) []string {
	out := flags[:0]
	for _, f := range flags {
		if f != flag {
			out = append(out, f)
		}
	}
	return out
}

func removeMessage(msgs []*MemoryMessage, uid uint32) []*MemoryMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if m.UID != uid {
			out = append(out, m)
		}
	}
	return out
}
