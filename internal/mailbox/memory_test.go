package mailbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundtrip(t *testing.T) {
	m := NewMemory()
	date := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	uid := m.Append("INBOX", MemoryMessage{
		Flags:        []string{"\\Seen"},
		InternalDate: date,
		RawHeader:    []byte("Subject: hello\r\n\r\n"),
	})
	m.Append("INBOX", MemoryMessage{InternalDate: date.Add(time.Hour)})

	require.NoError(t, m.Select("INBOX"))
	seqs, err := m.Search("ALL")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, seqs)

	records, err := m.Fetch(seqs)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uid, records[0].UID)
	assert.Equal(t, uint32(1), records[0].Seq)
	assert.Equal(t, []string{"\\Seen"}, records[0].Flags)
	assert.Equal(t, date, records[0].InternalDate)
	assert.Equal(t, "Subject: hello\r\n\r\n", string(records[0].RawHeader))
}

func TestMemorySelectRequired(t *testing.T) {
	m := NewMemory()

	_, err := m.Search("ALL")
	assert.Error(t, err)

	assert.Error(t, m.Select("Nope"))
	require.NoError(t, m.Select("INBOX"))
}

func TestMemoryStoreRecordsMutations(t *testing.T) {
	m := NewMemory()
	uid := m.Append("INBOX", MemoryMessage{Flags: []string{"\\Seen"}})

	require.NoError(t, m.Store(uid, LabelDelta{Add: []string{"\\Flagged"}}))
	// Re-adding a present flag stays a single entry.
	require.NoError(t, m.Store(uid, LabelDelta{Add: []string{"\\Flagged"}}))
	require.NoError(t, m.Store(uid, LabelDelta{Remove: []string{"\\Seen"}}))

	msg, _, ok := m.Message(uid)
	require.True(t, ok)
	assert.Equal(t, []string{"\\Flagged"}, msg.Flags)
	assert.Len(t, m.Stores, 3)

	assert.Error(t, m.Store(99, LabelDelta{Add: []string{"\\Flagged"}}))
}

func TestMemoryMove(t *testing.T) {
	m := NewMemory()
	uid := m.Append("INBOX", MemoryMessage{})

	assert.Error(t, m.Move(uid, "Archive"), "destination must exist")

	require.NoError(t, m.CreateLabel("Archive"))
	require.NoError(t, m.Move(uid, "Archive"))

	assert.Empty(t, m.Folder("INBOX"))
	require.Len(t, m.Folder("Archive"), 1)
	assert.Equal(t, []MoveRecord{{UID: uid, From: "INBOX", To: "Archive"}}, m.Moves)

	labels, err := m.ListLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "INBOX"}, labels)
}

func TestMemoryErrHook(t *testing.T) {
	m := NewMemory()
	uid := m.Append("INBOX", MemoryMessage{})

	boom := errors.New("[THROTTLED] too many requests")
	m.ErrHook = func(op string, u uint32) error {
		if op == "store" && u == uid {
			return boom
		}
		return nil
	}

	err := m.Store(uid, LabelDelta{Add: []string{"\\Flagged"}})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Stores, "failed mutations are not recorded")

	msg, _, _ := m.Message(uid)
	assert.Empty(t, msg.Flags)
}
