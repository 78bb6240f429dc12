package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhorvath/mailsift/internal/testutil"
)

func connectClient(t *testing.T, server *testutil.TestIMAPServer) *Client {
	t.Helper()

	mb, err := Connect(server.Address, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mb.Logout() })
	require.NoError(t, mb.Login(server.Username(), server.Password()))
	return mb
}

func TestClientFetchRoundtrip(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	date := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	uid := server.AddMessage(t, "INBOX", "<roundtrip@test>", "Quarterly report",
		"Alice <alice@corp.test>", "bob@corp.test", date)

	mb := connectClient(t, server)
	require.NoError(t, mb.Select("INBOX"))

	seqs, err := mb.Search("ALL")
	require.NoError(t, err)
	require.NotEmpty(t, seqs)

	records, err := mb.Fetch(seqs)
	require.NoError(t, err)

	var rec *Record
	for i := range records {
		if records[i].UID == uid {
			rec = &records[i]
		}
	}
	require.NotNil(t, rec, "appended message not in fetch result")
	assert.Contains(t, string(rec.RawHeader), "Subject: Quarterly report")
	assert.Contains(t, string(rec.RawHeader), "Message-ID: <roundtrip@test>")
	assert.WithinDuration(t, date, rec.InternalDate, time.Second)

	_, err = mb.Search("UNSEEN")
	assert.Error(t, err, "only the ALL query is supported")
}

func TestClientStoreFlags(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	uid := server.AddMessage(t, "INBOX", "<flags@test>", "Flag me",
		"alice@corp.test", "bob@corp.test", time.Now())

	mb := connectClient(t, server)
	require.NoError(t, mb.Select("INBOX"))

	require.NoError(t, mb.Store(uid, LabelDelta{Add: []string{"\\Flagged"}}))
	assert.Contains(t, fetchFlags(t, mb, uid), "\\Flagged")

	require.NoError(t, mb.Store(uid, LabelDelta{Remove: []string{"\\Flagged"}}))
	assert.NotContains(t, fetchFlags(t, mb, uid), "\\Flagged")
}

func TestClientCreateAndMove(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	uid := server.AddMessage(t, "INBOX", "<move@test>", "Old news",
		"news@list.test", "bob@corp.test", time.Now())

	mb := connectClient(t, server)

	require.NoError(t, mb.CreateLabel("Archive"))
	// Creating an existing label is a no-op.
	require.NoError(t, mb.CreateLabel("Archive"))

	labels, err := mb.ListLabels()
	require.NoError(t, err)
	assert.Contains(t, labels, "Archive")
	assert.Contains(t, labels, "INBOX")

	require.NoError(t, mb.Select("INBOX"))
	require.NoError(t, mb.Move(uid, "Archive"))

	require.NoError(t, mb.Select("Archive"))
	seqs, err := mb.Search("ALL")
	require.NoError(t, err)
	records, err := mb.Fetch(seqs)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, string(records[0].RawHeader), "Message-ID: <move@test>")
}

func fetchFlags(t *testing.T, mb *Client, uid uint32) []string {
	t.Helper()

	seqs, err := mb.Search("ALL")
	require.NoError(t, err)
	records, err := mb.Fetch(seqs)
	require.NoError(t, err)
	for _, rec := range records {
		if rec.UID == uid {
			return rec.Flags
		}
	}
	t.Fatalf("UID %d not found", uid)
	return nil
}
