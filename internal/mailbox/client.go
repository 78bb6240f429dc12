package mailbox

import (
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

// Client is the real IMAP transport behind the Mailbox interface. It wraps
// a single authenticated session; all calls are synchronous and blocking.
type Client struct {
	c *client.Client
	// threadsSupported caches the server's THREAD=REFERENCES capability.
	threadsSupported bool
}

// Connect dials the IMAP server with a 5-second timeout. The address may
// omit the port, in which case 993 is used. useTLS should be true in
// production; tests connect to a local server without TLS.
func Connect(server string, useTLS bool) (*Client, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "993")
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var c *client.Client
	var err error
	if useTLS {
		c, err = client.DialWithDialerTLS(dialer, server, nil)
	} else {
		c, err = client.DialWithDialer(dialer, server)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", server, err)
	}

	return &Client{c: c}, nil
}

// Login authenticates with a username and password.
func (m *Client) Login(username, password string) error {
	if err := m.c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	return m.probeCapabilities()
}

// LoginXOAuth2 authenticates with an OAuth2 access token via the XOAUTH2
// SASL mechanism.
func (m *Client) LoginXOAuth2(username, accessToken string) error {
	if err := m.c.Authenticate(sasl.NewXoauth2Client(username, accessToken)); err != nil {
		return fmt.Errorf("failed to authenticate via XOAUTH2: %w", err)
	}
	return m.probeCapabilities()
}

func (m *Client) probeCapabilities() error {
	supported, err := m.c.Support("THREAD=REFERENCES")
	if err != nil {
		return fmt.Errorf("failed to check capabilities: %w", err)
	}
	m.threadsSupported = supported
	return nil
}

func (m *Client) Select(folder string) error {
	if _, err := m.c.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select %q: %w", folder, err)
	}
	return nil
}

func (m *Client) Search(query string) ([]uint32, error) {
	if query != "" && query != "ALL" {
		return nil, fmt.Errorf("unsupported search query %q", query)
	}
	seqs, err := m.c.Search(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Fetch retrieves UID, flags, internal date and the full header block for
// each sequence number. When the server supports THREAD=REFERENCES, its
// grouping is attached as the provider thread id.
func (m *Client) Fetch(seqs []uint32) ([]Record, error) {
	if len(seqs) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	for _, seq := range seqs {
		seqSet.AddNum(seq)
	}

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(seqs))
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqSet, items, messages)
	}()

	var records []Record
	for msg := range messages {
		rec := Record{
			UID:          msg.Uid,
			Seq:          msg.SeqNum,
			Flags:        append([]string(nil), msg.Flags...),
			InternalDate: msg.InternalDate,
		}
		if body := msg.GetBody(section); body != nil {
			raw, err := io.ReadAll(body)
			if err != nil {
				return nil, fmt.Errorf("failed to read header for UID %d: %w", msg.Uid, err)
			}
			rec.RawHeader = raw
		}
		records = append(records, rec)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if m.threadsSupported {
		if err := m.stampProviderThreads(records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// stampProviderThreads runs the server-side THREAD command and marks each
// record with a key derived from the thread's root UID, so server grouping
// takes precedence over header-graph reconstruction.
func (m *Client) stampProviderThreads(records []Record) error {
	threads, err := sortthread.NewThreadClient(m.c).UidThread(sortthread.References, imap.NewSearchCriteria())
	if err != nil {
		return fmt.Errorf("THREAD command failed: %w", err)
	}

	keyByUID := make(map[uint32]string)
	for _, root := range threads {
		uids := flattenThread(root)
		if len(uids) < 2 {
			// Leave singletons to the header-graph builder.
			continue
		}
		key := fmt.Sprintf("srv-%d", uids[0])
		for _, uid := range uids {
			keyByUID[uid] = key
		}
	}

	for i := range records {
		if key, ok := keyByUID[records[i].UID]; ok {
			records[i].ProviderThreadID = key
		}
	}
	return nil
}

func flattenThread(t *sortthread.Thread) []uint32 {
	uids := []uint32{t.Id}
	for _, child := range t.Children {
		uids = append(uids, flattenThread(child)...)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

func (m *Client) Store(uid uint32, delta LabelDelta) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	if len(delta.Add) > 0 {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := m.c.UidStore(seqSet, item, flagValues(delta.Add), nil); err != nil {
			return fmt.Errorf("failed to add flags to UID %d: %w", uid, err)
		}
	}
	if len(delta.Remove) > 0 {
		item := imap.FormatFlagsOp(imap.RemoveFlags, true)
		if err := m.c.UidStore(seqSet, item, flagValues(delta.Remove), nil); err != nil {
			return fmt.Errorf("failed to remove flags from UID %d: %w", uid, err)
		}
	}
	return nil
}

func (m *Client) Move(uid uint32, dest string) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	// UidMove falls back to COPY + STORE \Deleted + EXPUNGE when the
	// server lacks the MOVE extension.
	if err := m.c.UidMove(seqSet, dest); err != nil {
		return fmt.Errorf("failed to move UID %d to %q: %w", uid, dest, err)
	}
	return nil
}

func (m *Client) ListLabels() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.c.List("", "*", mailboxes)
	}()

	var names []string
	for mb := range mailboxes {
		names = append(names, mb.Name)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Client) CreateLabel(name string) error {
	if err := m.c.Create(name); err != nil {
		// Creating an existing mailbox is not an error for our purposes.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create %q: %w", name, err)
	}
	return nil
}

func (m *Client) Logout() error {
	if err := m.c.Logout(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

func flagValues(flags []string) []interface{} {
	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}
	return values
}
