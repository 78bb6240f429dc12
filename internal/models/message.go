package models

import (
	"bytes"
	"net/textproto"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Address is a single parsed RFC822 address.
type Address struct {
	Name  string
	Email string
}

// Message is an immutable snapshot of one mailbox entry, built once per
// fetch and discarded at the end of the run. UID is the stable per-mailbox
// identifier used for all mutating operations; Seq is the session-scoped
// sequence number and is never persisted or compared across runs.
type Message struct {
	UID     uint32
	Seq     uint32
	To      []Address
	Cc      []Address
	From    []Address
	Subject string
	// Date is the server's INTERNALDATE. Zero means the server did not
	// report one; TTL evaluation treats that as a malformed timestamp.
	Date    time.Time
	Labels  []Label
	Headers map[string]string

	// Threading fields.
	MessageID        string
	InReplyTo        string
	References       []string
	ProviderThreadID string
}

// NewMessage parses raw header bytes and raw label/flag strings into a
// Message. Header names are canonicalized (List-Id, Message-Id, ...) so
// lookups are case-insensitive. When the To field is empty, Delivered-To
// supplies the recipients.
func NewMessage(uid, seq uint32, rawHeader []byte, rawLabels []string, internalDate time.Time, providerThreadID string) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(ensureHeaderTerminated(rawHeader)))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	for _, key := range env.GetHeaderKeys() {
		headers[textproto.CanonicalMIMEHeaderKey(key)] = env.GetHeader(key)
	}

	to := parseAddrs(env, "To")
	if len(to) == 0 {
		to = parseAddrs(env, "Delivered-To")
	}

	labels := make([]Label, 0, len(rawLabels))
	for _, raw := range rawLabels {
		labels = append(labels, NewLabel(raw))
	}

	msg := &Message{
		UID:              uid,
		Seq:              seq,
		To:               to,
		Cc:               parseAddrs(env, "Cc"),
		From:             parseAddrs(env, "From"),
		Subject:          env.GetHeader("Subject"),
		Date:             internalDate,
		Labels:           labels,
		Headers:          headers,
		MessageID:        headers["Message-Id"],
		InReplyTo:        headers["In-Reply-To"],
		References:       strings.Fields(headers["References"]),
		ProviderThreadID: providerThreadID,
	}
	return msg, nil
}

// Header returns the value of the named header and whether it is present.
// The name may be given in any case.
func (m *Message) Header(name string) (string, bool) {
	v, ok := m.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// HasLabel reports whether the message carries the given label.
func (m *Message) HasLabel(l Label) bool {
	for _, have := range m.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// IsRead reports whether the message carries the IMAP seen marker.
func (m *Message) IsRead() bool {
	for _, l := range m.Labels {
		if l.Kind == LabelCustom && strings.EqualFold(l.Name, "Seen") {
			return true
		}
	}
	return false
}

// HasNoAddresses reports whether all three address fields are empty, which
// indicates a structurally broken header block.
func (m *Message) HasNoAddresses() bool {
	return len(m.To) == 0 && len(m.Cc) == 0 && len(m.From) == 0
}

// SenderDisplay returns the display name of the first sender, or their
// email address when no name is present.
func (m *Message) SenderDisplay() string {
	if len(m.From) == 0 {
		return ""
	}
	if m.From[0].Name != "" {
		return m.From[0].Name
	}
	return m.From[0].Email
}

func parseAddrs(env *enmime.Envelope, field string) []Address {
	list, err := env.AddressList(field)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Email: a.Address})
	}
	return out
}

// ensureHeaderTerminated appends the blank line separating headers from the
// body when the fetched header section lacks one, so the MIME reader
// accepts header-only input.
func ensureHeaderTerminated(raw []byte) []byte {
	if bytes.HasSuffix(raw, []byte("\r\n\r\n")) || bytes.HasSuffix(raw, []byte("\n\n")) {
		return raw
	}
	return append(append([]byte{}, raw...), []byte("\r\n\r\n")...)
}
