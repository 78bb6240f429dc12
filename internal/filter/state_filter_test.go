package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhorvath/mailsift/internal/models"
)

func datedMessage(t *testing.T, uid uint32, date time.Time, labels ...string) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(uid, uid, []byte("From: a@b.c\r\nSubject: aged\r\n\r\n"), labels, date, "")
	require.NoError(t, err)
	return msg
}

func TestStateFilterMatchesEmptyLabelsMatchesAll(t *testing.T) {
	sf := &StateFilter{Name: "catch-all", TTL: TTL{Kind: TTLDays, Days: 7 * 24 * time.Hour}}
	msg := datedMessage(t, 1, time.Now(), "INBOX")
	assert.True(t, sf.Matches(msg))
}

func TestStateFilterMatchesLabelIntersection(t *testing.T) {
	sf := &StateFilter{
		Name:   "inbox-only",
		Labels: []models.Label{models.NewLabel("Inbox")},
		TTL:    TTL{Kind: TTLDays, Days: 7 * 24 * time.Hour},
	}
	assert.True(t, sf.Matches(datedMessage(t, 1, time.Now(), "INBOX")))
	assert.False(t, sf.Matches(datedMessage(t, 2, time.Now(), "Sent")))
}

func TestEvaluateTTLKeepNeverExpires(t *testing.T) {
	sf := &StateFilter{Name: "keep", TTL: TTL{Kind: TTLKeep}}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	msg := datedMessage(t, 1, now.Add(-365*24*time.Hour))

	action, err := sf.EvaluateTTL(msg, now)
	require.NoError(t, err)
	assert.Nil(t, action)
}

func TestEvaluateTTLDaysBoundary(t *testing.T) {
	sf := &StateFilter{
		Name:   "stale",
		TTL:    TTL{Kind: TTLDays, Days: 7 * 24 * time.Hour},
		Action: StateAction{Kind: StateMove, Target: "Archive"},
	}
	now := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)

	// Age of exactly 7 days expires.
	exact := datedMessage(t, 1, now.Add(-7*24*time.Hour))
	action, err := sf.EvaluateTTL(exact, now)
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, StateAction{Kind: StateMove, Target: "Archive"}, *action)

	// One second short does not.
	short := datedMessage(t, 2, now.Add(-7*24*time.Hour+time.Second))
	action, err = sf.EvaluateTTL(short, now)
	require.NoError(t, err)
	assert.Nil(t, action)
}

func TestEvaluateTTLDetailedBranchesOnSeen(t *testing.T) {
	sf := &StateFilter{
		Name: "read-fast-unread-slow",
		TTL: TTL{
			Kind:   TTLDetailed,
			Read:   2 * 24 * time.Hour,
			Unread: 10 * 24 * time.Hour,
		},
		Action: StateAction{Kind: StateDelete},
	}
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	threeDaysAgo := now.Add(-3 * 24 * time.Hour)

	read := datedMessage(t, 1, threeDaysAgo, "\\Seen")
	action, err := sf.EvaluateTTL(read, now)
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, StateDelete, action.Kind)

	unread := datedMessage(t, 2, threeDaysAgo)
	action, err = sf.EvaluateTTL(unread, now)
	require.NoError(t, err)
	assert.Nil(t, action)
}

func TestEvaluateTTLMalformedTimestamp(t *testing.T) {
	sf := &StateFilter{Name: "stale", TTL: TTL{Kind: TTLDays, Days: 24 * time.Hour}}
	msg := datedMessage(t, 7, time.Time{})

	_, err := sf.EvaluateTTL(msg, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTimestamp)
	assert.Contains(t, err.Error(), "uid 7")
}

func TestParseDays(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: "365d", want: 365 * 24 * time.Hour},
		{in: "  7d  ", want: 7 * 24 * time.Hour},
		{in: "7", wantErr: true},
		{in: "d", wantErr: true},
		{in: "7h", wantErr: true},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseDays(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestTTLString(t *testing.T) {
	assert.Equal(t, "Keep", TTL{Kind: TTLKeep}.String())
	assert.Equal(t, "7d", TTL{Kind: TTLDays, Days: 7 * 24 * time.Hour}.String())
	assert.Equal(t, "{read: 2d, unread: 10d}",
		TTL{Kind: TTLDetailed, Read: 2 * 24 * time.Hour, Unread: 10 * 24 * time.Hour}.String())
}

func TestStateActionString(t *testing.T) {
	assert.Equal(t, "Delete", StateAction{Kind: StateDelete}.String())
	assert.Equal(t, "Move(Purgatory)", StateAction{Kind: StateMove, Target: "Purgatory"}.String())
}
