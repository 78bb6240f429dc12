package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhorvath/mailsift/internal/filter"
	"github.com/dhorvath/mailsift/internal/models"
)

func TestParseFullConfig(t *testing.T) {
	doc := `
imap-domain: imap.gmail.com
username: person@gmail.com
password: hunter2
oauth2:
  client-id: cid
  client-secret: csecret
  refresh-token: rtok
message-filters:
  - Team mail:
      to: ["*@corp.example.com"]
      cc:
      subject: ["*standup*", "*retro*"]
      labels:
        included: [Inbox]
        excluded: [Starred]
      headers:
        List-Id: ["*team-announce*"]
      actions: [Star]
  - Newsletters:
      from: "*@news.example.com"
      action: News
state-filters:
  - Pinned:
      labels: Starred
      ttl: Keep
  - Old news:
      labels: [News]
      ttl: 7d
      action: Delete
      nerf: true
  - Inbox sweep:
      ttl:
        read: 7d
        unread: 30d
      action:
        Move: Archive
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com", cfg.Domain)
	assert.Equal(t, "person@gmail.com", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
	require.NotNil(t, cfg.OAuth2)
	assert.Equal(t, "cid", cfg.OAuth2.ClientID)
	assert.Equal(t, "rtok", cfg.OAuth2.RefreshToken)

	require.Len(t, cfg.MessageFilters, 2)
	team := cfg.MessageFilters[0]
	assert.Equal(t, "Team mail", team.Name)
	require.NotNil(t, team.To)
	assert.Equal(t, []string{"*@corp.example.com"}, team.To.Patterns)
	// Explicit null means the field must be empty.
	require.NotNil(t, team.Cc)
	assert.Empty(t, team.Cc.Patterns)
	assert.Nil(t, team.From)
	assert.Equal(t, []string{"*standup*", "*retro*"}, team.Subject)
	assert.Equal(t, []models.Label{models.NewLabel("Inbox")}, team.Labels.Included)
	assert.Equal(t, []models.Label{models.NewLabel("Starred")}, team.Labels.Excluded)
	assert.Equal(t, []string{"*team-announce*"}, team.Headers["List-Id"])
	require.Len(t, team.Actions, 1)
	assert.Equal(t, filter.ActionStar, team.Actions[0].Kind)

	news := cfg.MessageFilters[1]
	assert.Equal(t, []string{"*@news.example.com"}, news.From.Patterns)
	require.Len(t, news.Actions, 1)
	assert.Equal(t, filter.ActionMove, news.Actions[0].Kind)
	assert.Equal(t, "News", news.Actions[0].Target)

	require.Len(t, cfg.StateFilters, 3)
	assert.Equal(t, filter.TTLKeep, cfg.StateFilters[0].TTL.Kind)
	assert.Equal(t, []models.Label{models.NewLabel("Starred")}, cfg.StateFilters[0].Labels)

	old := cfg.StateFilters[1]
	assert.Equal(t, filter.TTLDays, old.TTL.Kind)
	assert.Equal(t, 7*24*time.Hour, old.TTL.Days)
	assert.Equal(t, filter.StateDelete, old.Action.Kind)
	assert.True(t, old.Nerf)

	sweep := cfg.StateFilters[2]
	assert.Empty(t, sweep.Labels)
	assert.Equal(t, filter.TTLDetailed, sweep.TTL.Kind)
	assert.Equal(t, 7*24*time.Hour, sweep.TTL.Read)
	assert.Equal(t, 30*24*time.Hour, sweep.TTL.Unread)
	assert.Equal(t, filter.StateMove, sweep.Action.Kind)
	assert.Equal(t, "Archive", sweep.Action.Target)
}

func TestParseFilterOrderPreserved(t *testing.T) {
	doc := `
message-filters:
  - Zebra:
      action: Star
  - Alpha:
      action: Flag
  - Middle:
      action: Somewhere
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	names := make([]string, len(cfg.MessageFilters))
	for i, mf := range cfg.MessageFilters {
		names[i] = mf.Name
	}
	assert.Equal(t, []string{"Zebra", "Alpha", "Middle"}, names)
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad glob",
			doc: `
message-filters:
  - Broken:
      from: ["[unclosed"]
      action: Star
`,
			want: "Broken",
		},
		{
			name: "no actions",
			doc: `
message-filters:
  - Inert:
      from: ["*@x.test"]
`,
			want: "Inert",
		},
		{
			name: "bad ttl",
			doc: `
state-filters:
  - Weird:
      ttl: sevenish
      action: Delete
`,
			want: "ttl",
		},
		{
			name: "unknown key",
			doc: `
message-filters:
  - Typo:
      sbject: ["*x*"]
      action: Star
`,
			want: "unknown key",
		},
		{
			name: "filters not named",
			doc: `
message-filters:
  - from: ["*@x.test"]
    action: Star
`,
			want: "single-key mapping",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnvOverridesCredentials(t *testing.T) {
	t.Setenv("MAILSIFT_IMAP_DOMAIN", "imap.env.test")
	t.Setenv("MAILSIFT_USERNAME", "env-user")
	t.Setenv("MAILSIFT_PASSWORD", "env-pass")

	cfg := &Config{Domain: "imap.file.test", Username: "file-user"}
	cfg.ApplyEnv()

	assert.Equal(t, "imap.env.test", cfg.Domain)
	assert.Equal(t, "env-user", cfg.Username)
	assert.Equal(t, "env-pass", cfg.Password)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte("imap-domain: imap.test\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MessageFilters)
	assert.Empty(t, cfg.StateFilters)
}
