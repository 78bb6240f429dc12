// Package config loads the declarative filter configuration from YAML.
// Filters are ordered: the file author's sequence is the evaluation
// priority, so parsing goes through yaml.Node to preserve it.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dhorvath/mailsift/internal/filter"
	"github.com/dhorvath/mailsift/internal/models"
)

// Config is the full runtime configuration. Credentials may be left empty
// in the file and supplied through the environment or flags instead.
type Config struct {
	Domain   string        `yaml:"imap-domain"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	OAuth2   *OAuth2Config `yaml:"oauth2"`

	MessageFilters []*filter.MessageFilter
	StateFilters   []*filter.StateFilter
}

// OAuth2Config holds the refresh-token flow credentials for XOAUTH2.
type OAuth2Config struct {
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
	RefreshToken string `yaml:"refresh-token"`
}

// Load reads and validates a configuration file, then overlays
// environment variables. Invalid filters are fatal at load time so a bad
// pattern never reaches the mailbox.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides credentials from MAILSIFT_* environment variables,
// loading a local .env file first when present.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("MAILSIFT_IMAP_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("MAILSIFT_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("MAILSIFT_PASSWORD"); v != "" {
		c.Password = v
	}
}

// Parse decodes a configuration document from raw YAML.
func Parse(data []byte) (*Config, error) {
	var raw struct {
		Domain         string        `yaml:"imap-domain"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		OAuth2         *OAuth2Config `yaml:"oauth2"`
		MessageFilters yaml.Node     `yaml:"message-filters"`
		StateFilters   yaml.Node     `yaml:"state-filters"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cfg := &Config{
		Domain:   raw.Domain,
		Username: raw.Username,
		Password: raw.Password,
		OAuth2:   raw.OAuth2,
	}

	var err error
	if cfg.MessageFilters, err = parseMessageFilters(&raw.MessageFilters); err != nil {
		return nil, err
	}
	if cfg.StateFilters, err = parseStateFilters(&raw.StateFilters); err != nil {
		return nil, err
	}

	for _, mf := range cfg.MessageFilters {
		if err := mf.Validate(); err != nil {
			return nil, fmt.Errorf("message filter %q: %w", mf.Name, err)
		}
	}
	for _, sf := range cfg.StateFilters {
		if err := sf.Validate(); err != nil {
			return nil, fmt.Errorf("state filter %q: %w", sf.Name, err)
		}
	}
	return cfg, nil
}

type namedEntry struct {
	name string
	body *yaml.Node
}

// namedEntries walks a sequence of single-key mappings, yielding each
// filter's name and body node in file order.
func namedEntries(node *yaml.Node, section string) ([]namedEntry, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%s: expected a list of named filters", section)
	}
	var entries []namedEntry
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, fmt.Errorf("%s: each entry must be a single-key mapping (line %d)", section, item.Line)
		}
		entries = append(entries, namedEntry{item.Content[0].Value, item.Content[1]})
	}
	return entries, nil
}

func parseMessageFilters(node *yaml.Node) ([]*filter.MessageFilter, error) {
	entries, err := namedEntries(node, "message-filters")
	if err != nil {
		return nil, err
	}
	filters := make([]*filter.MessageFilter, 0, len(entries))
	for _, e := range entries {
		mf, err := parseMessageFilter(e.name, e.body)
		if err != nil {
			return nil, fmt.Errorf("message filter %q: %w", e.name, err)
		}
		filters = append(filters, mf)
	}
	return filters, nil
}

func parseMessageFilter(name string, body *yaml.Node) (*filter.MessageFilter, error) {
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("filter body must be a mapping")
	}
	mf := &filter.MessageFilter{Name: name}
	for i := 0; i < len(body.Content); i += 2 {
		key, val := body.Content[i].Value, body.Content[i+1]
		var err error
		switch key {
		case "to":
			mf.To, err = parseAddressFilter(val)
		case "cc":
			mf.Cc, err = parseAddressFilter(val)
		case "from":
			mf.From, err = parseAddressFilter(val)
		case "subject":
			mf.Subject, err = parseStringList(val)
		case "label", "labels":
			mf.Labels, err = parseLabelsFilter(val)
		case "headers":
			mf.Headers, err = parseHeaders(val)
		case "action", "actions":
			mf.Actions, err = parseActions(val)
		default:
			err = fmt.Errorf("unknown key %q (line %d)", key, body.Content[i].Line)
		}
		if err != nil {
			return nil, err
		}
	}
	return mf, nil
}

func parseStateFilters(node *yaml.Node) ([]*filter.StateFilter, error) {
	entries, err := namedEntries(node, "state-filters")
	if err != nil {
		return nil, err
	}
	filters := make([]*filter.StateFilter, 0, len(entries))
	for _, e := range entries {
		sf, err := parseStateFilter(e.name, e.body)
		if err != nil {
			return nil, fmt.Errorf("state filter %q: %w", e.name, err)
		}
		filters = append(filters, sf)
	}
	return filters, nil
}

func parseStateFilter(name string, body *yaml.Node) (*filter.StateFilter, error) {
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("filter body must be a mapping")
	}
	sf := &filter.StateFilter{Name: name}
	for i := 0; i < len(body.Content); i += 2 {
		key, val := body.Content[i].Value, body.Content[i+1]
		var err error
		switch key {
		case "label", "labels":
			sf.Labels, err = parseLabelList(val)
		case "ttl":
			sf.TTL, err = parseTTL(val)
		case "action":
			sf.Action, err = parseStateAction(val)
		case "nerf":
			err = val.Decode(&sf.Nerf)
		default:
			err = fmt.Errorf("unknown key %q (line %d)", key, body.Content[i].Line)
		}
		if err != nil {
			return nil, err
		}
	}
	return sf, nil
}

// parseAddressFilter accepts null (field must be empty), a single pattern,
// or a list of patterns.
func parseAddressFilter(node *yaml.Node) (*filter.AddressFilter, error) {
	if node.Tag == "!!null" {
		return &filter.AddressFilter{}, nil
	}
	patterns, err := parseStringList(node)
	if err != nil {
		return nil, err
	}
	return &filter.AddressFilter{Patterns: patterns}, nil
}

// parseStringList accepts a scalar or a sequence of scalars.
func parseStringList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string or a list of strings (line %d)", node.Line)
}

func parseLabelList(node *yaml.Node) ([]models.Label, error) {
	raw, err := parseStringList(node)
	if err != nil {
		return nil, err
	}
	labels := make([]models.Label, len(raw))
	for i, r := range raw {
		labels[i] = models.NewLabel(r)
	}
	return labels, nil
}

// parseLabelsFilter accepts the short forms (scalar or sequence, meaning
// included-only) or a mapping with explicit included/excluded lists.
func parseLabelsFilter(node *yaml.Node) (filter.LabelsFilter, error) {
	if node.Kind == yaml.MappingNode {
		var lf filter.LabelsFilter
		for i := 0; i < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1]
			var err error
			switch key {
			case "included":
				lf.Included, err = parseLabelList(val)
			case "excluded":
				lf.Excluded, err = parseLabelList(val)
			default:
				err = fmt.Errorf("unknown labels key %q (line %d)", key, node.Content[i].Line)
			}
			if err != nil {
				return filter.LabelsFilter{}, err
			}
		}
		return lf, nil
	}
	included, err := parseLabelList(node)
	if err != nil {
		return filter.LabelsFilter{}, err
	}
	return filter.LabelsFilter{Included: included}, nil
}

func parseHeaders(node *yaml.Node) (map[string][]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("headers must be a mapping (line %d)", node.Line)
	}
	headers := make(map[string][]string, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		patterns, err := parseStringList(node.Content[i+1])
		if err != nil {
			return nil, err
		}
		headers[node.Content[i].Value] = patterns
	}
	return headers, nil
}

// parseActions accepts a scalar or sequence. "Star" and "Flag" are the two
// keyword actions; any other string is a move destination.
func parseActions(node *yaml.Node) ([]filter.Action, error) {
	raw, err := parseStringList(node)
	if err != nil {
		return nil, err
	}
	actions := make([]filter.Action, len(raw))
	for i, r := range raw {
		switch {
		case strings.EqualFold(r, "Star"):
			actions[i] = filter.Action{Kind: filter.ActionStar}
		case strings.EqualFold(r, "Flag"):
			actions[i] = filter.Action{Kind: filter.ActionFlag}
		default:
			actions[i] = filter.Action{Kind: filter.ActionMove, Target: r}
		}
	}
	return actions, nil
}

// parseTTL accepts "Keep", "<n>d", or a mapping with read/unread day spans.
func parseTTL(node *yaml.Node) (filter.TTL, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.EqualFold(node.Value, "Keep") {
			return filter.TTL{Kind: filter.TTLKeep}, nil
		}
		d, err := filter.ParseDays(node.Value)
		if err != nil {
			return filter.TTL{}, fmt.Errorf("ttl: %w (line %d)", err, node.Line)
		}
		return filter.TTL{Kind: filter.TTLDays, Days: d}, nil
	case yaml.MappingNode:
		ttl := filter.TTL{Kind: filter.TTLDetailed}
		for i := 0; i < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1].Value
			d, err := filter.ParseDays(val)
			if err != nil {
				return filter.TTL{}, fmt.Errorf("ttl %s: %w", key, err)
			}
			switch key {
			case "read":
				ttl.Read = d
			case "unread":
				ttl.Unread = d
			default:
				return filter.TTL{}, fmt.Errorf("unknown ttl key %q (line %d)", key, node.Content[i].Line)
			}
		}
		return ttl, nil
	}
	return filter.TTL{}, fmt.Errorf("ttl must be a string or a read/unread mapping (line %d)", node.Line)
}

// parseStateAction accepts "Delete", a bare destination string, or the
// explicit {Move: dest} mapping.
func parseStateAction(node *yaml.Node) (filter.StateAction, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.EqualFold(node.Value, "Delete") {
			return filter.StateAction{Kind: filter.StateDelete}, nil
		}
		return filter.StateAction{Kind: filter.StateMove, Target: node.Value}, nil
	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			if strings.EqualFold(node.Content[i].Value, "Move") {
				return filter.StateAction{Kind: filter.StateMove, Target: node.Content[i+1].Value}, nil
			}
		}
		return filter.StateAction{}, fmt.Errorf("unknown action mapping (line %d)", node.Line)
	}
	return filter.StateAction{}, fmt.Errorf("action must be Delete, a destination, or {Move: dest} (line %d)", node.Line)
}
