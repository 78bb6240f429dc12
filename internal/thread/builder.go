package thread

import (
	"fmt"
	"sort"

	"github.com/dhorvath/mailsift/internal/models"
)

// Map groups messages into conversation threads for one execution cycle.
// It is rebuilt from scratch every run and never persisted.
type Map struct {
	byKey    map[string][]*models.Message
	keyByUID map[uint32]string
}

// Of resolves the thread a message belongs to. It returns the thread key,
// the thread's members, and whether the message is threaded at all.
func (m *Map) Of(msg *models.Message) (string, []*models.Message, bool) {
	key, ok := m.keyByUID[msg.UID]
	if !ok {
		return "", nil, false
	}
	return key, m.byKey[key], true
}

// Messages returns the members of the named thread.
func (m *Map) Messages(key string) []*models.Message {
	return m.byKey[key]
}

// Keys returns all thread keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of threads.
func (m *Map) Len() int { return len(m.byKey) }

// Build computes the thread map for one fetched message set.
//
// Messages carrying a provider-native thread id are grouped directly by
// that id. The remainder are joined through an undirected graph over
// Message-Id values, with edges to In-Reply-To and each References entry;
// each connected component becomes one synthetic thread. Messages without
// a Message-Id form singleton threads keyed by their UID.
//
// Grouping is deterministic for a given input set regardless of map
// iteration order: traversal is seeded in UID order and neighbor lists are
// sorted.
func Build(msgs []*models.Message) *Map {
	m := &Map{
		byKey:    make(map[string][]*models.Message),
		keyByUID: make(map[uint32]string),
	}

	var headerMsgs []*models.Message
	for _, msg := range msgs {
		if msg.ProviderThreadID != "" {
			m.add(msg.ProviderThreadID, msg)
			continue
		}
		headerMsgs = append(headerMsgs, msg)
	}

	// Stable traversal order for the header graph.
	sort.Slice(headerMsgs, func(i, j int) bool { return headerMsgs[i].UID < headerMsgs[j].UID })

	adjacency := make(map[string][]string)
	byID := make(map[string][]*models.Message)
	for _, msg := range headerMsgs {
		if msg.MessageID == "" {
			continue
		}
		byID[msg.MessageID] = append(byID[msg.MessageID], msg)
		if _, ok := adjacency[msg.MessageID]; !ok {
			adjacency[msg.MessageID] = nil
		}
		if msg.InReplyTo != "" {
			link(adjacency, msg.MessageID, msg.InReplyTo)
		}
		for _, ref := range msg.References {
			link(adjacency, msg.MessageID, ref)
		}
	}
	for id := range adjacency {
		sort.Strings(adjacency[id])
	}

	visited := make(map[string]bool)
	next := 1
	for _, msg := range headerMsgs {
		if msg.MessageID == "" {
			// Unthreadable messages are never merged with others.
			m.add(fmt.Sprintf("uid-%d", msg.UID), msg)
			continue
		}
		if visited[msg.MessageID] {
			continue
		}

		component := bfs(adjacency, msg.MessageID, visited)
		key := fmt.Sprintf("thread-%d", next)
		next++
		for _, id := range component {
			for _, member := range byID[id] {
				m.add(key, member)
			}
		}
	}

	return m
}

func (m *Map) add(key string, msg *models.Message) {
	m.byKey[key] = append(m.byKey[key], msg)
	m.keyByUID[msg.UID] = key
}

func link(adjacency map[string][]string, a, b string) {
	adjacency[a] = append(adjacency[a], b)
	adjacency[b] = append(adjacency[b], a)
}

// bfs walks the component containing start and returns its node ids in
// visitation order.
func bfs(adjacency map[string][]string, start string, visited map[string]bool) []string {
	var component []string
	queue := []string{start}
	visited[start] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		component = append(component, id)
		for _, neighbor := range adjacency[id] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return component
}
