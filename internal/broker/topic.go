package broker

import (
	"fmt"
	"strings"
	"sync"
)

// ValidateTopic checks a topic name used for publishing
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in %q", ErrInvalidTopic, topic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: null character in %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty filter", ErrInvalidFilter)
	}

	segments := strings.Split(filter, "/")
	for i, segment := range segments {
		isLast := i == len(segments)-1

		if strings.Contains(segment, "#") && (segment != "#" || !isLast) {
			return fmt.Errorf("%w: multi-level wildcard (#) must be the last segment in %q", ErrInvalidFilter, filter)
		}
		if strings.Contains(segment, "+") && segment != "+" {
			return fmt.Errorf("%w: single-level wildcard (+) must be the entire segment in %q", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// ValidateQoS checks qos is 0, 1 or 2
func ValidateQoS(qos byte) error {
	if qos > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}

// MatchTopic reports whether topic matches filter. Wildcards at the first
// level do not match topics starting with '$'.
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// TopicMatch is one subscription matched by a topic.
type TopicMatch struct {
	Filter string
	Key    string
	QoS    byte
}

// TopicTree indexes subscription filters for wildcard matching. Each filter
// may be held by several keys, typically client ids.
type TopicTree struct {
	root *topicNode
	mu   sync.RWMutex
}

type topicNode struct {
	segment  string
	subs     map[string]byte // key -> QoS
	children map[string]*topicNode
}

func newTopicNode(segment string) *topicNode {
	return &topicNode{
		segment:  segment,
		subs:     make(map[string]byte),
		children: make(map[string]*topicNode),
	}
}

// NewTopicTree creates an empty tree
func NewTopicTree() *TopicTree {
	return &TopicTree{root: newTopicNode("")}
}

// Add registers filter for key, replacing the QoS of an existing entry
func (t *TopicTree) Add(filter, key string, qos byte) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.root
	for _, segment := range strings.Split(filter, "/") {
		next, exists := current.children[segment]
		if !exists {
			next = newTopicNode(segment)
			current.children[segment] = next
		}
		current = next
	}
	current.subs[key] = qos
	return nil
}

// Remove drops filter for key and prunes empty branches
func (t *TopicTree) Remove(filter, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(t.root, strings.Split(filter, "/"), 0, key)
}

func (t *TopicTree) remove(node *topicNode, segments []string, depth int, key string) {
	child, exists := node.children[segments[depth]]
	if !exists {
		return
	}

	if depth == len(segments)-1 {
		delete(child.subs, key)
	} else {
		t.remove(child, segments, depth+1, key)
	}

	if len(child.subs) == 0 && len(child.children) == 0 {
		delete(node.children, segments[depth])
	}
}

// RemoveKey drops every filter held by key
func (t *TopicTree) RemoveKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removeKey(t.root, key)
}

func removeKey(node *topicNode, key string) {
	for segment, child := range node.children {
		delete(child.subs, key)
		removeKey(child, key)
		if len(child.subs) == 0 && len(child.children) == 0 {
			delete(node.children, segment)
		}
	}
}

// Match returns every subscription matching topic
func (t *TopicTree) Match(topic string) []TopicMatch {
	if ValidateTopic(topic) != nil {
		return nil
	}

	segments := strings.Split(topic, "/")

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []TopicMatch
	t.findMatches(t.root, segments, 0, nil, &matches)
	return matches
}

func (t *TopicTree) findMatches(node *topicNode, segments []string, depth int, path []string, matches *[]TopicMatch) {
	// "a/#" also matches "a"
	if hash, ok := node.children["#"]; ok && !(depth == 0 && strings.HasPrefix(segments[0], "$")) {
		collect(hash, append(path, "#"), matches)
	}

	if depth == len(segments) {
		collect(node, path, matches)
		return
	}

	segment := segments[depth]

	if child, ok := node.children[segment]; ok {
		t.findMatches(child, segments, depth+1, append(path, segment), matches)
	}

	if child, ok := node.children["+"]; ok && !(depth == 0 && strings.HasPrefix(segment, "$")) {
		t.findMatches(child, segments, depth+1, append(path, "+"), matches)
	}
}

func collect(node *topicNode, path []string, matches *[]TopicMatch) {
	if len(node.subs) == 0 {
		return
	}
	filter := strings.Join(path, "/")
	for key, qos := range node.subs {
		*matches = append(*matches, TopicMatch{Filter: filter, Key: key, QoS: qos})
	}
}
