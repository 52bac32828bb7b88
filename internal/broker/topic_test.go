package broker

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicValidation(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		isFilter  bool
		wantError bool
	}{
		// Valid subscription filters
		{"Valid simple topic", "sensors/temp", true, false},
		{"Valid single-level wildcard", "sensors/+/temp", true, false},
		{"Valid multi-level wildcard", "encyclopedia/#", true, false},
		{"Valid lone multi-level wildcard", "#", true, false},
		{"Valid complex filter", "home/+/living/+/temp", true, false},
		{"Valid leading slash", "/sensors/temp", true, false},

		// Invalid subscription filters
		{"Empty filter", "", true, true},
		{"Invalid + wildcard", "sensors/+temp/value", true, true},
		{"Mid-topic #", "sensors/#/temp", true, true},
		{"Partial #", "sensors/temp#", true, true},

		// Valid publish topics
		{"Valid publish topic", "ece140b/ch1", false, false},
		{"Valid multi-segment", "home/floor1/living/temp", false, false},
		{"Valid trailing slash", "sensors/temp/", false, false},

		// Invalid publish topics
		{"Empty publish topic", "", false, true},
		{"Publish with +", "sensors/+/temp", false, true},
		{"Publish with #", "sensors/#", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.isFilter {
				err = ValidateFilter(tt.topic)
			} else {
				err = ValidateTopic(tt.topic)
			}

			if (err != nil) != tt.wantError {
				t.Errorf("validation error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"ece140b/ch1", "ece140b/ch1", true},
		{"ece140b/ch1", "ece140b/ch2", false},
		{"encyclopedia/#", "encyclopedia/random_number", true},
		{"encyclopedia/#", "encyclopedia", true},
		{"encyclopedia/#", "other/random_number", false},
		{"sensors/+/temp", "sensors/room1/temp", true},
		{"sensors/+/temp", "sensors/room1/humidity", false},
		{"sensors/+", "sensors/room1/temp", false},
		{"#", "anything/at/all", true},
		{"#", "$SYS/broker/uptime", false},
		{"+/broker/uptime", "$SYS/broker/uptime", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"a/b/c", "a/b", false},
		{"", "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.topic))
		})
	}
}

func TestTopicTree(t *testing.T) {
	tree := NewTopicTree()

	require.NoError(t, tree.Add("encyclopedia/#", "listener", 1))
	require.NoError(t, tree.Add("encyclopedia/random_number", "exact", 0))
	require.NoError(t, tree.Add("encyclopedia/+", "plus", 2))
	require.NoError(t, tree.Add("ece140b/ch1", "receiver", 1))
	assert.ErrorIs(t, tree.Add("a/#/b", "bad", 0), ErrInvalidFilter)

	keys := func(matches []TopicMatch) []string {
		out := make([]string, 0, len(matches))
		for _, m := range matches {
			out = append(out, m.Key)
		}
		sort.Strings(out)
		return out
	}

	assert.Equal(t, []string{"exact", "listener", "plus"}, keys(tree.Match("encyclopedia/random_number")))
	assert.Equal(t, []string{"listener"}, keys(tree.Match("encyclopedia")))
	assert.Equal(t, []string{"listener"}, keys(tree.Match("encyclopedia/a/b")))
	assert.Equal(t, []string{"receiver"}, keys(tree.Match("ece140b/ch1")))
	assert.Empty(t, tree.Match("ece140b/ch2"))
	assert.Empty(t, tree.Match("ece140b/+"), "wildcard topics never match")

	for _, m := range tree.Match("ece140b/ch1") {
		assert.Equal(t, "ece140b/ch1", m.Filter)
		assert.Equal(t, byte(1), m.QoS)
	}
	for _, m := range tree.Match("encyclopedia/x") {
		if m.Key == "listener" {
			assert.Equal(t, "encyclopedia/#", m.Filter)
		}
	}

	tree.Remove("encyclopedia/+", "plus")
	assert.Equal(t, []string{"exact", "listener"}, keys(tree.Match("encyclopedia/random_number")))

	tree.RemoveKey("listener")
	assert.Equal(t, []string{"exact"}, keys(tree.Match("encyclopedia/random_number")))
	assert.Empty(t, tree.Match("encyclopedia"))

	tree.Remove("does/not/exist", "nobody")
}

func TestTopicTreeConcurrency(t *testing.T) {
	tree := NewTopicTree()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			_ = tree.Add("sensors/+/temp", key, 1)
			tree.Match("sensors/room1/temp")
		}(i)
	}
	wg.Wait()

	assert.Len(t, tree.Match("sensors/room1/temp"), 10)
}
