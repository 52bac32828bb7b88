package stats

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector tracks run-wide and per-client counters. Safe for concurrent use.
type StatsCollector struct {
	StartTime time.Time

	published      atomic.Uint64
	publishErrors  atomic.Uint64
	received       atomic.Uint64
	connects       atomic.Uint64
	connectFailure atomic.Uint64
	subscriptions  atomic.Uint64

	mu      sync.Mutex
	clients map[string]*ClientStats
}

// ClientStats holds the counters of a single client.
type ClientStats struct {
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	Received      uint64 `json:"received"`
	LastPayload   string `json:"last_payload,omitempty"`
}

// Summary is a point-in-time snapshot of the collector.
type Summary struct {
	Uptime          string                 `json:"uptime"`
	Published       uint64                 `json:"published"`
	PublishErrors   uint64                 `json:"publish_errors"`
	Received        uint64                 `json:"received"`
	Connects        uint64                 `json:"connects"`
	ConnectFailures uint64                 `json:"connect_failures"`
	Subscriptions   uint64                 `json:"subscriptions"`
	Clients         map[string]ClientStats `json:"clients"`
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		StartTime: time.Now(),
		clients:   make(map[string]*ClientStats),
	}
}

func (s *StatsCollector) client(id string) *ClientStats {
	c, ok := s.clients[id]
	if !ok {
		c = &ClientStats{}
		s.clients[id] = c
	}
	return c
}

// RecordPublish counts one publish call by client with its payload
func (s *StatsCollector) RecordPublish(client string, payload []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.client(client)
	if err != nil {
		s.publishErrors.Add(1)
		c.PublishErrors++
		return
	}
	s.published.Add(1)
	c.Published++
	c.LastPayload = string(payload)
}

// RecordReceive counts one delivered message
func (s *StatsCollector) RecordReceive(client string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received.Add(1)
	c := s.client(client)
	c.Received++
	c.LastPayload = string(payload)
}

// RecordConnect counts a connection attempt
func (s *StatsCollector) RecordConnect(success bool) {
	if success {
		s.connects.Add(1)
		return
	}
	s.connectFailure.Add(1)
}

// RecordSubscribe counts an acknowledged subscription
func (s *StatsCollector) RecordSubscribe() {
	s.subscriptions.Add(1)
}

// Published returns the number of successful publishes of a client
func (s *StatsCollector) Published(client string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[client]; ok {
		return c.Published
	}
	return 0
}

// Received returns the number of messages delivered to a client
func (s *StatsCollector) Received(client string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[client]; ok {
		return c.Received
	}
	return 0
}

// Summary returns current statistics
func (s *StatsCollector) Summary() Summary {
	s.mu.Lock()
	clients := make(map[string]ClientStats, len(s.clients))
	for id, c := range s.clients {
		clients[id] = *c
	}
	s.mu.Unlock()

	return Summary{
		Uptime:          time.Since(s.StartTime).Round(time.Millisecond).String(),
		Published:       s.published.Load(),
		PublishErrors:   s.publishErrors.Load(),
		Received:        s.received.Load(),
		Connects:        s.connects.Load(),
		ConnectFailures: s.connectFailure.Load(),
		Subscriptions:   s.subscriptions.Load(),
		Clients:         clients,
	}
}

// JSON returns the summary as JSON
func (s *StatsCollector) JSON() ([]byte, error) {
	return json.Marshal(s.Summary())
}

// ClientIDs returns the known client ids in sorted order
func (sum Summary) ClientIDs() []string {
	ids := make([]string, 0, len(sum.Clients))
	for id := range sum.Clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CalculateRate calculates the publish rate per second
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(s.published.Load()) / uptime
}
