package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"mqtt-exerciser/config"
	"mqtt-exerciser/internal/logger"
	"mqtt-exerciser/internal/metrics"
	"mqtt-exerciser/internal/stats"
)

// Manager bootstraps clients with process-unique ids and stops them together.
type Manager struct {
	dialer  Dialer
	logger  *logger.Logger
	metrics *metrics.Metrics
	stats   *stats.StatsCollector

	handles  map[string]*ClientHandle
	reserved map[string]struct{}
	mu       sync.RWMutex
}

// NewManager creates a new client manager. Handles it creates default to
// these dialer, logger, metrics and stats unless HandleOptions set their own.
func NewManager(dialer Dialer, log *logger.Logger, m *metrics.Metrics, st *stats.StatsCollector) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		dialer:   dialer,
		logger:   log,
		metrics:  m,
		stats:    st,
		handles:  make(map[string]*ClientHandle),
		reserved: make(map[string]struct{}),
	}
}

// Connect reserves the client id and bootstraps the client. The id is
// released again if the connection fails; a handle that reached the broker
// is still returned in StateFailed but is not tracked.
func (m *Manager) Connect(ctx context.Context, cfg config.BrokerConfig, opts HandleOptions) (*ClientHandle, error) {
	if opts.ID == "" && opts.GenerateID {
		opts.ID = uuid.NewString()
	}
	if opts.Dialer == nil {
		opts.Dialer = m.dialer
	}
	if opts.Logger == nil {
		opts.Logger = m.logger
	}
	if opts.Metrics == nil {
		opts.Metrics = m.metrics
	}
	if opts.Stats == nil {
		opts.Stats = m.stats
	}

	if err := m.reserve(opts.ID); err != nil {
		return nil, err
	}

	h, err := Bootstrap(ctx, cfg, opts)
	if err != nil {
		m.release(opts.ID)
		return h, err
	}

	m.mu.Lock()
	m.handles[h.ID()] = h
	m.mu.Unlock()

	m.logger.Info("client connected", "client", h.ID(), "role", h.Role())
	return h, nil
}

func (m *Manager) reserve(id string) error {
	if id == "" {
		return fmt.Errorf("client id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reserved[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClientID, id)
	}
	m.reserved[id] = struct{}{}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.reserved, id)
	m.mu.Unlock()
}

// Get returns a client by id
func (m *Manager) Get(id string) (*ClientHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, exists := m.handles[id]
	if !exists {
		return nil, fmt.Errorf("client %s not found", id)
	}
	return h, nil
}

// ByRole returns the clients with role, sorted by id
func (m *Manager) ByRole(role Role) []*ClientHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ClientHandle
	for _, h := range m.handles {
		if h.Role() == role {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Len returns the number of connected clients held
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// StopAll stops every client. Ids stay reserved so they cannot be reused
// within the process.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	handles := make([]*ClientHandle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	var errs []error
	for _, h := range handles {
		if err := h.Stop(ctx); err != nil {
			m.logger.Error("failed to stop client",
				"client", h.ID(),
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
