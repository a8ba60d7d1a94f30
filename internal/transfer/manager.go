package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicelane/warmline/internal/brain"
	"github.com/voicelane/warmline/internal/callsession"
	"github.com/voicelane/warmline/internal/config"
	"github.com/voicelane/warmline/internal/lookup"
	"github.com/voicelane/warmline/internal/observability"
	"github.com/voicelane/warmline/internal/telephony"
)

var ErrSessionNotFound = errors.New("transfer session not found")

// Settings are the per-deployment knobs the orchestrator runs with.
type Settings struct {
	TrunkID              string
	CallerID             string
	RepresentativeNumber string
	HoldMusicResource    string

	DialTimeout        time.Duration
	BriefingAckTimeout time.Duration
	HoldMaxWait        time.Duration
	OnRepNoAnswer      config.RepNoAnswerPolicy

	CompanyName   string
	ProductName   string
	LookupTimeout time.Duration

	// SessionRetention is how long a finished session stays listable
	// before the janitor drops it from the registry.
	SessionRetention time.Duration
}

const defaultSessionRetention = time.Hour

// Manager owns the registry of transfer sessions and spawns one control
// goroutine per outbound call.
type Manager struct {
	driver   telephony.Driver
	router   *callsession.Router
	adapter  brain.Adapter
	store    lookup.Store
	metrics  *observability.Metrics
	settings Settings
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	onExpire func(Snapshot)
}

func NewManager(
	driver telephony.Driver,
	router *callsession.Router,
	adapter brain.Adapter,
	store lookup.Store,
	metrics *observability.Metrics,
	settings Settings,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.SessionRetention <= 0 {
		settings.SessionRetention = defaultSessionRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		driver:   driver,
		router:   router,
		adapter:  adapter,
		store:    store,
		metrics:  metrics,
		settings: settings,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// StartCall places an outbound call and returns immediately with the new
// session. The conversation runs on the session's own goroutine.
func (m *Manager) StartCall(_ context.Context, destination string, metadata map[string]string) (Snapshot, error) {
	if destination == "" {
		return Snapshot{}, fmt.Errorf("destination is required")
	}

	ts := newSession(destination, metadata)
	m.mu.Lock()
	m.sessions[ts.id] = ts
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		o := &orchestrator{
			m:      m,
			ts:     ts,
			logger: m.logger.With(zap.String("session_id", ts.id)),
		}
		o.run(m.ctx)
	}()

	m.logger.Info("outbound call started",
		zap.String("session_id", ts.id),
		zap.String("destination", destination))
	return ts.Snapshot(), nil
}

// Get returns the session snapshot by id.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	ts, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return ts.Snapshot(), nil
}

// List returns every known session, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, ts := range m.sessions {
		out = append(out, ts.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Hangup asks the session's control loop to tear the call down.
func (m *Manager) Hangup(id string) error {
	m.mu.Lock()
	ts, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	ts.RequestHangup()
	return nil
}

// ActiveCount reports sessions that have not reached a terminal state.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ts := range m.sessions {
		if !ts.State().Terminal() {
			n++
		}
	}
	return n
}

// SetExpireHook installs a callback invoked for every finished session
// the janitor drops from the registry.
func (m *Manager) SetExpireHook(hook func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// StartJanitor periodically drops finished sessions that are older than
// the retention window. The registry only grows between ticks.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pruneFinished()
			}
		}
	}()
}

func (m *Manager) pruneFinished() {
	cutoff := time.Now().UTC().Add(-m.settings.SessionRetention)
	var expired []Snapshot

	m.mu.Lock()
	for id, ts := range m.sessions {
		if !ts.finishedBefore(cutoff) {
			continue
		}
		expired = append(expired, ts.Snapshot())
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, snap := range expired {
		m.logger.Debug("finished session expired",
			zap.String("session_id", snap.ID),
			zap.String("state", string(snap.State)))
		if hook != nil {
			hook(snap)
		}
	}
}

// Shutdown cancels every control loop and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transfer manager shutdown: %w", ctx.Err())
	}
}
