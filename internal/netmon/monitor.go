// Package netmon tracks reachability of the remote service.
// It probes a lightweight endpoint on an interval and publishes online/offline
// transitions to subscribers. Consumers treat its answer as a hint: the sync
// coordinator still handles request failures on its own, the monitor just
// decides when drains are worth attempting.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds network monitor configuration
type Config struct {
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Transition is one observed connectivity change
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor periodically probes the remote service and tracks connectivity.
// Transitions are edge-triggered: subscribers hear about changes, not about
// every probe.
type Monitor struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger

	mu          sync.Mutex
	online      bool
	lastChecked time.Time
	subscribers []chan Transition
	started     bool
	stopped     bool
	stop        chan struct{}
	wg          sync.WaitGroup
}

// New creates a network monitor. The monitor starts pessimistic (offline)
// until the first probe completes.
func New(cfg Config, log zerolog.Logger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	return &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
		log:    log.With().Str("component", "netmon").Logger(),
		stop:   make(chan struct{}),
	}
}

// Start begins probing. The first probe runs synchronously so callers observe
// a real connectivity state as soon as Start returns.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started && !m.stopped {
		m.mu.Unlock()
		m.log.Warn().Msg("Network monitor already started, ignoring")
		return
	}
	if m.stopped {
		m.stop = make(chan struct{})
		m.stopped = false
	}
	m.started = true
	m.mu.Unlock()

	m.CheckNow()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.CheckNow()
			}
		}
	}()

	m.log.Info().
		Str("probe_url", m.cfg.ProbeURL).
		Dur("interval", m.cfg.ProbeInterval).
		Msg("Network monitor started")
}

// Stop halts probing and waits for the probe loop to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("Network monitor stopped")
}

// IsOnline reports the last observed connectivity state
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastChecked returns the time of the most recent probe
func (m *Monitor) LastChecked() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChecked
}

// Subscribe registers for connectivity transitions. The channel is buffered;
// a subscriber that falls behind loses intermediate transitions but always
// sees the latest one eventually because delivery is non-blocking and the
// next transition is re-sent.
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 4)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// CheckNow probes immediately and returns the resulting state.
// Used by the sync coordinator before a manual sync and after request
// failures that suggest connectivity was lost.
func (m *Monitor) CheckNow() bool {
	online := m.probe()

	m.mu.Lock()
	m.lastChecked = time.Now()
	changed := online != m.online
	m.online = online
	var subs []chan Transition
	if changed {
		subs = make([]chan Transition, len(m.subscribers))
		copy(subs, m.subscribers)
	}
	m.mu.Unlock()

	if changed {
		m.log.Info().Bool("online", online).Msg("Connectivity changed")
		t := Transition{Online: online, At: time.Now()}
		for _, ch := range subs {
			select {
			case ch <- t:
			default:
			}
		}
	}

	return online
}

// MarkOffline records an observed connectivity loss without waiting for the
// next probe. Called by the coordinator when a request fails transiently.
func (m *Monitor) MarkOffline() {
	m.mu.Lock()
	changed := m.online
	m.online = false
	var subs []chan Transition
	if changed {
		subs = make([]chan Transition, len(m.subscribers))
		copy(subs, m.subscribers)
	}
	m.mu.Unlock()

	if changed {
		m.log.Info().Bool("online", false).Msg("Connectivity changed")
		t := Transition{Online: false, At: time.Now()}
		for _, ch := range subs {
			select {
			case ch <- t:
			default:
			}
		}
	}
}

func (m *Monitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		m.log.Error().Err(err).Msg("Invalid probe URL")
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// Any response proves reachability, even an error status
	return resp.StatusCode < 500
}
