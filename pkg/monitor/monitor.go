package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/metrics"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

const (
	// DefaultInterval is how often the monitor sweeps for stale hosts
	DefaultInterval = 1 * time.Minute

	// DefaultStaleAfter is how long a host may go silent before it is
	// considered offline
	DefaultStaleAfter = 2 * time.Minute
)

// Monitor watches host heartbeats and flips silent hosts offline. Each
// flipped host triggers a recovery pass for the services it was running.
type Monitor struct {
	store      storage.Store
	recovery   *Recovery
	broker     *events.Broker
	interval   time.Duration
	staleAfter time.Duration

	// excludeHostID skips one host from stale detection, for a host the
	// operator is deliberately keeping quiet (maintenance, migration).
	excludeHostID string

	logger zerolog.Logger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval overrides the sweep interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithStaleAfter overrides the silence threshold
func WithStaleAfter(d time.Duration) Option {
	return func(m *Monitor) { m.staleAfter = d }
}

// WithExcludedHost skips the given host id during stale detection
func WithExcludedHost(hostID string) Option {
	return func(m *Monitor) { m.excludeHostID = hostID }
}

// NewMonitor creates a heartbeat monitor
func NewMonitor(store storage.Store, recovery *Recovery, broker *events.Broker, opts ...Option) *Monitor {
	m := &Monitor{
		store:      store,
		recovery:   recovery,
		broker:     broker,
		interval:   DefaultInterval,
		staleAfter: DefaultStaleAfter,
		logger:     log.WithComponent("monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps for stale hosts until the context is cancelled
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("interval", m.interval).
		Dur("stale_after", m.staleAfter).
		Msg("Heartbeat monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-ctx.Done():
			m.logger.Info().Msg("Heartbeat monitor stopped")
			return
		}
	}
}

// sweep flips stale hosts offline and kicks off recovery for them. The flip
// is a single conditional store operation, so overlapping sweeps (or peers
// running the same monitor) never recover the same transition twice.
func (m *Monitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.staleAfter)
	flipped, err := m.store.MarkStaleHosts(cutoff, m.excludeHostID)
	if err != nil {
		m.logger.Error().Err(err).Msg("Stale host sweep failed")
		return
	}
	if len(flipped) == 0 {
		return
	}

	metrics.StaleHostsDetected.Add(float64(len(flipped)))
	for _, hostID := range flipped {
		m.logger.Warn().Str("host_id", hostID).Msg("Host went offline")
		m.broker.Publish(&events.Event{
			Type:     events.EventHostOffline,
			Message:  "host missed heartbeat deadline",
			Metadata: map[string]string{"host_id": hostID},
		})
	}

	// Recovery runs off the sweep loop so a slow re-plan cannot delay the
	// next detection pass.
	go func() {
		if err := m.recovery.RecoverHosts(ctx, flipped); err != nil {
			m.logger.Error().Err(err).Msg("Recovery pass reported failures")
		}
	}()
}

// TriggerRecovery runs a recovery pass over every currently offline host.
// Exposed for the operator to invoke manually.
func (m *Monitor) TriggerRecovery(ctx context.Context) error {
	offline, err := m.store.ListHostsByStatus(types.HostStatusOffline)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(offline))
	for _, h := range offline {
		ids = append(ids, h.ID)
	}
	return m.recovery.RecoverHosts(ctx, ids)
}
