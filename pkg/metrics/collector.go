package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// Collector periodically refreshes the fleet state gauges from the store.
// Counters are incremented at their call sites; only gauges need a sweep.
type Collector struct {
	store    storage.Store
	interval time.Duration
	logger   zerolog.Logger
}

// NewCollector creates a collector refreshing every interval
func NewCollector(store storage.Store, interval time.Duration) *Collector {
	return &Collector{
		store:    store,
		interval: interval,
		logger:   log.WithComponent("metrics"),
	}
}

// Run sweeps the gauges until the context is cancelled
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sweep()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) sweep() {
	hosts, err := c.store.ListHosts()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to collect host metrics")
		return
	}
	byStatus := make(map[types.HostStatus]int)
	for _, h := range hosts {
		byStatus[h.Status]++
	}
	for _, status := range []types.HostStatus{
		types.HostStatusPending,
		types.HostStatusOnline,
		types.HostStatusOffline,
		types.HostStatusUnknown,
	} {
		HostsByStatus.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}

	services, err := c.store.ListServices()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to collect service metrics")
		return
	}
	ServicesTotal.Set(float64(len(services)))

	deployments, err := c.store.ListDeployments()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to collect deployment metrics")
		return
	}
	deployByStatus := make(map[types.DeploymentStatus]int)
	for _, d := range deployments {
		deployByStatus[d.Status]++
	}
	for _, status := range []types.DeploymentStatus{
		types.DeploymentStatusPending,
		types.DeploymentStatusStarting,
		types.DeploymentStatusRunning,
		types.DeploymentStatusHealthy,
		types.DeploymentStatusFailed,
		types.DeploymentStatusStopped,
	} {
		DeploymentsByStatus.WithLabelValues(string(status)).Set(float64(deployByStatus[status]))
	}
}
