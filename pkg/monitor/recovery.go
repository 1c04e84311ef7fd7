package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/deploy"
	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/metrics"
	"github.com/cordonproject/cordon/pkg/placement"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// Recovery re-plans services after their hosts go offline. Services are
// recovered one at a time; a failure on one never blocks the rest.
type Recovery struct {
	store    storage.Store
	planner  *placement.Engine
	deployer *deploy.Reconciler
	broker   *events.Broker
	logger   zerolog.Logger

	// serviceLocks serializes concurrent recovery of the same service so
	// overlapping passes (tick-triggered and manual) cannot interleave a
	// replace-and-reconcile.
	mu           sync.Mutex
	serviceLocks map[string]*sync.Mutex
}

// NewRecovery creates a recovery planner
func NewRecovery(store storage.Store, planner *placement.Engine, deployer *deploy.Reconciler, broker *events.Broker) *Recovery {
	return &Recovery{
		store:        store,
		planner:      planner,
		deployer:     deployer,
		broker:       broker,
		logger:       log.WithComponent("recovery"),
		serviceLocks: make(map[string]*sync.Mutex),
	}
}

// RecoverHosts re-plans every recoverable service that had active
// deployments on the given offline hosts. Only services that opted into
// system placement and carry no host-local state are touched; everything
// else waits for the operator. Returns the joined per-service errors.
func (r *Recovery) RecoverHosts(ctx context.Context, offlineHostIDs []string) error {
	if len(offlineHostIDs) == 0 {
		return nil
	}

	metrics.RecoveryRuns.Inc()

	exclude := make(map[string]bool, len(offlineHostIDs))
	for _, id := range offlineHostIDs {
		exclude[id] = true
	}

	serviceIDs, err := r.affectedServices(offlineHostIDs)
	if err != nil {
		return err
	}
	if len(serviceIDs) == 0 {
		return nil
	}

	r.logger.Info().
		Strs("host_ids", offlineHostIDs).
		Strs("service_ids", serviceIDs).
		Msg("Starting recovery pass")

	var errs []error
	for _, serviceID := range serviceIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := r.recoverService(serviceID, exclude); err != nil {
			metrics.RecoveryFailures.Inc()
			errs = append(errs, fmt.Errorf("service %s: %w", serviceID, err))
			r.broker.Publish(&events.Event{
				Type:     events.EventRecoveryFailed,
				Message:  err.Error(),
				Metadata: map[string]string{"service_id": serviceID},
			})
			r.logger.Error().Err(err).Str("service_id", serviceID).Msg("Service recovery failed")
		}
	}
	return errors.Join(errs...)
}

// affectedServices collects the distinct services with active deployments
// on the offline hosts, in deterministic order.
func (r *Recovery) affectedServices(offlineHostIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, hostID := range offlineHostIDs {
		deployments, err := r.store.ListDeploymentsByHost(hostID)
		if err != nil {
			return nil, fmt.Errorf("failed to list deployments for host %s: %w", hostID, err)
		}
		for _, d := range deployments {
			if d.Status.Active() {
				seen[d.ServiceID] = true
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// recoverService re-plans one service over the surviving healthy hosts and
// reconciles the new plan into deployments and work items.
func (r *Recovery) recoverService(serviceID string, exclude map[string]bool) error {
	unlock := r.lockService(serviceID)
	defer unlock()

	service, err := r.store.GetService(serviceID)
	if err != nil {
		return fmt.Errorf("failed to load service: %w", err)
	}

	if !service.AutoPlace {
		r.logger.Info().Str("service_id", serviceID).Msg("Skipping recovery: placement is operator-pinned")
		return nil
	}
	if service.Stateful {
		r.logger.Info().Str("service_id", serviceID).Msg("Skipping recovery: service is tied to host-local state")
		return nil
	}

	plan, err := r.planner.PlanService(service, exclude)
	if err != nil {
		if errors.Is(err, placement.ErrNoHealthyHosts) {
			return fmt.Errorf("cannot re-place %s: %w", service.Name, err)
		}
		return err
	}

	if err := r.store.ReplaceAssignments(serviceID, plan); err != nil {
		return fmt.Errorf("failed to persist plan: %w", err)
	}
	if err := r.deployer.Reconcile(service); err != nil {
		return fmt.Errorf("failed to reconcile: %w", err)
	}

	metrics.ServicesRecovered.Inc()
	r.broker.Publish(&events.Event{
		Type:     events.EventServiceRecovered,
		Message:  "service re-planned after host failure",
		Metadata: map[string]string{"service_id": serviceID},
	})
	r.logger.Info().
		Str("service_id", serviceID).
		Int("hosts", len(plan)).
		Msg("Service recovered")
	return nil
}

func (r *Recovery) lockService(serviceID string) func() {
	r.mu.Lock()
	lock, ok := r.serviceLocks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		r.serviceLocks[serviceID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// RecoverableService reports whether recovery may move a service.
// Exposed for the admin API to explain skips.
func RecoverableService(s *types.Service) bool {
	return s.AutoPlace && !s.Stateful
}
