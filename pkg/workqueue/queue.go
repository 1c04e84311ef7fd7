package workqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/metrics"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// CompletionReport is what an agent sends back when resolving a work item
type CompletionReport struct {
	Status      types.WorkItemStatus `json:"status"`
	Details     string               `json:"details,omitempty"`
	ContainerID string               `json:"container_id,omitempty"`
}

// CompletionHandler runs the side effects for one resolved work item kind
type CompletionHandler func(item *types.WorkItem, report CompletionReport)

// Queue is the pull-based work dispatcher. Agents never receive pushed
// commands; they claim pending items and report terminal outcomes. Claiming
// and resolving are atomic store operations, so concurrent polls from a
// misconfigured agent pair cannot double-dispatch an item.
type Queue struct {
	store    storage.Store
	handlers map[types.WorkItemKind]CompletionHandler
	logger   zerolog.Logger
}

// NewQueue creates a work queue over the given store
func NewQueue(store storage.Store) *Queue {
	return &Queue{
		store:    store,
		handlers: make(map[types.WorkItemKind]CompletionHandler),
		logger:   log.WithComponent("workqueue"),
	}
}

// OnComplete registers the completion handler for a work item kind.
// Registration happens once at startup, before the API starts serving.
func (q *Queue) OnComplete(kind types.WorkItemKind, handler CompletionHandler) {
	q.handlers[kind] = handler
}

// Enqueue creates a pending work item for a host. payload is marshalled to
// JSON and carried opaquely to the agent.
func (q *Queue) Enqueue(hostID string, kind types.WorkItemKind, payload any) (*types.WorkItem, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	item := &types.WorkItem{
		ID:        uuid.New().String(),
		HostID:    hostID,
		Kind:      kind,
		Payload:   string(data),
		Status:    types.WorkItemPending,
		CreatedAt: time.Now(),
	}
	if err := q.store.CreateWorkItem(item); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s work: %w", kind, err)
	}

	metrics.WorkItemsCreated.WithLabelValues(string(kind)).Inc()
	q.logger.Debug().
		Str("work_item_id", item.ID).
		Str("host_id", hostID).
		Str("kind", string(kind)).
		Msg("Work item enqueued")
	return item, nil
}

// Claim atomically hands the host its pending work, flipped to processing.
// An empty kinds filter claims everything pending for the host.
func (q *Queue) Claim(hostID string, kinds ...types.WorkItemKind) ([]*types.WorkItem, error) {
	items, err := q.store.ClaimPendingWork(hostID, kinds...)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		metrics.WorkItemsClaimed.WithLabelValues(string(item.Kind)).Inc()
	}
	return items, nil
}

// Complete resolves a processing item to a terminal status on behalf of the
// owning host, then runs the kind's side effects asynchronously. A replayed
// or cross-host completion fails with storage.ErrConflict before any side
// effect runs.
func (q *Queue) Complete(itemID, hostID string, report CompletionReport) (*types.WorkItem, error) {
	if !report.Status.Resolved() {
		return nil, fmt.Errorf("status %q is not terminal: %w", report.Status, storage.ErrConflict)
	}

	item, err := q.store.ResolveWorkItem(itemID, hostID, report.Status, report.Details)
	if err != nil {
		return nil, err
	}

	metrics.WorkItemsResolved.WithLabelValues(string(item.Kind), string(item.Status)).Inc()
	q.logger.Info().
		Str("work_item_id", item.ID).
		Str("host_id", hostID).
		Str("kind", string(item.Kind)).
		Str("status", string(item.Status)).
		Msg("Work item resolved")

	if handler, ok := q.handlers[item.Kind]; ok {
		// Side effects run off the request path; the agent's completion
		// call returns as soon as the resolution is durable.
		go handler(item, report)
	}
	return item, nil
}

// ListByHost returns every work item recorded for a host, any status
func (q *Queue) ListByHost(hostID string) ([]*types.WorkItem, error) {
	return q.store.ListWorkItemsByHost(hostID)
}
