package deploy

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

// DeploySpec is the payload an agent receives with a deploy work item
type DeploySpec struct {
	DeploymentID string        `json:"deployment_id"`
	ServiceID    string        `json:"service_id"`
	ServiceName  string        `json:"service_name"`
	Image        string        `json:"image"`
	Env          []string      `json:"env,omitempty"`
	Ports        []*DeployPort `json:"ports,omitempty"`
}

// DeployPort is one port mapping in a deploy payload
type DeployPort struct {
	Name          string `json:"name"`
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
}

// StopSpec is the payload an agent receives with a stop work item
type StopSpec struct {
	DeploymentID string `json:"deployment_id"`
	ContainerID  string `json:"container_id,omitempty"`
}

// Reconciler converges a service's deployments toward its assignment plan.
// It only writes desired state: Deployment rows plus the work items that
// instruct agents. Actual container state flows back through work item
// completions.
type Reconciler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewReconciler creates a reconciler over the given store
func NewReconciler(store storage.Store) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: log.WithComponent("deploy"),
	}
}

// Reconcile brings a single service's deployments in line with its stored
// assignments. Hosts in the plan get deployments up to their assigned count;
// active deployments on hosts outside the plan (or beyond their count) get a
// stop instruction. Terminal deployments are left for inspection.
func (r *Reconciler) Reconcile(service *types.Service) error {
	plan, err := r.store.ListAssignments(service.ID)
	if err != nil {
		return fmt.Errorf("failed to list assignments: %w", err)
	}

	deployments, err := r.store.ListDeploymentsByService(service.ID)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}

	// Active deployments per host, in creation order.
	activeByHost := make(map[string][]*types.Deployment)
	for _, d := range deployments {
		if d.Status.Active() || d.Status == types.DeploymentStatusPending {
			activeByHost[d.HostID] = append(activeByHost[d.HostID], d)
		}
	}

	desired := make(map[string]int, len(plan))
	for _, a := range plan {
		desired[a.HostID] = a.Count
	}

	for hostID, count := range desired {
		have := len(activeByHost[hostID])
		for i := have; i < count; i++ {
			if err := r.launch(service, hostID); err != nil {
				return err
			}
		}
		if have > count {
			for _, d := range activeByHost[hostID][count:] {
				if err := r.retire(d); err != nil {
					return err
				}
			}
		}
	}

	// Everything on hosts outside the plan comes down.
	for hostID, existing := range activeByHost {
		if _, planned := desired[hostID]; planned {
			continue
		}
		for _, d := range existing {
			if err := r.retire(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// launch records a pending deployment and queues the deploy instruction
func (r *Reconciler) launch(service *types.Service, hostID string) error {
	now := time.Now()
	deployment := &types.Deployment{
		ID:        uuid.New().String(),
		ServiceID: service.ID,
		HostID:    hostID,
		Status:    types.DeploymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateDeployment(deployment); err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	spec := &DeploySpec{
		DeploymentID: deployment.ID,
		ServiceID:    service.ID,
		ServiceName:  service.Name,
		Image:        service.Image,
		Env:          service.Env,
	}
	for _, p := range service.Ports {
		spec.Ports = append(spec.Ports, &DeployPort{
			Name:          p.Name,
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      string(p.Protocol),
		})
	}

	if err := r.enqueue(hostID, types.WorkItemDeploy, spec); err != nil {
		return err
	}

	r.logger.Info().
		Str("service_id", service.ID).
		Str("host_id", hostID).
		Str("deployment_id", deployment.ID).
		Msg("Deployment scheduled")
	return nil
}

// retire queues a stop instruction for a deployment that should not run.
// The row stays active until the agent confirms the stop.
func (r *Reconciler) retire(d *types.Deployment) error {
	spec := &StopSpec{DeploymentID: d.ID, ContainerID: d.ContainerID}
	if err := r.enqueue(d.HostID, types.WorkItemStop, spec); err != nil {
		return err
	}

	r.logger.Info().
		Str("deployment_id", d.ID).
		Str("host_id", d.HostID).
		Msg("Deployment retirement scheduled")
	return nil
}

func (r *Reconciler) enqueue(hostID string, kind types.WorkItemKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	item := &types.WorkItem{
		ID:        uuid.New().String(),
		HostID:    hostID,
		Kind:      kind,
		Payload:   string(data),
		Status:    types.WorkItemPending,
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateWorkItem(item); err != nil {
		return fmt.Errorf("failed to enqueue %s work: %w", kind, err)
	}
	metrics.WorkItemsCreated.WithLabelValues(string(kind)).Inc()
	return nil
}
