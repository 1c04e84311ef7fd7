package workqueue

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/deploy"
	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/proxy"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// containerIDPattern recognizes a container id quoted in free-form agent
// output, used only when the agent did not report the id as a field.
var containerIDPattern = regexp.MustCompile(`\b[0-9a-f]{12,64}\b`)

// Handlers owns the per-kind completion side effects. Each handler runs in
// its own goroutine after the resolution is durable; a handler failure is
// logged and never unwinds the completion itself.
type Handlers struct {
	store    storage.Store
	broker   *events.Broker
	deployer *deploy.Reconciler
	syncer   proxy.Syncer
	logger   zerolog.Logger
}

// NewHandlers creates the completion handler set
func NewHandlers(store storage.Store, broker *events.Broker, deployer *deploy.Reconciler, syncer proxy.Syncer) *Handlers {
	return &Handlers{
		store:    store,
		broker:   broker,
		deployer: deployer,
		syncer:   syncer,
		logger:   log.WithComponent("workqueue"),
	}
}

// Register wires every kind's handler into the queue
func (h *Handlers) Register(q *Queue) {
	q.OnComplete(types.WorkItemDeploy, h.HandleDeploy)
	q.OnComplete(types.WorkItemStop, h.HandleStop)
	q.OnComplete(types.WorkItemRestart, h.HandleRestart)
	q.OnComplete(types.WorkItemCreateManifest, h.HandleCreateManifest)
	q.OnComplete(types.WorkItemBackupVolume, h.HandleBackupVolume)
	q.OnComplete(types.WorkItemRestoreVolume, h.HandleRestoreVolume)
}

// HandleDeploy moves the deployment to running or failed and refreshes the
// proxy routes when a new backend came up.
func (h *Handlers) HandleDeploy(item *types.WorkItem, report CompletionReport) {
	var spec deploy.DeploySpec
	if err := json.Unmarshal([]byte(item.Payload), &spec); err != nil {
		h.logger.Error().Err(err).Str("work_item_id", item.ID).Msg("Malformed deploy payload")
		return
	}

	d, err := h.store.GetDeployment(spec.DeploymentID)
	if err != nil {
		h.logger.Error().Err(err).Str("deployment_id", spec.DeploymentID).Msg("Deployment missing on completion")
		return
	}

	if item.Status == types.WorkItemCompleted {
		d.Status = types.DeploymentStatusRunning
		d.ContainerID = extractContainerID(report)
	} else {
		d.Status = types.DeploymentStatusFailed
	}
	d.UpdatedAt = time.Now()

	if err := h.store.UpdateDeployment(d); err != nil {
		h.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("Failed to update deployment")
		return
	}

	if item.Status == types.WorkItemCompleted {
		h.publish(events.EventDeployRunning, "deployment running", map[string]string{
			"deployment_id": d.ID,
			"service_id":    d.ServiceID,
			"host_id":       d.HostID,
		})
		h.syncRoutes()
	} else {
		h.publish(events.EventDeployFailed, report.Details, map[string]string{
			"deployment_id": d.ID,
			"service_id":    d.ServiceID,
			"host_id":       d.HostID,
		})
	}
}

// HandleStop marks the deployment stopped and drops it from the routes
func (h *Handlers) HandleStop(item *types.WorkItem, report CompletionReport) {
	var spec deploy.StopSpec
	if err := json.Unmarshal([]byte(item.Payload), &spec); err != nil {
		h.logger.Error().Err(err).Str("work_item_id", item.ID).Msg("Malformed stop payload")
		return
	}

	d, err := h.store.GetDeployment(spec.DeploymentID)
	if err != nil {
		h.logger.Error().Err(err).Str("deployment_id", spec.DeploymentID).Msg("Deployment missing on stop completion")
		return
	}

	if item.Status == types.WorkItemCompleted {
		d.Status = types.DeploymentStatusStopped
		d.UpdatedAt = time.Now()
		if err := h.store.UpdateDeployment(d); err != nil {
			h.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("Failed to update deployment")
			return
		}
		h.publish(events.EventDeployStopped, "deployment stopped", map[string]string{
			"deployment_id": d.ID,
			"service_id":    d.ServiceID,
			"host_id":       d.HostID,
		})
		h.syncRoutes()
		return
	}

	// A failed stop leaves the deployment as-is for the operator.
	h.logger.Warn().
		Str("deployment_id", d.ID).
		Str("details", report.Details).
		Msg("Agent failed to stop deployment")
}

// HandleRestart only needs a route refresh; the container id may change
func (h *Handlers) HandleRestart(item *types.WorkItem, report CompletionReport) {
	if item.Status != types.WorkItemCompleted {
		h.logger.Warn().Str("work_item_id", item.ID).Str("details", report.Details).Msg("Restart failed on agent")
		return
	}
	h.syncRoutes()
}

// HandleCreateManifest reconciles the service once its manifest exists on
// the host, so the follow-up deploys carry a complete spec.
func (h *Handlers) HandleCreateManifest(item *types.WorkItem, report CompletionReport) {
	var payload struct {
		ServiceID string `json:"service_id"`
	}
	if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
		h.logger.Error().Err(err).Str("work_item_id", item.ID).Msg("Malformed manifest payload")
		return
	}

	meta := map[string]string{"service_id": payload.ServiceID, "host_id": item.HostID}
	if item.Status != types.WorkItemCompleted {
		h.publish(events.EventManifestFailed, report.Details, meta)
		return
	}
	h.publish(events.EventManifestCompleted, "manifest created", meta)

	service, err := h.store.GetService(payload.ServiceID)
	if err != nil {
		h.logger.Error().Err(err).Str("service_id", payload.ServiceID).Msg("Service missing on manifest completion")
		return
	}
	if err := h.deployer.Reconcile(service); err != nil {
		h.logger.Error().Err(err).Str("service_id", service.ID).Msg("Post-manifest reconcile failed")
	}
}

// HandleBackupVolume records the backup outcome as an event
func (h *Handlers) HandleBackupVolume(item *types.WorkItem, report CompletionReport) {
	meta := map[string]string{"host_id": item.HostID, "work_item_id": item.ID}
	if item.Status == types.WorkItemCompleted {
		h.publish(events.EventBackupCompleted, report.Details, meta)
	} else {
		h.publish(events.EventBackupFailed, report.Details, meta)
	}
}

// HandleRestoreVolume records the restore outcome as an event
func (h *Handlers) HandleRestoreVolume(item *types.WorkItem, report CompletionReport) {
	meta := map[string]string{"host_id": item.HostID, "work_item_id": item.ID}
	if item.Status == types.WorkItemCompleted {
		h.publish(events.EventRestoreCompleted, report.Details, meta)
	} else {
		h.publish(events.EventRestoreFailed, report.Details, meta)
	}
}

func (h *Handlers) publish(eventType events.EventType, message string, metadata map[string]string) {
	h.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}

func (h *Handlers) syncRoutes() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := h.syncer.Sync(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Route sync failed")
	}
}

// extractContainerID prefers the structured field and falls back to
// scanning free-form details for something container-id shaped.
func extractContainerID(report CompletionReport) string {
	if report.ContainerID != "" {
		return report.ContainerID
	}
	return containerIDPattern.FindString(report.Details)
}
