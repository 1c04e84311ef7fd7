package workqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonproject/cordon/pkg/deploy"
	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/proxy"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

func newTestHandlers(t *testing.T) (*Handlers, *storage.BoltStore, *events.Broker) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	h := NewHandlers(store, broker, deploy.NewReconciler(store), proxy.NopSyncer{})
	return h, store, broker
}

func deployItem(t *testing.T, deploymentID string, status types.WorkItemStatus) *types.WorkItem {
	t.Helper()
	payload, err := json.Marshal(&deploy.DeploySpec{DeploymentID: deploymentID, ServiceID: "svc-1"})
	require.NoError(t, err)
	return &types.WorkItem{
		ID:      "w1",
		HostID:  "host-1",
		Kind:    types.WorkItemDeploy,
		Payload: string(payload),
		Status:  status,
	}
}

func TestHandleDeployCompleted(t *testing.T) {
	h, store, broker := newTestHandlers(t)
	sub := broker.Subscribe()

	d := &types.Deployment{ID: "dep-1", ServiceID: "svc-1", HostID: "host-1", Status: types.DeploymentStatusPending}
	require.NoError(t, store.CreateDeployment(d))

	h.HandleDeploy(deployItem(t, "dep-1", types.WorkItemCompleted), CompletionReport{
		Status:  types.WorkItemCompleted,
		Details: "started container 0123456789abcdef0123",
	})

	got, err := store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusRunning, got.Status)
	assert.Equal(t, "0123456789abcdef0123", got.ContainerID)

	select {
	case event := <-sub:
		assert.Equal(t, events.EventDeployRunning, event.Type)
		assert.Equal(t, "dep-1", event.Metadata["deployment_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestHandleDeployFailed(t *testing.T) {
	h, store, broker := newTestHandlers(t)
	sub := broker.Subscribe()

	d := &types.Deployment{ID: "dep-1", ServiceID: "svc-1", HostID: "host-1", Status: types.DeploymentStatusPending}
	require.NoError(t, store.CreateDeployment(d))

	h.HandleDeploy(deployItem(t, "dep-1", types.WorkItemFailed), CompletionReport{
		Status:  types.WorkItemFailed,
		Details: "image pull failed",
	})

	got, err := store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusFailed, got.Status)
	assert.Empty(t, got.ContainerID)

	select {
	case event := <-sub:
		assert.Equal(t, events.EventDeployFailed, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestHandleStopCompleted(t *testing.T) {
	h, store, _ := newTestHandlers(t)

	d := &types.Deployment{ID: "dep-1", ServiceID: "svc-1", HostID: "host-1", Status: types.DeploymentStatusRunning}
	require.NoError(t, store.CreateDeployment(d))

	payload, err := json.Marshal(&deploy.StopSpec{DeploymentID: "dep-1"})
	require.NoError(t, err)

	h.HandleStop(&types.WorkItem{
		ID:      "w1",
		HostID:  "host-1",
		Kind:    types.WorkItemStop,
		Payload: string(payload),
		Status:  types.WorkItemCompleted,
	}, CompletionReport{Status: types.WorkItemCompleted})

	got, err := store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusStopped, got.Status)
}

func TestHandleStopFailedLeavesDeployment(t *testing.T) {
	h, store, _ := newTestHandlers(t)

	d := &types.Deployment{ID: "dep-1", ServiceID: "svc-1", HostID: "host-1", Status: types.DeploymentStatusRunning}
	require.NoError(t, store.CreateDeployment(d))

	payload, err := json.Marshal(&deploy.StopSpec{DeploymentID: "dep-1"})
	require.NoError(t, err)

	h.HandleStop(&types.WorkItem{
		ID:      "w1",
		HostID:  "host-1",
		Kind:    types.WorkItemStop,
		Payload: string(payload),
		Status:  types.WorkItemFailed,
	}, CompletionReport{Status: types.WorkItemFailed, Details: "container wedged"})

	got, err := store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusRunning, got.Status)
}

func TestHandleBackupVolume(t *testing.T) {
	h, _, broker := newTestHandlers(t)
	sub := broker.Subscribe()

	h.HandleBackupVolume(&types.WorkItem{
		ID:     "w1",
		HostID: "host-1",
		Kind:   types.WorkItemBackupVolume,
		Status: types.WorkItemCompleted,
	}, CompletionReport{Status: types.WorkItemCompleted, Details: "snapshot uploaded"})

	select {
	case event := <-sub:
		assert.Equal(t, events.EventBackupCompleted, event.Type)
		assert.Equal(t, "snapshot uploaded", event.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestHandleCreateManifestReconciles(t *testing.T) {
	h, store, broker := newTestHandlers(t)
	sub := broker.Subscribe()

	svc := &types.Service{ID: "svc-1", Name: "web", Image: "nginx:1.27", Replicas: 1, AutoPlace: true}
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-1", Count: 1},
	}))

	payload, err := json.Marshal(map[string]string{"service_id": "svc-1"})
	require.NoError(t, err)

	h.HandleCreateManifest(&types.WorkItem{
		ID:      "w1",
		HostID:  "host-1",
		Kind:    types.WorkItemCreateManifest,
		Payload: string(payload),
		Status:  types.WorkItemCompleted,
	}, CompletionReport{Status: types.WorkItemCompleted})

	select {
	case event := <-sub:
		assert.Equal(t, events.EventManifestCompleted, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}

	// The reconcile realized the assignment into a deployment + work item.
	deployments, err := store.ListDeploymentsByService("svc-1")
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, "host-1", deployments[0].HostID)

	items, err := store.ListWorkItemsByHost("host-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, types.WorkItemDeploy, items[0].Kind)
}
