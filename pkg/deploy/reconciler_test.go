package deploy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

func newTestReconciler(t *testing.T) (*Reconciler, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewReconciler(store), store
}

func testService() *types.Service {
	return &types.Service{
		ID:       "svc-1",
		Name:     "web",
		Image:    "nginx:1.27",
		Replicas: 3,
		Env:      []string{"MODE=prod"},
		Ports: []*types.ServicePort{
			{Name: "http", ContainerPort: 80, HostPort: 30000, Protocol: types.ProtocolTCP},
		},
	}
}

func TestReconcileCreatesDeploymentsAndWork(t *testing.T) {
	r, store := newTestReconciler(t)
	svc := testService()
	require.NoError(t, store.CreateService(svc))

	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-a", Count: 2},
		{ServiceID: "svc-1", HostID: "host-b", Count: 1},
	}))

	require.NoError(t, r.Reconcile(svc))

	deployments, err := store.ListDeploymentsByService("svc-1")
	require.NoError(t, err)
	assert.Len(t, deployments, 3)

	byHost := make(map[string]int)
	for _, d := range deployments {
		assert.Equal(t, types.DeploymentStatusPending, d.Status)
		byHost[d.HostID]++
	}
	assert.Equal(t, 2, byHost["host-a"])
	assert.Equal(t, 1, byHost["host-b"])

	// Each deployment got a deploy instruction with the full service spec.
	items, err := store.ListWorkItemsByHost("host-a")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, types.WorkItemDeploy, items[0].Kind)

	var spec DeploySpec
	require.NoError(t, json.Unmarshal([]byte(items[0].Payload), &spec))
	assert.Equal(t, "nginx:1.27", spec.Image)
	assert.Equal(t, "web", spec.ServiceName)
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 30000, spec.Ports[0].HostPort)
}

func TestReconcileIsIdempotent(t *testing.T) {
	r, store := newTestReconciler(t)
	svc := testService()
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-a", Count: 2},
	}))

	require.NoError(t, r.Reconcile(svc))
	require.NoError(t, r.Reconcile(svc))

	deployments, err := store.ListDeploymentsByService("svc-1")
	require.NoError(t, err)
	assert.Len(t, deployments, 2)
}

func TestReconcileRetiresOffPlanDeployments(t *testing.T) {
	r, store := newTestReconciler(t)
	svc := testService()
	svc.Replicas = 1
	require.NoError(t, store.CreateService(svc))

	// An active deployment on a host the plan no longer includes.
	now := time.Now()
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID:          "dep-old",
		ServiceID:   "svc-1",
		HostID:      "host-dead",
		Status:      types.DeploymentStatusRunning,
		ContainerID: "cafe0123beef",
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-new", Count: 1},
	}))

	require.NoError(t, r.Reconcile(svc))

	// The new host got a deploy; the old host got a stop carrying the
	// container id. The old row itself is untouched until the agent
	// confirms.
	newWork, err := store.ListWorkItemsByHost("host-new")
	require.NoError(t, err)
	require.Len(t, newWork, 1)
	assert.Equal(t, types.WorkItemDeploy, newWork[0].Kind)

	oldWork, err := store.ListWorkItemsByHost("host-dead")
	require.NoError(t, err)
	require.Len(t, oldWork, 1)
	assert.Equal(t, types.WorkItemStop, oldWork[0].Kind)

	var stop StopSpec
	require.NoError(t, json.Unmarshal([]byte(oldWork[0].Payload), &stop))
	assert.Equal(t, "dep-old", stop.DeploymentID)
	assert.Equal(t, "cafe0123beef", stop.ContainerID)

	old, err := store.GetDeployment("dep-old")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusRunning, old.Status)
}

func TestReconcileScalesDownWithinHost(t *testing.T) {
	r, store := newTestReconciler(t)
	svc := testService()
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-a", Count: 3},
	}))
	require.NoError(t, r.Reconcile(svc))

	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-a", Count: 1},
	}))
	require.NoError(t, r.Reconcile(svc))

	items, err := store.ListWorkItemsByHost("host-a")
	require.NoError(t, err)

	var stops int
	for _, item := range items {
		if item.Kind == types.WorkItemStop {
			stops++
		}
	}
	assert.Equal(t, 2, stops)
}
