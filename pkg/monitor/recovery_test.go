package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonproject/cordon/pkg/deploy"
	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/placement"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

func newTestRecovery(t *testing.T) (*Recovery, *storage.BoltStore, *events.Broker) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	r := NewRecovery(store, placement.NewEngine(store), deploy.NewReconciler(store), broker)
	return r, store, broker
}

func addHost(t *testing.T, store storage.Store, id string, status types.HostStatus) {
	t.Helper()
	require.NoError(t, store.CreateHost(&types.Host{
		ID:      id,
		Name:    id,
		Address: "10.0.0.1",
		Status:  status,
	}))
}

func TestRecoverHostsReplansService(t *testing.T) {
	r, store, _ := newTestRecovery(t)

	addHost(t, store, "host-a", types.HostStatusOffline)
	addHost(t, store, "host-b", types.HostStatusOnline)
	addHost(t, store, "host-c", types.HostStatusOnline)

	svc := &types.Service{ID: "svc-1", Name: "web", Image: "nginx:1.27", Replicas: 2, AutoPlace: true}
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-a", Count: 2},
	}))

	// Two replicas were live on the dead host.
	for _, id := range []string{"dep-1", "dep-2"} {
		require.NoError(t, store.CreateDeployment(&types.Deployment{
			ID:        id,
			ServiceID: "svc-1",
			HostID:    "host-a",
			Status:    types.DeploymentStatusRunning,
		}))
	}

	require.NoError(t, r.RecoverHosts(context.Background(), []string{"host-a"}))

	// The plan moved wholesale onto the survivors.
	plan, err := store.ListAssignments("svc-1")
	require.NoError(t, err)
	total := 0
	for _, a := range plan {
		assert.NotEqual(t, "host-a", a.HostID)
		total += a.Count
	}
	assert.Equal(t, 2, total)

	// New deployments landed on the surviving hosts; the dead host's rows
	// were not mutated by recovery.
	for _, id := range []string{"dep-1", "dep-2"} {
		d, err := store.GetDeployment(id)
		require.NoError(t, err)
		assert.Equal(t, types.DeploymentStatusRunning, d.Status)
	}

	deployments, err := store.ListDeploymentsByService("svc-1")
	require.NoError(t, err)
	fresh := 0
	for _, d := range deployments {
		if d.HostID != "host-a" {
			assert.Equal(t, types.DeploymentStatusPending, d.Status)
			fresh++
		}
	}
	assert.Equal(t, 2, fresh)
}

func TestRecoverHostsSkipsPinnedAndStateful(t *testing.T) {
	tests := []struct {
		name      string
		autoPlace bool
		stateful  bool
	}{
		{name: "operator-pinned placement", autoPlace: false, stateful: false},
		{name: "stateful service", autoPlace: true, stateful: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, _ := newTestRecovery(t)

			addHost(t, store, "host-a", types.HostStatusOffline)
			addHost(t, store, "host-b", types.HostStatusOnline)

			svc := &types.Service{
				ID: "svc-1", Name: "db", Image: "postgres:17",
				Replicas: 1, AutoPlace: tt.autoPlace, Stateful: tt.stateful,
			}
			require.NoError(t, store.CreateService(svc))
			require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
				{ServiceID: "svc-1", HostID: "host-a", Count: 1},
			}))
			require.NoError(t, store.CreateDeployment(&types.Deployment{
				ID: "dep-1", ServiceID: "svc-1", HostID: "host-a",
				Status: types.DeploymentStatusRunning,
			}))

			require.NoError(t, r.RecoverHosts(context.Background(), []string{"host-a"}))

			// The plan still points at the dead host: recovery kept hands off.
			plan, err := store.ListAssignments("svc-1")
			require.NoError(t, err)
			require.Len(t, plan, 1)
			assert.Equal(t, "host-a", plan[0].HostID)
		})
	}
}

func TestRecoverHostsNoSurvivors(t *testing.T) {
	r, store, broker := newTestRecovery(t)
	sub := broker.Subscribe()

	addHost(t, store, "host-a", types.HostStatusOffline)

	svc := &types.Service{ID: "svc-1", Name: "web", Image: "nginx:1.27", Replicas: 1, AutoPlace: true}
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "dep-1", ServiceID: "svc-1", HostID: "host-a",
		Status: types.DeploymentStatusRunning,
	}))

	err := r.RecoverHosts(context.Background(), []string{"host-a"})
	assert.ErrorIs(t, err, placement.ErrNoHealthyHosts)

	select {
	case event := <-sub:
		assert.Equal(t, events.EventRecoveryFailed, event.Type)
		assert.Equal(t, "svc-1", event.Metadata["service_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery failure event")
	}
}

func TestRecoverHostsIsolatesFailures(t *testing.T) {
	r, store, _ := newTestRecovery(t)

	addHost(t, store, "host-a", types.HostStatusOffline)
	addHost(t, store, "host-b", types.HostStatusOnline)

	// svc-gone has no service record: its recovery fails. svc-ok must
	// still be recovered afterwards (ids sort "gone" before "ok").
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "dep-1", ServiceID: "svc-gone", HostID: "host-a",
		Status: types.DeploymentStatusRunning,
	}))

	svc := &types.Service{ID: "svc-ok", Name: "web", Image: "nginx:1.27", Replicas: 1, AutoPlace: true}
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "dep-2", ServiceID: "svc-ok", HostID: "host-a",
		Status: types.DeploymentStatusRunning,
	}))

	err := r.RecoverHosts(context.Background(), []string{"host-a"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	plan, err := store.ListAssignments("svc-ok")
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "host-b", plan[0].HostID)
}

func TestRecoverHostsIgnoresInactiveDeployments(t *testing.T) {
	r, store, _ := newTestRecovery(t)

	addHost(t, store, "host-a", types.HostStatusOffline)
	addHost(t, store, "host-b", types.HostStatusOnline)

	svc := &types.Service{ID: "svc-1", Name: "web", Image: "nginx:1.27", Replicas: 1, AutoPlace: true}
	require.NoError(t, store.CreateService(svc))
	require.NoError(t, store.ReplaceAssignments("svc-1", []*types.PlacementAssignment{
		{ServiceID: "svc-1", HostID: "host-a", Count: 1},
	}))

	// Only a stopped deployment on the dead host: nothing to recover.
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "dep-1", ServiceID: "svc-1", HostID: "host-a",
		Status: types.DeploymentStatusStopped,
	}))

	require.NoError(t, r.RecoverHosts(context.Background(), []string{"host-a"}))

	plan, err := store.ListAssignments("svc-1")
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "host-a", plan[0].HostID)
}

func TestRecoverableService(t *testing.T) {
	assert.True(t, RecoverableService(&types.Service{AutoPlace: true}))
	assert.False(t, RecoverableService(&types.Service{AutoPlace: false}))
	assert.False(t, RecoverableService(&types.Service{AutoPlace: true, Stateful: true}))
}
