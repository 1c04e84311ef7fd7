package placement

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonproject/cordon/pkg/types"
)

func onlineHost(id string) *types.Host {
	return &types.Host{ID: id, Address: "10.0.0.1", Status: types.HostStatusOnline}
}

func TestHealthyHosts(t *testing.T) {
	hosts := []*types.Host{
		{ID: "c", Address: "10.0.0.3", Status: types.HostStatusOnline},
		{ID: "a", Address: "10.0.0.1", Status: types.HostStatusOnline},
		{ID: "b", Address: "", Status: types.HostStatusOnline},
		{ID: "d", Address: "10.0.0.4", Status: types.HostStatusOffline},
		{ID: "e", Address: "10.0.0.5", Status: types.HostStatusPending},
	}

	healthy := HealthyHosts(hosts, nil)
	require.Len(t, healthy, 2)
	// Ascending id order; the spread tie-break depends on it.
	assert.Equal(t, "a", healthy[0].ID)
	assert.Equal(t, "c", healthy[1].ID)

	excluded := HealthyHosts(hosts, map[string]bool{"a": true})
	require.Len(t, excluded, 1)
	assert.Equal(t, "c", excluded[0].ID)
}

func TestSpread(t *testing.T) {
	tests := []struct {
		name     string
		replicas int
		hosts    int
		want     []int
	}{
		{name: "five across three", replicas: 5, hosts: 3, want: []int{2, 2, 1}},
		{name: "even split", replicas: 6, hosts: 3, want: []int{2, 2, 2}},
		{name: "fewer replicas than hosts", replicas: 2, hosts: 4, want: []int{1, 1}},
		{name: "single host takes all", replicas: 7, hosts: 1, want: []int{7}},
		{name: "one replica", replicas: 1, hosts: 3, want: []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hosts []*types.Host
			for i := 0; i < tt.hosts; i++ {
				hosts = append(hosts, onlineHost(fmt.Sprintf("host-%d", i)))
			}

			plan, err := Spread("svc-1", tt.replicas, hosts)
			require.NoError(t, err)
			require.Len(t, plan, len(tt.want))

			total := 0
			for i, a := range plan {
				assert.Equal(t, tt.want[i], a.Count)
				assert.Equal(t, "svc-1", a.ServiceID)
				// Extra replicas land on the first hosts in id order.
				assert.Equal(t, hosts[i].ID, a.HostID)
				total += a.Count
			}
			assert.Equal(t, tt.replicas, total, "counts must sum to the desired replicas")
		})
	}
}

func TestSpreadNoHosts(t *testing.T) {
	_, err := Spread("svc-1", 3, nil)
	assert.ErrorIs(t, err, ErrNoHealthyHosts)
}

func TestSpreadZeroReplicas(t *testing.T) {
	plan, err := Spread("svc-1", 0, []*types.Host{onlineHost("a")})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestSpreadDeterministic(t *testing.T) {
	hosts := []*types.Host{onlineHost("a"), onlineHost("b"), onlineHost("c")}

	first, err := Spread("svc-1", 4, hosts)
	require.NoError(t, err)
	second, err := Spread("svc-1", 4, hosts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
