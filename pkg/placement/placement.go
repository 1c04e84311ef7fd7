package placement

import (
	"errors"
	"sort"

	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// ErrNoHealthyHosts is returned when placement has no host to plan onto
var ErrNoHealthyHosts = errors.New("no healthy hosts available")

// HealthyHosts filters a host snapshot down to hosts that can take work:
// status online with a usable address, minus any excluded ids. The result
// is in ascending id order; that order decides the spread tie-break, so it
// must be deterministic.
func HealthyHosts(hosts []*types.Host, exclude map[string]bool) []*types.Host {
	var healthy []*types.Host
	for _, host := range hosts {
		if host.Status != types.HostStatusOnline || host.Address == "" {
			continue
		}
		if exclude[host.ID] {
			continue
		}
		healthy = append(healthy, host)
	}

	sort.Slice(healthy, func(i, j int) bool {
		return healthy[i].ID < healthy[j].ID
	})
	return healthy
}

// Spread distributes totalReplicas across the given hosts as evenly as
// possible. With N hosts, each gets floor(total/N); the first total mod N
// hosts (in the order given) get one extra. Hosts assigned zero replicas are
// omitted. The function is pure relative to the snapshot passed in;
// persisting the plan is the caller's responsibility.
func Spread(serviceID string, totalReplicas int, hosts []*types.Host) ([]*types.PlacementAssignment, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHealthyHosts
	}
	if totalReplicas <= 0 {
		return nil, nil
	}

	base := totalReplicas / len(hosts)
	remainder := totalReplicas % len(hosts)

	var plan []*types.PlacementAssignment
	for i, host := range hosts {
		count := base
		if i < remainder {
			count++
		}
		if count == 0 {
			continue
		}
		plan = append(plan, &types.PlacementAssignment{
			ServiceID: serviceID,
			HostID:    host.ID,
			Count:     count,
		})
	}
	return plan, nil
}

// Engine plans placements over the current host snapshot in the store
type Engine struct {
	store storage.Store
}

// NewEngine creates a placement engine backed by the given store
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// HealthyHosts returns the current healthy host set, minus excluded ids
func (e *Engine) HealthyHosts(exclude map[string]bool) ([]*types.Host, error) {
	hosts, err := e.store.ListHosts()
	if err != nil {
		return nil, err
	}
	return HealthyHosts(hosts, exclude), nil
}

// PlanService computes a fresh spread plan for the service over the healthy
// host set, excluding the given host ids. It does not persist the plan.
func (e *Engine) PlanService(service *types.Service, exclude map[string]bool) ([]*types.PlacementAssignment, error) {
	healthy, err := e.HealthyHosts(exclude)
	if err != nil {
		return nil, err
	}
	return Spread(service.ID, service.Replicas, healthy)
}
