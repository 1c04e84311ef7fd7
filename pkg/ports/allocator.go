package ports

import (
	"errors"
	"fmt"
	"time"

	"github.com/cordonproject/cordon/pkg/metrics"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// ErrRangeExhausted is returned when every port in a protocol's range is taken
var ErrRangeExhausted = errors.New("port range exhausted")

// Range is the allocatable window for one protocol
type Range struct {
	First int
	Last  int
}

// Default ranges: two disjoint 1000-port windows, one per protocol.
var (
	DefaultTCPRange = Range{First: 30000, Last: 30999}
	DefaultUDPRange = Range{First: 31000, Last: 31999}
)

// Allocator hands out host ports from a fixed range per protocol. It holds
// no locks; a race between two concurrent allocations is resolved by the
// store's uniqueness constraint, and the loser surfaces storage.ErrPortTaken
// so the caller can retry with a fresh scan.
type Allocator struct {
	store  storage.Store
	ranges map[types.Protocol]Range
}

// NewAllocator creates an allocator with the default ranges
func NewAllocator(store storage.Store) *Allocator {
	return &Allocator{
		store: store,
		ranges: map[types.Protocol]Range{
			types.ProtocolTCP: DefaultTCPRange,
			types.ProtocolUDP: DefaultUDPRange,
		},
	}
}

// Allocate scans the protocol's range in ascending order and claims the
// first port absent from the persisted assignment set. ErrRangeExhausted if
// every port in range is taken; storage.ErrPortTaken if another allocation
// won the race for the chosen port.
func (a *Allocator) Allocate(protocol types.Protocol, serviceID, name string) (*types.PortAssignment, error) {
	r, ok := a.ranges[protocol]
	if !ok {
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}

	assigned, err := a.store.ListPortAssignments(protocol)
	if err != nil {
		return nil, fmt.Errorf("failed to list port assignments: %w", err)
	}

	used := make(map[int]bool, len(assigned))
	for _, pa := range assigned {
		used[pa.Port] = true
	}

	for port := r.First; port <= r.Last; port++ {
		if used[port] {
			continue
		}

		pa := &types.PortAssignment{
			Protocol:  protocol,
			Port:      port,
			ServiceID: serviceID,
			Name:      name,
			CreatedAt: time.Now(),
		}
		if err := a.store.CreatePortAssignment(pa); err != nil {
			return nil, err
		}
		metrics.PortsAllocated.WithLabelValues(string(protocol)).Inc()
		return pa, nil
	}

	metrics.PortRangeExhausted.WithLabelValues(string(protocol)).Inc()
	return nil, fmt.Errorf("%s range %d-%d: %w", protocol, r.First, r.Last, ErrRangeExhausted)
}

// Release frees every port held by a service
func (a *Allocator) Release(serviceID string) error {
	return a.store.DeletePortAssignmentsByService(serviceID)
}
