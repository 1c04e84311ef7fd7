package storage

import (
	"errors"
	"time"

	"github.com/cordonproject/cordon/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional update finds the record in
	// a state that forbids the transition
	ErrConflict = errors.New("conflict")

	// ErrPortTaken is returned when a port assignment loses the uniqueness
	// race; the caller retries with a fresh scan
	ErrPortTaken = errors.New("port already assigned")
)

// Store defines the persistence contract required by the control plane:
// point lookup, filter-by-status, atomic conditional update-and-return,
// insert, and delete-by-filter. Implementations must make each method a
// single atomic operation against the shared state.
type Store interface {
	// Hosts
	CreateHost(host *types.Host) error
	GetHost(id string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	ListHostsByStatus(status types.HostStatus) ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	DeleteHost(id string) error

	// TouchHostHeartbeat records a heartbeat: timestamp update plus the
	// pending/offline -> online flip, as one conditional write.
	TouchHostHeartbeat(id string, now time.Time) (*types.Host, error)

	// MarkStaleHosts flips every online host whose last heartbeat is older
	// than cutoff to offline, optionally excluding one host id, and returns
	// the ids flipped by this call. The read and the flip are one atomic
	// operation so overlapping invocations never report the same transition.
	MarkStaleHosts(cutoff time.Time, excludeHostID string) ([]string, error)

	// Services
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(service *types.Service) error
	DeleteService(id string) error

	// Placement assignments
	ListAssignments(serviceID string) ([]*types.PlacementAssignment, error)

	// ReplaceAssignments swaps a service's assignment set wholesale
	// (delete-all-then-insert in one transaction) so no stale row can
	// reference a dead host.
	ReplaceAssignments(serviceID string, plan []*types.PlacementAssignment) error

	// Deployments
	CreateDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	ListDeploymentsByService(serviceID string) ([]*types.Deployment, error)
	ListDeploymentsByHost(hostID string) ([]*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
	DeleteDeployment(id string) error

	// Work items
	CreateWorkItem(item *types.WorkItem) error
	GetWorkItem(id string) (*types.WorkItem, error)
	ListWorkItemsByHost(hostID string) ([]*types.WorkItem, error)

	// ClaimPendingWork reads the host's pending items (optionally filtered
	// to the given kinds) and flips them to processing as one atomic
	// operation, guaranteeing at-most-once dispatch under concurrent polls.
	ClaimPendingWork(hostID string, kinds ...types.WorkItemKind) ([]*types.WorkItem, error)

	// ResolveWorkItem moves a processing item owned by hostID to a terminal
	// status. ErrNotFound if the item does not exist, ErrConflict if it is
	// not processing or belongs to another host; no mutation in either case.
	ResolveWorkItem(id, hostID string, status types.WorkItemStatus, details string) (*types.WorkItem, error)

	// Port assignments
	CreatePortAssignment(pa *types.PortAssignment) error
	ListPortAssignments(protocol types.Protocol) ([]*types.PortAssignment, error)
	DeletePortAssignmentsByService(serviceID string) error

	// Join tokens
	PutJoinToken(token *types.JoinToken) error
	TakeJoinToken(token string, now time.Time) (*types.JoinToken, error)

	// Utility
	Close() error
}
