package types

import (
	"time"
)

// Host represents a container host registered with the control plane
type Host struct {
	ID            string
	Name          string
	Address       string // Reachable IP or DNS name
	Status        HostStatus
	PublicKey     string // Base64 Ed25519 signing key registered at enrollment
	Token         string // Shared secret for hosts without a signing key
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// HostStatus represents the current state of a host
type HostStatus string

const (
	HostStatusPending HostStatus = "pending"
	HostStatusOnline  HostStatus = "online"
	HostStatusOffline HostStatus = "offline"
	HostStatusUnknown HostStatus = "unknown"
)

// Service represents a user-defined workload
type Service struct {
	ID        string
	Name      string
	Image     string
	Replicas  int
	AutoPlace bool // Placement is system-managed; false pins the operator's choice
	Stateful  bool // Tied to host-local data, never auto-recovered
	Env       []string
	Ports     []*ServicePort
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServicePort declares a port a service wants exposed
type ServicePort struct {
	Name          string
	ContainerPort int
	HostPort      int // Allocated by the port allocator when zero
	Protocol      Protocol
}

// Protocol identifies a transport protocol for port allocation
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// PlacementAssignment is the desired replica count for a service on one host.
// The set for a service is replaced wholesale on every planning pass; for a
// freshly planned service the counts sum to the service's desired replicas.
type PlacementAssignment struct {
	ServiceID string
	HostID    string
	Count     int
}

// Deployment represents one realized placement of a service on a host
type Deployment struct {
	ID          string
	ServiceID   string
	HostID      string
	Status      DeploymentStatus
	ContainerID string // Opaque, filled from agent reports
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeploymentStatus represents the state of a deployment
type DeploymentStatus string

const (
	DeploymentStatusPending  DeploymentStatus = "pending"
	DeploymentStatusStarting DeploymentStatus = "starting"
	DeploymentStatusRunning  DeploymentStatus = "running"
	DeploymentStatusHealthy  DeploymentStatus = "healthy"
	DeploymentStatusFailed   DeploymentStatus = "failed"
	DeploymentStatusStopped  DeploymentStatus = "stopped"
)

// Active reports whether the deployment counts toward a service's live
// replicas for recovery purposes.
func (s DeploymentStatus) Active() bool {
	switch s {
	case DeploymentStatusStarting, DeploymentStatusRunning, DeploymentStatusHealthy:
		return true
	}
	return false
}

// WorkItem is one unit of imperative instruction dispatched to an agent.
// Items move strictly forward: pending -> processing -> completed|failed.
type WorkItem struct {
	ID         string
	HostID     string
	Kind       WorkItemKind
	Payload    string // Opaque JSON, interpreted by the agent and the completion handler
	Status     WorkItemStatus
	Details    string // Agent-reported output or error detail
	CreatedAt  time.Time
	ClaimedAt  time.Time
	ResolvedAt time.Time
}

// WorkItemKind tags the variant of work an item carries
type WorkItemKind string

const (
	WorkItemDeploy         WorkItemKind = "deploy"
	WorkItemStop           WorkItemKind = "stop"
	WorkItemRestart        WorkItemKind = "restart"
	WorkItemBuild          WorkItemKind = "build"
	WorkItemCreateManifest WorkItemKind = "create_manifest"
	WorkItemBackupVolume   WorkItemKind = "backup_volume"
	WorkItemRestoreVolume  WorkItemKind = "restore_volume"
)

// WorkItemStatus represents the state of a work item
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemProcessing WorkItemStatus = "processing"
	WorkItemCompleted  WorkItemStatus = "completed"
	WorkItemFailed     WorkItemStatus = "failed"
)

// Resolved reports whether the item has reached a terminal state
func (s WorkItemStatus) Resolved() bool {
	return s == WorkItemCompleted || s == WorkItemFailed
}

// PortAssignment records one allocated host port. Unique per (protocol, port)
// within the configured range.
type PortAssignment struct {
	Protocol  Protocol
	Port      int
	ServiceID string
	Name      string // Owning service port name
	CreatedAt time.Time
}

// JoinToken authorizes one or more hosts to enroll with the fleet
type JoinToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its validity window
func (t *JoinToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
