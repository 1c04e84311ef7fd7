package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cordonproject/cordon/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketHosts       = []byte("hosts")
	bucketServices    = []byte("services")
	bucketAssignments = []byte("assignments")
	bucketDeployments = []byte("deployments")
	bucketWorkItems   = []byte("work_items")
	bucketPorts       = []byte("port_assignments")
	bucketJoinTokens  = []byte("join_tokens")
)

// BoltStore implements Store using BoltDB. Update transactions are
// serialized by bbolt, which is what makes the conditional read-and-flip
// operations below atomic without any extra locking.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cordon.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketHosts,
			bucketServices,
			bucketAssignments,
			bucketDeployments,
			bucketWorkItems,
			bucketPorts,
			bucketJoinTokens,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Host operations

func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.put(bucketHosts, host.ID, host)
}

func (s *BoltStore) GetHost(id string) (*types.Host, error) {
	var host types.Host
	if err := s.get(bucketHosts, id, &host); err != nil {
		return nil, fmt.Errorf("host %s: %w", id, err)
	}
	return &host, nil
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var host types.Host
			if err := json.Unmarshal(v, &host); err != nil {
				return err
			}
			hosts = append(hosts, &host)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) ListHostsByStatus(status types.HostStatus) ([]*types.Host, error) {
	hosts, err := s.ListHosts()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Host
	for _, host := range hosts {
		if host.Status == status {
			filtered = append(filtered, host)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.CreateHost(host) // Same as create (upsert)
}

func (s *BoltStore) DeleteHost(id string) error {
	return s.delete(bucketHosts, id)
}

func (s *BoltStore) TouchHostHeartbeat(id string, now time.Time) (*types.Host, error) {
	var host types.Host
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("host %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &host); err != nil {
			return err
		}

		host.LastHeartbeat = now
		if host.Status != types.HostStatusOnline {
			host.Status = types.HostStatusOnline
		}

		updated, err := json.Marshal(&host)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) MarkStaleHosts(cutoff time.Time, excludeHostID string) ([]string, error) {
	var flipped []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)

		// Collect before writing; bbolt cursors must not see Puts mid-scan.
		var stale []*types.Host
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var host types.Host
			if err := json.Unmarshal(v, &host); err != nil {
				return err
			}
			if host.ID == excludeHostID {
				continue
			}
			if host.Status != types.HostStatusOnline || !host.LastHeartbeat.Before(cutoff) {
				continue
			}
			stale = append(stale, &host)
		}

		for _, host := range stale {
			host.Status = types.HostStatusOffline
			data, err := json.Marshal(host)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(host.ID), data); err != nil {
				return err
			}
			flipped = append(flipped, host.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(flipped)
	return flipped, nil
}

// Service operations

func (s *BoltStore) CreateService(service *types.Service) error {
	return s.put(bucketServices, service.ID, service)
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var service types.Service
	if err := s.get(bucketServices, id, &service); err != nil {
		return nil, fmt.Errorf("service %s: %w", id, err)
	}
	return &service, nil
}

func (s *BoltStore) GetServiceByName(name string) (*types.Service, error) {
	services, err := s.ListServices()
	if err != nil {
		return nil, err
	}
	for _, service := range services {
		if service.Name == name {
			return service, nil
		}
	}
	return nil, fmt.Errorf("service %s: %w", name, ErrNotFound)
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			services = append(services, &service)
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) UpdateService(service *types.Service) error {
	return s.CreateService(service)
}

func (s *BoltStore) DeleteService(id string) error {
	return s.delete(bucketServices, id)
}

// Placement assignment operations.
// Keys are "<serviceID>/<hostID>" so a service's rows form one key range.

func assignmentKey(serviceID, hostID string) []byte {
	return []byte(serviceID + "/" + hostID)
}

func (s *BoltStore) ListAssignments(serviceID string) ([]*types.PlacementAssignment, error) {
	var assignments []*types.PlacementAssignment
	prefix := []byte(serviceID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAssignments).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var a types.PlacementAssignment
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			assignments = append(assignments, &a)
		}
		return nil
	})
	return assignments, err
}

func (s *BoltStore) ReplaceAssignments(serviceID string, plan []*types.PlacementAssignment) error {
	prefix := []byte(serviceID + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)

		// Delete-all-then-insert so no stale row survives the pass.
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}

		for _, a := range plan {
			if a.ServiceID != serviceID {
				return fmt.Errorf("assignment for service %s in plan for %s: %w", a.ServiceID, serviceID, ErrConflict)
			}
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := b.Put(assignmentKey(a.ServiceID, a.HostID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Deployment operations

func (s *BoltStore) CreateDeployment(d *types.Deployment) error {
	return s.put(bucketDeployments, d.ID, d)
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	if err := s.get(bucketDeployments, id, &d); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", id, err)
	}
	return &d, nil
}

func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			deployments = append(deployments, &d)
			return nil
		})
	})
	return deployments, err
}

func (s *BoltStore) ListDeploymentsByService(serviceID string) ([]*types.Deployment, error) {
	deployments, err := s.ListDeployments()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Deployment
	for _, d := range deployments {
		if d.ServiceID == serviceID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListDeploymentsByHost(hostID string) ([]*types.Deployment, error) {
	deployments, err := s.ListDeployments()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Deployment
	for _, d := range deployments {
		if d.HostID == hostID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateDeployment(d *types.Deployment) error {
	return s.CreateDeployment(d)
}

func (s *BoltStore) DeleteDeployment(id string) error {
	return s.delete(bucketDeployments, id)
}

// Work item operations

func (s *BoltStore) CreateWorkItem(item *types.WorkItem) error {
	return s.put(bucketWorkItems, item.ID, item)
}

func (s *BoltStore) GetWorkItem(id string) (*types.WorkItem, error) {
	var item types.WorkItem
	if err := s.get(bucketWorkItems, id, &item); err != nil {
		return nil, fmt.Errorf("work item %s: %w", id, err)
	}
	return &item, nil
}

func (s *BoltStore) ListWorkItemsByHost(hostID string) ([]*types.WorkItem, error) {
	var items []*types.WorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkItems).ForEach(func(k, v []byte) error {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.HostID == hostID {
				items = append(items, &item)
			}
			return nil
		})
	})
	return items, err
}

func (s *BoltStore) ClaimPendingWork(hostID string, kinds ...types.WorkItemKind) ([]*types.WorkItem, error) {
	wantKind := func(k types.WorkItemKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, kind := range kinds {
			if k == kind {
				return true
			}
		}
		return false
	}

	var claimed []*types.WorkItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkItems)

		var eligible []*types.WorkItem
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item types.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.HostID != hostID || item.Status != types.WorkItemPending || !wantKind(item.Kind) {
				continue
			}
			eligible = append(eligible, &item)
		}

		now := time.Now()
		for _, item := range eligible {
			item.Status = types.WorkItemProcessing
			item.ClaimedAt = now
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}
			claimed = append(claimed, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (s *BoltStore) ResolveWorkItem(id, hostID string, status types.WorkItemStatus, details string) (*types.WorkItem, error) {
	if !status.Resolved() {
		return nil, fmt.Errorf("status %s is not terminal: %w", status, ErrConflict)
	}

	var item types.WorkItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkItems)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("work item %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		if item.HostID != hostID {
			return fmt.Errorf("work item %s not assigned to host %s: %w", id, hostID, ErrConflict)
		}
		if item.Status != types.WorkItemProcessing {
			return fmt.Errorf("work item %s is %s: %w", id, item.Status, ErrConflict)
		}

		item.Status = status
		item.Details = details
		item.ResolvedAt = time.Now()

		updated, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Port assignment operations.
// Keys are "<protocol>/<port>" (zero-padded) so uniqueness per protocol and
// port falls out of the key space.

func portKey(protocol types.Protocol, port int) []byte {
	return []byte(fmt.Sprintf("%s/%05d", protocol, port))
}

func (s *BoltStore) CreatePortAssignment(pa *types.PortAssignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPorts)
		key := portKey(pa.Protocol, pa.Port)
		if b.Get(key) != nil {
			return fmt.Errorf("%s port %d: %w", pa.Protocol, pa.Port, ErrPortTaken)
		}
		data, err := json.Marshal(pa)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListPortAssignments(protocol types.Protocol) ([]*types.PortAssignment, error) {
	var assignments []*types.PortAssignment
	prefix := []byte(string(protocol) + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPorts).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var pa types.PortAssignment
			if err := json.Unmarshal(v, &pa); err != nil {
				return err
			}
			assignments = append(assignments, &pa)
		}
		return nil
	})
	return assignments, err
}

func (s *BoltStore) DeletePortAssignmentsByService(serviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPorts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var pa types.PortAssignment
			if err := json.Unmarshal(v, &pa); err != nil {
				return err
			}
			if pa.ServiceID != serviceID {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Join token operations

func (s *BoltStore) PutJoinToken(token *types.JoinToken) error {
	return s.put(bucketJoinTokens, token.Token, token)
}

// TakeJoinToken validates and consumes a join token in one transaction.
// Tokens are single-use; expired tokens are removed on sight.
func (s *BoltStore) TakeJoinToken(token string, now time.Time) (*types.JoinToken, error) {
	var jt types.JoinToken
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJoinTokens)
		data := b.Get([]byte(token))
		if data == nil {
			return fmt.Errorf("join token: %w", ErrNotFound)
		}
		if err := json.Unmarshal(data, &jt); err != nil {
			return err
		}
		if err := b.Delete([]byte(token)); err != nil {
			return err
		}
		if jt.Expired(now) {
			return fmt.Errorf("join token expired: %w", ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &jt, nil
}

// Shared helpers

func (s *BoltStore) put(bucket []byte, key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
