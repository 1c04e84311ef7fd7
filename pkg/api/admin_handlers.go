package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

type servicePortRequest struct {
	Name          string `json:"name"`
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

type placementRequest struct {
	HostID string `json:"host_id"`
	Count  int    `json:"count"`
}

type serviceRequest struct {
	Name      string               `json:"name"`
	Image     string               `json:"image"`
	Replicas  int                  `json:"replicas"`
	AutoPlace *bool                `json:"auto_place,omitempty"`
	Stateful  bool                 `json:"stateful,omitempty"`
	Env       []string             `json:"env,omitempty"`
	Ports     []servicePortRequest `json:"ports,omitempty"`

	// Placements pins the plan when auto_place is false
	Placements []placementRequest `json:"placements,omitempty"`
}

// handleApplyService upserts a service by name, allocates any unassigned
// host ports, plans (or pins) its placement and reconciles the result.
func (s *Server) handleApplyService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Name == "" || req.Image == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and image are required"})
		return
	}
	if req.Replicas <= 0 {
		req.Replicas = 1
	}

	autoPlace := true
	if req.AutoPlace != nil {
		autoPlace = *req.AutoPlace
	}
	if !autoPlace && len(req.Placements) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "placements are required when auto_place is false"})
		return
	}

	service, err := s.upsertService(&req, autoPlace)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.allocateServicePorts(service); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.UpdateService(service); err != nil {
		s.writeError(w, r, err)
		return
	}

	plan, err := s.planFor(service, req.Placements, autoPlace)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.ReplaceAssignments(service.ID, plan); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deployer.Reconcile(service); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().
		Str("service_id", service.ID).
		Str("name", service.Name).
		Int("replicas", service.Replicas).
		Msg("Service applied")

	writeJSON(w, http.StatusOK, map[string]any{
		"service":     service,
		"assignments": plan,
	})
}

func (s *Server) upsertService(req *serviceRequest, autoPlace bool) (*types.Service, error) {
	now := time.Now()

	service, err := s.store.GetServiceByName(req.Name)
	if errors.Is(err, storage.ErrNotFound) {
		service = &types.Service{
			ID:        uuid.New().String(),
			Name:      req.Name,
			CreatedAt: now,
		}
		if err := s.store.CreateService(service); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	service.Image = req.Image
	service.Replicas = req.Replicas
	service.AutoPlace = autoPlace
	service.Stateful = req.Stateful
	service.Env = req.Env
	service.UpdatedAt = now

	// Carry over ports the service already holds so re-applies keep their
	// allocations; new port names get allocated below.
	existing := make(map[string]*types.ServicePort, len(service.Ports))
	for _, p := range service.Ports {
		existing[p.Name] = p
	}
	var portSpecs []*types.ServicePort
	for _, p := range req.Ports {
		protocol := types.Protocol(p.Protocol)
		if protocol == "" {
			protocol = types.ProtocolTCP
		}
		spec := &types.ServicePort{
			Name:          p.Name,
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      protocol,
		}
		if prev, ok := existing[p.Name]; ok && spec.HostPort == 0 && prev.Protocol == protocol {
			spec.HostPort = prev.HostPort
		}
		portSpecs = append(portSpecs, spec)
	}
	service.Ports = portSpecs
	return service, nil
}

// allocateServicePorts fills every zero HostPort from the allocator. A lost
// uniqueness race is retried with a fresh scan.
func (s *Server) allocateServicePorts(service *types.Service) error {
	for _, port := range service.Ports {
		if port.HostPort != 0 {
			continue
		}
		for {
			pa, err := s.allocator.Allocate(port.Protocol, service.ID, port.Name)
			if errors.Is(err, storage.ErrPortTaken) {
				continue
			}
			if err != nil {
				return err
			}
			port.HostPort = pa.Port
			break
		}
	}
	return nil
}

func (s *Server) planFor(service *types.Service, pinned []placementRequest, autoPlace bool) ([]*types.PlacementAssignment, error) {
	if autoPlace {
		return s.planner.PlanService(service, nil)
	}

	plan := make([]*types.PlacementAssignment, 0, len(pinned))
	for _, p := range pinned {
		if _, err := s.store.GetHost(p.HostID); err != nil {
			return nil, fmt.Errorf("pinned host %s: %w", p.HostID, err)
		}
		plan = append(plan, &types.PlacementAssignment{
			ServiceID: service.ID,
			HostID:    p.HostID,
			Count:     p.Count,
		})
	}
	return plan, nil
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.store.ListServices()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	service, err := s.store.GetService(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assignments, err := s.store.ListAssignments(service.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deployments, err := s.store.ListDeploymentsByService(service.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     service,
		"assignments": assignments,
		"deployments": deployments,
	})
}

// handleDeleteService winds a service down: empty plan, stop instructions
// for whatever is running, ports released, then the record removed.
func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	service, err := s.store.GetService(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.ReplaceAssignments(service.ID, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deployer.Reconcile(service); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.allocator.Release(service.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteService(service.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().Str("service_id", service.ID).Str("name", service.Name).Msg("Service deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.store.ListHosts()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hosts": hosts})
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	host, err := s.store.GetHost(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deployments, err := s.store.ListDeploymentsByHost(host.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"host":        host,
		"deployments": deployments,
	})
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	host, err := s.store.GetHost(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteHost(host.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().Str("host_id", host.ID).Msg("Host removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.store.ListDeployments()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("host")
	if hostID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "host query parameter is required"})
		return
	}
	items, err := s.queue.ListByHost(hostID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type portRequest struct {
	Protocol  string `json:"protocol"`
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
}

// handleAllocatePort hands out a host port outside the service apply path,
// for operators reserving a port ahead of a deployment.
func (s *Server) handleAllocatePort(w http.ResponseWriter, r *http.Request) {
	var req portRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Protocol == "" {
		req.Protocol = string(types.ProtocolTCP)
	}

	for {
		pa, err := s.allocator.Allocate(types.Protocol(req.Protocol), req.ServiceID, req.Name)
		if errors.Is(err, storage.ErrPortTaken) {
			continue
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pa)
		return
	}
}

// handleMintToken issues a single-use host join token
func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	jt, err := s.tokens.GenerateToken(s.tokenTTL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      jt.Token,
		"expires_at": jt.ExpiresAt,
	})
}

// handleTriggerRecovery runs a recovery pass over the offline hosts now
func (s *Server) handleTriggerRecovery(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.TriggerRecovery(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recovery complete"})
}
