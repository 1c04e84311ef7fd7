package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/types"
	"github.com/cordonproject/cordon/pkg/workqueue"
)

// Version is stamped at build time
var Version = "dev"

// workQueueKinds are the kinds a general agent poll claims. Backup traffic
// runs over its own endpoint so a long volume transfer never starves
// deploys.
var workQueueKinds = []types.WorkItemKind{
	types.WorkItemDeploy,
	types.WorkItemStop,
	types.WorkItemRestart,
	types.WorkItemBuild,
	types.WorkItemCreateManifest,
}

var backupKinds = []types.WorkItemKind{
	types.WorkItemBackupVolume,
	types.WorkItemRestoreVolume,
}

// handleDiscover lets an unenrolled agent find the control plane and check
// clock skew before signing anything.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "cordon",
		"version":     Version,
		"server_time": time.Now().UnixMilli(),
	})
}

type registerRequest struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// handleRegister enrolls a host. The join token burns on use; the host
// starts pending and goes online with its first heartbeat.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Name == "" || req.Address == "" || req.PublicKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name, address and public_key are required"})
		return
	}

	if err := s.tokens.ConsumeToken(req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}

	host := &types.Host{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Address:   req.Address,
		Status:    types.HostStatusPending,
		PublicKey: req.PublicKey,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateHost(host); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.broker.Publish(&events.Event{
		Type:     events.EventHostEnrolled,
		Message:  "host enrolled",
		Metadata: map[string]string{"host_id": host.ID, "name": host.Name},
	})
	s.logger.Info().Str("host_id", host.ID).Str("name", host.Name).Msg("Host enrolled")

	writeJSON(w, http.StatusCreated, host)
}

// handleHeartbeat records liveness. The timestamp write and the
// pending/offline to online flip happen in one store operation.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	caller := hostFromContext(r)

	updated, err := s.store.TouchHostHeartbeat(caller.ID, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if caller.Status != types.HostStatusOnline && updated.Status == types.HostStatusOnline {
		s.broker.Publish(&events.Event{
			Type:     events.EventHostOnline,
			Message:  "host came online",
			Metadata: map[string]string{"host_id": updated.ID},
		})
		s.logger.Info().Str("host_id", updated.ID).Msg("Host online")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(updated.Status)})
}

// handleClaimWork atomically hands the caller its pending non-backup work
func (s *Server) handleClaimWork(w http.ResponseWriter, r *http.Request) {
	caller := hostFromContext(r)

	items, err := s.queue.Claim(caller.ID, workQueueKinds...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleCompleteWork resolves one claimed item. Replays and cross-host
// completions come back 409 without side effects.
func (s *Server) handleCompleteWork(w http.ResponseWriter, r *http.Request) {
	caller := hostFromContext(r)

	var report workqueue.CompletionReport
	if err := decodeJSON(r, &report); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	item, err := s.queue.Complete(r.PathValue("id"), caller.ID, report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleClaimBackupWork hands the caller its pending backup and restore work
func (s *Server) handleClaimBackupWork(w http.ResponseWriter, r *http.Request) {
	caller := hostFromContext(r)

	items, err := s.queue.Claim(caller.ID, backupKinds...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type backupReport struct {
	WorkItemID string `json:"work_item_id"`
	Details    string `json:"details,omitempty"`
}

func (s *Server) handleBackupComplete(w http.ResponseWriter, r *http.Request) {
	s.resolveBackup(w, r, types.WorkItemCompleted)
}

func (s *Server) handleBackupFailed(w http.ResponseWriter, r *http.Request) {
	s.resolveBackup(w, r, types.WorkItemFailed)
}

func (s *Server) resolveBackup(w http.ResponseWriter, r *http.Request, status types.WorkItemStatus) {
	caller := hostFromContext(r)

	var report backupReport
	if err := decodeJSON(r, &report); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	item, err := s.queue.Complete(report.WorkItemID, caller.ID, workqueue.CompletionReport{
		Status:  status,
		Details: report.Details,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
