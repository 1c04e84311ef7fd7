package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// Route maps one service port to its live backends
type Route struct {
	Service  string    `json:"service"`
	PortName string    `json:"port_name"`
	Protocol string    `json:"protocol"`
	Backends []Backend `json:"backends"`
}

// Backend is one reachable endpoint for a route
type Backend struct {
	HostID  string `json:"host_id"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Syncer pushes the current route table to the edge after a deployment
// changes state. Sync failures are logged and retried on the next change;
// the route table is always rebuilt from scratch so a missed push heals.
type Syncer interface {
	Sync(ctx context.Context) error
}

// HTTPSyncer posts the full route table to an external proxy webhook
type HTTPSyncer struct {
	store  storage.Store
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPSyncer creates a syncer that posts routes to the given URL
func NewHTTPSyncer(store storage.Store, url string) *HTTPSyncer {
	return &HTTPSyncer{
		store:  store,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.WithComponent("proxy"),
	}
}

// Sync rebuilds the route table from the store and posts it
func (s *HTTPSyncer) Sync(ctx context.Context) error {
	routes, err := BuildRoutes(s.store)
	if err != nil {
		return fmt.Errorf("failed to build routes: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"routes": routes})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy sync failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("proxy sync rejected: %s", resp.Status)
	}

	s.logger.Debug().Int("routes", len(routes)).Msg("Route table synced")
	return nil
}

// BuildRoutes derives the route table from current state: one route per
// service port, backed by the hosts carrying an active deployment of that
// service. Hosts that are not online are left out even if a deployment row
// still references them.
func BuildRoutes(store storage.Store) ([]Route, error) {
	services, err := store.ListServices()
	if err != nil {
		return nil, err
	}
	hosts, err := store.ListHosts()
	if err != nil {
		return nil, err
	}

	online := make(map[string]*types.Host)
	for _, h := range hosts {
		if h.Status == types.HostStatusOnline && h.Address != "" {
			online[h.ID] = h
		}
	}

	var routes []Route
	for _, svc := range services {
		deployments, err := store.ListDeploymentsByService(svc.ID)
		if err != nil {
			return nil, err
		}

		var backends []Backend
		for _, d := range deployments {
			if !d.Status.Active() {
				continue
			}
			host, ok := online[d.HostID]
			if !ok {
				continue
			}
			backends = append(backends, Backend{HostID: host.ID, Address: host.Address})
		}
		if len(backends) == 0 {
			continue
		}

		for _, port := range svc.Ports {
			if port.HostPort == 0 {
				continue
			}
			route := Route{
				Service:  svc.Name,
				PortName: port.Name,
				Protocol: string(port.Protocol),
			}
			for _, b := range backends {
				b.Port = port.HostPort
				route.Backends = append(route.Backends, b)
			}
			routes = append(routes, route)
		}
	}
	return routes, nil
}

// NopSyncer discards syncs; used when no proxy webhook is configured
type NopSyncer struct{}

// Sync is a no-op
func (NopSyncer) Sync(context.Context) error { return nil }
