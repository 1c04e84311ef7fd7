package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cordonproject/cordon/pkg/auth"
	"github.com/cordonproject/cordon/pkg/types"
	"github.com/cordonproject/cordon/pkg/workqueue"
)

// Client is the agent side of the control plane API. Every authenticated
// call signs the raw body with the agent's key; there is no session.
type Client struct {
	baseURL string
	hostID  string
	keys    *auth.KeyPair
	http    *http.Client
}

// New creates a client for an enrolled host
func New(baseURL, hostID string, keys *auth.KeyPair) *Client {
	return &Client{
		baseURL: baseURL,
		hostID:  hostID,
		keys:    keys,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DiscoverResponse describes the control plane to an unenrolled agent
type DiscoverResponse struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	ServerTime int64  `json:"server_time"`
}

// Discover fetches control plane info without credentials
func Discover(ctx context.Context, baseURL string) (*DiscoverResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/agent/discover", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out DiscoverResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterRequest enrolls a host with a join token
type RegisterRequest struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// Register enrolls a new host and returns its record. Unauthenticated; the
// join token is the credential.
func Register(ctx context.Context, baseURL string, reg RegisterRequest) (*types.Host, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/agent/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var host types.Host
	if err := decodeResponse(resp, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// Heartbeat reports liveness and returns the host's status as the control
// plane sees it.
func (c *Client) Heartbeat(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/agent/heartbeat", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// ClaimWork claims the host's pending work items
func (c *Client) ClaimWork(ctx context.Context) ([]*types.WorkItem, error) {
	var out struct {
		Items []*types.WorkItem `json:"items"`
	}
	if err := c.get(ctx, "/agent/work-queue", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CompleteWork reports a terminal outcome for a claimed item
func (c *Client) CompleteWork(ctx context.Context, itemID string, report workqueue.CompletionReport) error {
	path := fmt.Sprintf("/agent/work/%s/complete", itemID)
	return c.post(ctx, path, report, nil)
}

// ClaimBackupWork claims pending backup and restore items
func (c *Client) ClaimBackupWork(ctx context.Context) ([]*types.WorkItem, error) {
	var out struct {
		Items []*types.WorkItem `json:"items"`
	}
	if err := c.get(ctx, "/agent/backup/pending", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ReportBackupComplete reports a finished backup or restore transfer
func (c *Client) ReportBackupComplete(ctx context.Context, itemID, details string) error {
	return c.post(ctx, "/agent/backup/complete", map[string]string{
		"work_item_id": itemID,
		"details":      details,
	}, nil)
}

// ReportBackupFailed reports a failed backup or restore transfer
func (c *Client) ReportBackupFailed(ctx context.Context, itemID, details string) error {
	return c.post(ctx, "/agent/backup/failed", map[string]string{
		"work_item_id": itemID,
		"details":      details,
	}, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth.SignRequest(req, c.hostID, c.keys, body)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
