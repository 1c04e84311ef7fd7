package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage fleet hosts",
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Hosts []struct {
				ID            string    `json:"ID"`
				Name          string    `json:"Name"`
				Address       string    `json:"Address"`
				Status        string    `json:"Status"`
				LastHeartbeat time.Time `json:"LastHeartbeat"`
			} `json:"hosts"`
		}
		if err := getJSON(serverURL+"/v1/hosts", &result); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tSTATUS\tLAST HEARTBEAT")
		for _, h := range result.Hosts {
			heartbeat := "never"
			if !h.LastHeartbeat.IsZero() {
				heartbeat = h.LastHeartbeat.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.ID, h.Name, h.Address, h.Status, heartbeat)
		}
		return w.Flush()
	},
}

var hostRemoveCmd = &cobra.Command{
	Use:   "remove <host-id>",
	Short: "Remove a host from the fleet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodDelete, serverURL+"/v1/hosts/"+args[0], nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return apiError(resp)
		}
		fmt.Println("Host removed")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a host join token",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := postJSON(serverURL+"/v1/tokens", struct{}{}, &result); err != nil {
			return err
		}
		fmt.Printf("%s\n(expires %s)\n", result.Token, result.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run a recovery pass over offline hosts now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON(serverURL+"/v1/recovery/run", struct{}{}, nil); err != nil {
			return err
		}
		fmt.Println("Recovery complete")
		return nil
	},
}

func init() {
	hostCmd.AddCommand(hostListCmd)
	hostCmd.AddCommand(hostRemoveCmd)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
