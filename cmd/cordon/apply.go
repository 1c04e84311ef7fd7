package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// serviceManifest is the yaml shape accepted by `cordon apply -f`
type serviceManifest struct {
	Name      string   `yaml:"name"`
	Image     string   `yaml:"image"`
	Replicas  int      `yaml:"replicas"`
	AutoPlace *bool    `yaml:"auto_place,omitempty"`
	Stateful  bool     `yaml:"stateful,omitempty"`
	Env       []string `yaml:"env,omitempty"`
	Ports     []struct {
		Name          string `yaml:"name"`
		ContainerPort int    `yaml:"container_port"`
		HostPort      int    `yaml:"host_port,omitempty"`
		Protocol      string `yaml:"protocol,omitempty"`
	} `yaml:"ports,omitempty"`
	Placements []struct {
		HostID string `yaml:"host_id"`
		Count  int    `yaml:"count"`
	} `yaml:"placements,omitempty"`
}

var applyFile string

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a service manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if applyFile == "" {
			return fmt.Errorf("a manifest file is required (-f)")
		}

		data, err := os.ReadFile(applyFile)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}

		var manifest serviceManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("failed to parse manifest: %w", err)
		}
		if manifest.Name == "" || manifest.Image == "" {
			return fmt.Errorf("manifest must set name and image")
		}

		var result struct {
			Service struct {
				ID       string `json:"ID"`
				Name     string `json:"Name"`
				Replicas int    `json:"Replicas"`
			} `json:"service"`
			Assignments []struct {
				HostID string `json:"HostID"`
				Count  int    `json:"Count"`
			} `json:"assignments"`
		}
		if err := postJSON(serverURL+"/v1/services", manifest, &result); err != nil {
			return err
		}

		fmt.Printf("Service %s applied (%d replicas)\n", result.Service.Name, result.Service.Replicas)
		for _, a := range result.Assignments {
			fmt.Printf("  host %s: %d\n", a.HostID, a.Count)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "service manifest file")
}
