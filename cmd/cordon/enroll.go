package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordonproject/cordon/pkg/auth"
	"github.com/cordonproject/cordon/pkg/client"
)

var (
	enrollToken   string
	enrollName    string
	enrollAddress string
	enrollKeyDir  string
)

var hostEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll this machine as a fleet host",
	Long: `Generates a signing key pair, registers the host with a join token
and writes the keys to the key directory for the agent to use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if enrollToken == "" || enrollName == "" || enrollAddress == "" {
			return fmt.Errorf("--token, --name and --address are required")
		}

		kp, err := auth.GenerateKeyPair()
		if err != nil {
			return err
		}

		host, err := client.Register(context.Background(), serverURL, client.RegisterRequest{
			Token:     enrollToken,
			Name:      enrollName,
			Address:   enrollAddress,
			PublicKey: kp.PublicKeyBase64(),
		})
		if err != nil {
			return fmt.Errorf("enrollment failed: %w", err)
		}

		if err := kp.SaveToFile(enrollKeyDir); err != nil {
			return fmt.Errorf("host %s enrolled but keys not saved: %w", host.ID, err)
		}

		fmt.Printf("Host enrolled: %s\nKeys written to %s\n", host.ID, enrollKeyDir)
		return nil
	},
}

func init() {
	hostEnrollCmd.Flags().StringVar(&enrollToken, "token", "", "join token minted by `cordon token`")
	hostEnrollCmd.Flags().StringVar(&enrollName, "name", "", "host name")
	hostEnrollCmd.Flags().StringVar(&enrollAddress, "address", "", "reachable address for this host")
	hostEnrollCmd.Flags().StringVar(&enrollKeyDir, "key-dir", "/var/lib/cordon-agent/keys", "directory for the signing keys")
	hostCmd.AddCommand(hostEnrollCmd)
}
