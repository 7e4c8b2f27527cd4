package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	gos3 "metald/pkg/s3"
	"metald/services/archiver"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "metalctl",
		Short:         "Utility for inspecting metald machines and sync state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("api", apiBaseDefault(), "Base URL of the syncd API")

	cmd.AddCommand(newMachinesCommand())
	cmd.AddCommand(newSettingsCommand())
	cmd.AddCommand(newReportsCommand())
	return cmd
}

func apiBaseDefault() string {
	if base := strings.TrimSpace(os.Getenv("METALD_API")); base != "" {
		return base
	}
	return "http://localhost:8080"
}

func newMachinesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "Machine enrollment and lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newMachinesEnrollCommand())
	cmd.AddCommand(newMachinesStatusCommand())
	cmd.AddCommand(newMachinesDeployCommand())
	cmd.AddCommand(newMachinesReleaseCommand())
	return cmd
}

func newMachinesEnrollCommand() *cobra.Command {
	var (
		mac      string
		hostname string
		arch     string
	)

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Register a machine by MAC address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callJSON(cmd, http.MethodPost, "/v1/machines", map[string]any{
				"mac":          mac,
				"hostname":     hostname,
				"architecture": arch,
			})
		},
	}

	cmd.Flags().StringVar(&mac, "mac", "", "MAC address of the machine")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Hostname to record")
	cmd.Flags().StringVar(&arch, "arch", "", "Architecture (e.g. amd64)")
	_ = cmd.MarkFlagRequired("mac")
	return cmd
}

func newMachinesStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <machine-id>",
		Short: "Show a machine with its derived sync schedule and health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callJSON(cmd, http.MethodGet, "/v1/machines/"+args[0], nil)
		},
	}
	return cmd
}

func newMachinesDeployCommand() *cobra.Command {
	var (
		enableSync   bool
		syncInterval int
	)

	cmd := &cobra.Command{
		Use:   "deploy <machine-id>",
		Short: "Deploy a machine, optionally enabling hardware sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callJSON(cmd, http.MethodPost, "/v1/machines/"+args[0]+"/deploy", map[string]any{
				"enable_hw_sync": enableSync,
				"sync_interval":  syncInterval,
			})
		},
	}

	cmd.Flags().BoolVar(&enableSync, "enable-hw-sync", false, "Enable periodic hardware sync for this deployment")
	cmd.Flags().IntVar(&syncInterval, "sync-interval", 0, "Per-machine sync interval in seconds (0 uses the global default)")
	return cmd
}

func newMachinesReleaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <machine-id>",
		Short: "Release a machine, clearing its sync state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callJSON(cmd, http.MethodPost, "/v1/machines/"+args[0]+"/release", nil)
		},
	}
	return cmd
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Global configuration operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get-sync-interval",
		Short: "Show the global default hardware sync interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callJSON(cmd, http.MethodGet, "/v1/settings/hardware_sync_interval", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-sync-interval <span>",
		Short: "Set the global default hardware sync interval (e.g. \"15m\", \"1h 30m\")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callJSON(cmd, http.MethodPut, "/v1/settings/hardware_sync_interval", map[string]any{
				"value": args[0],
			})
		},
	})

	return cmd
}

func newReportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Archived report operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		manifestPath string
		payloadPath  string
	)

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify a downloaded archive against its signed manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestBytes, err := os.ReadFile(manifestPath)
			if err != nil {
				return err
			}
			manifest, err := archiver.ParseManifest(manifestBytes)
			if err != nil {
				return fmt.Errorf("parse manifest: %w", err)
			}
			if err := archiver.VerifyManifest(manifest); err != nil {
				return fmt.Errorf("manifest signature: %w", err)
			}

			payload, err := os.ReadFile(payloadPath)
			if err != nil {
				return err
			}
			if got := gos3.SHA256Hex(payload); got != manifest.PayloadSHA256 {
				return fmt.Errorf("payload digest mismatch: manifest %s, file %s", manifest.PayloadSHA256, got)
			}

			fmt.Fprintf(os.Stdout, "OK machine=%s report=%s submitted_at=%s encrypted=%v\n",
				manifest.MachineID, manifest.ReportID, manifest.SubmittedAt.Format(time.RFC3339), manifest.Encrypted)
			return nil
		},
	}

	verify.Flags().StringVar(&manifestPath, "manifest", "", "Path to the .manifest.yaml file")
	verify.Flags().StringVar(&payloadPath, "payload", "", "Path to the archive payload (.json.zst or .json.zst.age)")
	_ = verify.MarkFlagRequired("manifest")
	_ = verify.MarkFlagRequired("payload")

	cmd.AddCommand(verify)
	return cmd
}

// callJSON issues one request against the syncd API and pretty-prints the
// JSON response to stdout. Non-2xx responses become errors carrying the
// server's message.
func callJSON(cmd *cobra.Command, method, path string, body any) error {
	base, err := cmd.Flags().GetString("api")
	if err != nil {
		return err
	}
	base = strings.TrimRight(base, "/")

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		pretty.Write(payload)
	}
	fmt.Fprintln(os.Stdout, pretty.String())
	return nil
}
