package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "journalgate CLI",
	Long:  "A CLI for inspecting and driving the journalgate session gate.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(capabilityCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(localCmd())
	rootCmd.AddCommand(passcodeCmd())
}

// signalContext is cancelled on Ctrl-C so a pending prompt settles as cancelled.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// remote runs a single request against the server and prints the result.
func remote(method, path string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client := newClient()
	var (
		result map[string]any
		err    error
	)
	if method == "POST" {
		result, err = client.post(ctx, path)
	} else {
		result, err = client.get(ctx, path)
	}
	if err != nil {
		printError(err.Error())
		return err
	}
	printResult(result)
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state and route",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remote("GET", "/v1/session")
		},
	}
}

func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Ask the server to run the authentication prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remote("POST", "/v1/session/authenticate")
		},
	}
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Log out and clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remote("POST", "/v1/session/logout")
		},
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the session from the persisted flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remote("POST", "/v1/session/restore")
		},
	}
}

func capabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capability",
		Short: "Show the detected biometric capability",
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			if refresh {
				return remote("POST", "/v1/capability/refresh")
			}
			return remote("GET", "/v1/capability")
		},
	}
	cmd.Flags().Bool("refresh", false, "Re-run capability detection")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent gate events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			operation, _ := cmd.Flags().GetString("operation")
			limit, _ := cmd.Flags().GetInt("limit")
			since, _ := cmd.Flags().GetString("since")

			q := url.Values{}
			if operation != "" {
				q.Set("operation", operation)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if since != "" {
				q.Set("since", since)
			}
			path := "/v1/sys/audit-log"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			ctx, cancel := signalContext()
			defer cancel()
			result, err := newClient().get(ctx, path)
			if err != nil {
				printError(err.Error())
				return err
			}
			if outputFormat != "table" {
				printResult(result)
				return nil
			}
			events, _ := result["events"].([]any)
			printEvents(events)
			return nil
		},
	}
	cmd.Flags().String("operation", "", "Filter by operation (check_capability, authenticate, logout, restore_session)")
	cmd.Flags().Int("limit", 20, "Maximum number of events")
	cmd.Flags().String("since", "", "Only events at or after this RFC3339 time")
	return cmd
}
