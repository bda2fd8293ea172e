package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/notifyhub/internal/credential"
	"github.com/nhle/notifyhub/internal/model"
)

// serveCmd runs the HTTP surface and the background poller.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the AI endpoints and sync services in the background",
	RunE:  runServe,
}

// syncCmd runs a single sync pass.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every enabled service once",
	RunE:  runSync,
}

// setAPIKeyCmd stores the global AI API key.
var setAPIKeyCmd = &cobra.Command{
	Use:   "set-api-key [key]",
	Short: "Store the global AI API key in the keyring",
	Long: `Store the API key used for remote AI requests that name no service.
The key is read from stdin when not given as an argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSetAPIKey,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var forceInit bool

// configInitCmd writes the default config.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(cmd.Context()))

	return a.Serve(cmd.Context())
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(cmd.Context()))

	reports, err := a.Poller.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(reports) == 0 {
		fmt.Fprintln(out, "No enabled services.")
		return nil
	}
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s (%s): %v\n", r.ServiceID, r.ServiceType, r.Err)
			continue
		}
		if r.Skipped {
			fmt.Fprintf(out, "- %s (%s): no adapter, skipped\n", r.ServiceID, r.ServiceType)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s): %d fetched, %d new\n", r.ServiceID, r.ServiceType, r.Fetched, r.Created)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d services failed to sync", failed, len(reports))
	}
	return nil
}

func runSetAPIKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading key from stdin: %w", err)
		}
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key must not be empty")
	}

	vault, err := credential.OpenVault(model.DefaultConfigDir())
	if err != nil {
		return err
	}
	if err := vault.Set(credential.GlobalAPIKeyName, key); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "API key stored.")
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := model.SaveConfig(configPath, model.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}
