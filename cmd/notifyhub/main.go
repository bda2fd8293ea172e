package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/notifyhub/internal/app"
	"github.com/nhle/notifyhub/internal/model"
)

var configPath string

// rootCmd is the notifyhub entry point.
var rootCmd = &cobra.Command{
	Use:   "notifyhub",
	Short: "Aggregate notifications and triage them with AI",
	Long: `notifyhub pulls notifications from Jira, GitHub and email into one local
store, keeps per-service credentials fresh and routes content through a local
model with a remote fallback.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(),
		"Path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(setAPIKeyCmd)
	rootCmd.AddCommand(configCmd)
}

// openApp loads the config and builds the application.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
