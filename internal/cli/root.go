// Package cli implements the lodgeline command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodgeline/lodgeline/internal/config"
	"github.com/lodgeline/lodgeline/internal/gateway"
	"github.com/lodgeline/lodgeline/internal/logging"
	"github.com/lodgeline/lodgeline/internal/session"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lodgeline",
		Short:         "Property-management messaging client",
		Long:          "lodgeline aggregates tenant/manager messages into conversations with polling and read-state tracking.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().String("config", "", "Config file path")
	cmd.PersistentFlags().String("api-url", "", "REST API base URL")
	cmd.PersistentFlags().String("token", "", "API bearer token")
	cmd.PersistentFlags().String("user", "", "Local user id")
	cmd.PersistentFlags().String("store", "", "Local SQLite store path (offline mode)")

	cmd.AddCommand(
		newConversationsCmd(),
		newWatchCmd(),
		newSendCmd(),
		newReadCmd(),
		newRmCmd(),
	)
	return cmd
}

// loadConfig resolves configuration with CLI flag overrides on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	if url, _ := cmd.Flags().GetString("api-url"); url != "" {
		loader.Set("api.base_url", url)
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		loader.Set("api.token", token)
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		loader.Set("user.id", user)
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		loader.Set("store.path", store)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	return cfg, nil
}

// openSession builds a session over the configured gateway: the local
// SQLite store when store.path is set, the REST API otherwise.
func openSession(cmd *cobra.Command) (*session.Session, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	var (
		gw      gateway.Gateway
		cleanup = func() {}
	)
	if cfg.Store.Path != "" {
		local, err := gateway.OpenSQLiteGateway(cfg.Store.Path, cfg.User.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		gw = local
		cleanup = func() { _ = local.Close() }
	} else {
		remote, err := gateway.NewHTTPGateway(gateway.HTTPConfig{
			BaseURL: cfg.API.BaseURL,
			Token:   cfg.API.Token,
			Timeout: cfg.API.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		gw = remote
	}

	sess, err := session.New(gw, session.Options{
		LocalUserID:         cfg.User.ID,
		PageSize:            cfg.Fetch.PageSize,
		MaxPages:            cfg.Fetch.MaxPages,
		ListInterval:        cfg.Polling.ListInterval,
		ThreadInterval:      cfg.Polling.ThreadInterval,
		RetryAfter:          cfg.MarkRead.RetryAfter,
		MaxMarkReadAttempts: cfg.MarkRead.MaxAttempts,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	closeAll := func() {
		sess.Close()
		cleanup()
	}
	return sess, closeAll, nil
}
