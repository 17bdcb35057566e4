// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/internal/api"
	"github.com/psd401/contextgraph/internal/observability"
	"github.com/psd401/contextgraph/internal/service"
)

// newServeCmd creates the `serve` command, which runs the HTTP API until the
// process receives an interrupt.
func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the context graph HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the signal-aware context from Execute.
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ServerCfg.ListenAddr = addr
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			handlers := api.NewHandlers(logger, components.Store, components.Capture, cfg)
			server := api.NewServer(cfg, handlers, logger)

			logger.Info("Serving context graph API",
				zap.String("address", cfg.Server().ListenAddr),
				zap.Bool("persistent", components.DBPool != nil),
				zap.Bool("llm_scoring", cfg.Scoring().LLMEnabled),
			)
			return server.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.listen_addr)")
	return cmd
}
