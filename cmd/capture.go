// File: cmd/capture.go
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/capture"
	"github.com/psd401/contextgraph/internal/observability"
	"github.com/psd401/contextgraph/internal/service"
)

// captureOptions holds the flags of the `capture` command.
type captureOptions struct {
	source string
	commit bool
	useLLM bool
	user   string
}

// newCaptureCmd creates the `capture` command. It reads a decision payload
// from a JSON file ("-" for stdin), scores it and, when accepted, commits it.
func newCaptureCmd(factory service.ComponentFactory) *cobra.Command {
	opts := &captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture <payload.json>",
		Short: "Capture a decision from a JSON payload",
		Long: `Translates a decision payload into graph nodes and edges, scores its completeness,
and commits it when the score meets capture.min_score. The result is printed as JSON.
Use --commit=false to preview without writing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			source := schemas.DecisionSource(opts.source)
			if source != schemas.SourceAPI && source != schemas.SourceAgent {
				return fmt.Errorf("invalid --source %q: must be %q or %q", opts.source, schemas.SourceAPI, schemas.SourceAgent)
			}

			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			commit := cfg.Capture().CommitByDefault
			if cmd.Flags().Changed("commit") {
				commit = opts.commit
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			result, err := components.Capture.Capture(ctx, capture.Request{
				Payload:      payload,
				Source:       source,
				ActingUserID: opts.user,
				Commit:       commit,
				UseLLM:       opts.useLLM,
			})
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}

			if commit && !result.Committed {
				logger.Warn("Decision was not committed: completeness below threshold.",
					zap.Int("score", result.Completeness.Score),
					zap.Int("min_score", cfg.Capture().MinScore))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", string(schemas.SourceAPI), "capture source recorded on the nodes (api or agent)")
	cmd.Flags().BoolVar(&opts.commit, "commit", true, "persist the decision when accepted (default from capture.commit_by_default)")
	cmd.Flags().BoolVar(&opts.useLLM, "llm", false, "request model-assisted completeness scoring")
	cmd.Flags().StringVar(&opts.user, "user", "", "acting user id recorded as createdBy")
	return cmd
}

// readPayload decodes a decision payload from path, or from stdin when path is "-".
func readPayload(stdin io.Reader, path string) (schemas.DecisionAPIPayload, error) {
	var payload schemas.DecisionAPIPayload

	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return payload, fmt.Errorf("failed to open payload file: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return payload, fmt.Errorf("failed to parse payload %s: %w", path, err)
	}
	return payload, nil
}
