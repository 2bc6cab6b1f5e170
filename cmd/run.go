package cmd

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/pipeline"
)

var errCancelled = errors.New("cancelled")

// runJob executes job and writes its grid to output. A cancelled run is
// reported as an error so the process exits non-zero.
func runJob(cmd *cobra.Command, log zerolog.Logger, job pipeline.Job, output string) error {
	if output == "" {
		return fmt.Errorf("%s: --output is required", job.Name())
	}
	r := &pipeline.Runner{Log: log}
	last := -1
	sink := func(pct int, stage string) {
		if pct == last {
			return
		}
		last = pct
		log.Debug().Int("percent", pct).Str("stage", stage).Msg("progress")
	}
	out, err := r.Run(cmd.Context(), job, sink, output)
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("%s: %w", job.Name(), errCancelled)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Output)
	return nil
}
