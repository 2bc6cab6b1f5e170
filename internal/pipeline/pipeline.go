// Package pipeline runs grid-producing jobs under the invocation contract
// used by every front end: progress is reported monotonically in [0,100],
// cancellation is cooperative and reported as an unsuccessful outcome, and
// output files appear only once the final grid is complete.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/progress"
)

// Job produces one grid. Execute must call tr.Checkpoint between steps and
// return its error unchanged when the run is cancelled.
type Job interface {
	Name() string
	Execute(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error)
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	Label string
	Fn    func(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error)
}

func (j JobFunc) Name() string { return j.Label }

func (j JobFunc) Execute(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error) {
	return j.Fn(ctx, tr)
}

// Outcome is the result of a run. Success is false when the run was
// cancelled; Output is the written path, empty when no path was requested.
type Outcome struct {
	Success bool
	Output  string
	Grid    *grid.Grid
}

// Runner executes jobs.
type Runner struct {
	Log zerolog.Logger
}

// Run executes job, reports progress to sink and, when output is non-empty,
// writes the grid there atomically. Cancellation yields an Outcome with
// Success false and a nil error; nothing is written in that case.
func (r *Runner) Run(ctx context.Context, job Job, sink progress.Sink, output string) (Outcome, error) {
	tr := progress.New(sink)
	start := time.Now()
	log := r.Log.With().Str("job", job.Name()).Logger()
	log.Info().Msg("processing started")

	g, err := job.Execute(ctx, tr.Sub(0, 95))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Msg("processing cancelled")
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("%s: %w", job.Name(), err)
	}

	if output != "" {
		if err := tr.Checkpoint(ctx, 95, "write output"); err != nil {
			log.Warn().Msg("processing cancelled before writing output")
			return Outcome{}, nil
		}
		if err := geoio.WriteRaster(output, g); err != nil {
			return Outcome{}, fmt.Errorf("%s: write output: %w", job.Name(), err)
		}
	}
	// The final checkpoint is reported even if ctx was cancelled after the
	// output was written: the run completed.
	_ = tr.Checkpoint(context.WithoutCancel(ctx), 100, "done")

	log.Info().Str("output", output).Dur("elapsed", time.Since(start)).Msg("processing finished")
	return Outcome{Success: true, Output: output, Grid: g}, nil
}
