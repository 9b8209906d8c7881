package runs

import (
	"context"

	"github.com/awsrt/awsrt/pkg/fields"
	"github.com/awsrt/awsrt/pkg/sim"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

// VerifyReport is the outcome of replaying a run.
type VerifyReport struct {
	RunID   string `json:"run_id"`
	Checked int    `json:"checked"`

	// Mismatch is the first index whose stored slice differs from the
	// replayed one, or -1.
	Mismatch int `json:"mismatch"`

	// Series names the differing series when Mismatch >= 0.
	Series string `json:"series,omitempty"`
}

// OK reports whether every transition replayed bit-identically.
func (r *VerifyReport) OK() bool { return r.Mismatch < 0 }

// Verify replays every stored transition from its re-derived seed and
// compares the result with the stored slice. Nothing is written.
func (c *Controller) Verify(ctx context.Context, runID string) (report *VerifyReport, err error) {
	op := c.tel.StartRunOperation(ctx, "verify", runID)
	defer func() { op.End(err) }()
	ctx = op.Ctx

	cfg, fs, err := c.open(ctx, runID)
	if err != nil {
		return nil, err
	}
	length, err := fs.CheckAligned(ctx)
	if err != nil {
		return nil, err
	}

	report = &VerifyReport{RunID: runID, Mismatch: -1}
	if length == 0 {
		return report, nil
	}

	state, err := fs.State().Read(ctx, 0)
	if err != nil {
		return nil, err
	}
	belief, err := fs.Belief().Read(ctx, 0)
	if err != nil {
		return nil, err
	}

	for t := 0; t+1 < length; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		want, err := sim.Step(state, cfg.SpreadProbability, sim.SourceFor(runID, t))
		if err != nil {
			return nil, err
		}
		gotState, err := fs.State().Read(ctx, t+1)
		if err != nil {
			return nil, err
		}
		gotBelief, err := fs.Belief().Read(ctx, t+1)
		if err != nil {
			return nil, err
		}

		report.Checked++
		if !gotState.Equal(want) {
			return mismatch(op.Logger, report, t+1, fields.StateSeries), nil
		}
		if !gotBelief.Equal(belief) {
			return mismatch(op.Logger, report, t+1, fields.BeliefSeries), nil
		}
		state, belief = gotState, gotBelief
	}

	op.Logger.WithField("checked", report.Checked).Info("replay verified")
	return report, nil
}

func mismatch(logger *telemetry.Logger, report *VerifyReport, t int, series string) *VerifyReport {
	report.Mismatch = t
	report.Series = series
	logger.Warnf("replay diverged at t=%d in %s", t, series)
	return report
}
