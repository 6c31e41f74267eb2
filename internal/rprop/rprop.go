// Package rprop implements the resilient backpropagation optimizer sweep
// of spec.md §5/§4.8: one single-threaded pass over every feature in the
// model, applying orthant-wise L1 projection and L2/frequency-weighted
// regularization on top of the RPROP step-size adaptation.
//
// Grounded on original_source's rbp_* family (lost.c), citing Riedmiller
// & Braun's "A direct adaptive method for faster backpropagation
// learning: The RPROP algorithm" (1993).
package rprop

import (
	"fmt"
	"io"
	"math"

	"github.com/standardbeagle/logfst/internal/debug"
	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/progress"
)

// epsilon is the sign-change dead zone below which a gradient component
// is treated as zero, matching original_source's `EPSILON (DBL_EPSILON *
// 64.0)`.
const epsilon = 64 * 2.220446049250313e-16

// Hyperparams holds the per-tag (0..127) regularization weights and the
// global step-size adaptation bounds (original_source rbp_t). Tag 0 is
// the default every other tag falls back to when unset.
type Hyperparams struct {
	Rho1, Rho2, Rho3 [model.MaxTags]float64

	StepInc, StepDec float64
	StepMin, StepMax float64
}

// NewHyperparams returns the original_source rbp_new defaults: tag 0's
// regularization at zero, every other tag sentinel -1 (meaning "inherit
// tag 0", resolved by ResolveTagOverrides), and the standard RPROP
// step-size schedule.
func NewHyperparams() *Hyperparams {
	h := &Hyperparams{
		StepInc: 1.2,
		StepDec: 0.5,
		StepMin: 1e-8,
		StepMax: 50.0,
	}
	for tag := 1; tag < model.MaxTags; tag++ {
		h.Rho1[tag] = -1.0
		h.Rho2[tag] = -1.0
		h.Rho3[tag] = -1.0
	}
	return h
}

// ResolveTagOverrides replaces every tag's still-sentinel (-1.0) rho with
// tag 0's value, matching the CLI setup original_source runs once after
// parsing every --tag-rhoN flag.
func (h *Hyperparams) ResolveTagOverrides() {
	for tag := 1; tag < model.MaxTags; tag++ {
		if h.Rho1[tag] == -1.0 {
			h.Rho1[tag] = h.Rho1[0]
		}
		if h.Rho2[tag] == -1.0 {
			h.Rho2[tag] = h.Rho2[0]
		}
		if h.Rho3[tag] == -1.0 {
			h.Rho3[tag] = h.Rho3[0]
		}
	}
}

// Optimizer runs RPROP sweeps over a model (original_source rbp_t, used
// as the receiver of rbp_step).
type Optimizer struct {
	Params *Hyperparams

	// Out receives the per-iteration ll/fx/|x|/|g|/|d| summary line; a
	// Bar tracks step progress over the feature table if non-nil.
	Out io.Writer
	Bar *progress.Bar
}

// New creates an Optimizer with the given hyperparameters, writing its
// progress and summary line to out.
func New(params *Hyperparams, out io.Writer) *Optimizer {
	return &Optimizer{Params: params, Out: out}
}

// Summary reports the per-iteration statistics rbp_step prints to
// stderr: the pre-step objective components and the total movement of
// this sweep.
type Summary struct {
	LL float64 // negative log-likelihood before the step (-ll)
	FX float64 // regularized objective before the step
	NX float64 // sum |x| across every swept feature
	NG float64 // sum |g| across every swept feature
	ND float64 // sum |dlt| across every swept feature
}

// Step performs one RPROP sweep over mdl, applying regularization and the
// resilient-backprop step-size rule to every feature, pruning those that
// should be removed. ll is the objective value gradient.Engine.Compute
// just returned; it forms the starting point of the reported fx
// (original_source rbp_step).
func (o *Optimizer) Step(mdl *model.Model, ll float64) Summary {
	p := o.Params
	sum := Summary{LL: ll, FX: ll}

	var ids []uint64
	mdl.Range(func(id uint64, rec *model.FeatureRecord) bool {
		ids = append(ids, id)
		return true
	})
	debug.LogRPROP("sweep starting over %d features\n", len(ids))

	if o.Bar != nil {
		o.Bar.Start()
	}

	for _, id := range ids {
		rec, ok := mdl.Features.Find(id)
		if !ok {
			continue // removed earlier in this same sweep
		}
		tag := rec.Tag()

		switch {
		case rec.X == 0.0 && mdl.RemovalDue(tag):
			mdl.Remove(id)
			continue
		case rec.Frq.Load() < int64(mdl.MinFreq):
			mdl.Remove(id)
			continue
		case !mdl.TagStarted(tag):
			continue
		}

		if rec.Stp == 0.0 {
			rec.Stp = 0.1
		}

		rho1, rho2, rho3 := p.Rho1[tag], p.Rho2[tag], p.Rho3[tag]
		frq := float64(rec.Frq.Load())

		g := rec.Gradient() + rho2*rec.X
		sum.FX += rho2*rec.X*rec.X/2.0 + rho1*math.Abs(rec.X) + rho3*frq*math.Abs(rec.X)

		ar := rho1 + rho3*frq
		pg := g
		if ar != 0 {
			switch {
			case rec.X < -epsilon:
				pg -= ar
			case rec.X > epsilon:
				pg += ar
			case g < -ar:
				pg += ar
			case g > ar:
				pg -= ar
			default:
				pg = 0.0
			}
		}

		sgn := float64(rec.Gp) * pg
		switch {
		case sgn < -epsilon:
			rec.Stp = float32(math.Max(float64(rec.Stp)*p.StepDec, p.StepMin))
		case sgn > epsilon:
			rec.Stp = float32(math.Min(float64(rec.Stp)*p.StepInc, p.StepMax))
		}

		if sgn < 0.0 {
			rec.X -= float64(rec.Dlt)
			g = 0.0
		} else {
			switch {
			case pg < -epsilon:
				rec.Dlt = rec.Stp
			case pg > epsilon:
				rec.Dlt = -rec.Stp
			default:
				rec.Dlt = 0.0
			}
			if rho1 != 0.0 && float64(rec.Dlt)*pg >= 0.0 {
				rec.Dlt = 0.0
			}
			rec.X += float64(rec.Dlt)
		}

		sum.NX += math.Abs(rec.X)
		sum.NG += math.Abs(g)
		sum.ND += math.Abs(float64(rec.Dlt))

		rec.Frq.Store(0)
		rec.Gp = float32(g)
		rec.SetGradient(0.0)

		if o.Bar != nil {
			o.Bar.Next()
		}
	}

	if o.Bar != nil {
		o.Bar.End()
	}

	if o.Out != nil {
		fmt.Fprintf(o.Out, "\tll=%.2f", -sum.LL)
		fmt.Fprintf(o.Out, " fx=%.2f", sum.FX)
		fmt.Fprintf(o.Out, " |x|=%.2f", sum.NX)
		fmt.Fprintf(o.Out, " |g|=%.2f", sum.NG)
		fmt.Fprintf(o.Out, " |d|=%.2f\n", sum.ND)
	}

	debug.LogRPROP("sweep done: fx=%f |x|=%f |g|=%f |d|=%f\n", sum.FX, sum.NX, sum.NG, sum.ND)
	return sum
}
