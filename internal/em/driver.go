// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package em

import (
	"fmt"
	"io"
	"math"

	"github.com/valyala/fastrand"
)

// Relative slack allowed when checking that the lower bound does not decrease
const monotonicSlack=1e-8

// State of an EM run
type State int

const (
	StateInitializing State = iota
	StateEStep
	StateMStep
	StateConverged
	StateMaxIterReached
)

var stateNames=[]string{"initializing", "e-step", "m-step", "converged", "max iterations reached"}

func (s State) String() string {
	if s<0 || int(s)>=len(stateNames) { return fmt.Sprintf("State(%d)", int(s)) }
	return stateNames[s]
}

// Diagnostic counters for recovered numerical problems
type Warnings struct {
	NoiseFloored int // M-steps whose noise estimate was raised to MinNoise
}

// Outcome of an EM run
type Result struct {
	Params     *Params    // Final parameters
	Posterior  *Posterior // Posterior refreshed from the final parameters
	LL         []float64  // Lower bound trajectory: initial, after each iteration, after the final E-step
	State      State      // Terminal state, StateConverged or StateMaxIterReached
	Iterations int        // Number of M-steps performed
	Warnings   Warnings
	Seed       uint32     // Seed used for random initialization
}

// Final value of the lower bound
func (r *Result) LowerBound() float64 {
	if len(r.LL)==0 { return math.Inf(-1) }
	return r.LL[len(r.LL)-1]
}

// Runs EM on the stack for a template of size h x w. Parameters not supplied in init are
// drawn at random using cfg.Seed. Progress is written to logWriter, which may be nil.
// Invalid shapes, distributions, pixels or noise in the inputs fail before any iteration.
// A decrease of the lower bound fails the run with ErrNonMonotonicBound.
func Run(x *Stack, h, w int, init *Params, cfg *Config, logWriter io.Writer) (*Result, error) {
	if cfg==nil { cfg=DefaultConfig() }
	if err:=cfg.Validate(); err!=nil { return nil, err }
	if err:=ValidateParams(x, h, w, init); err!=nil { return nil, err }
	if err:=x.checkPixels(); err!=nil { return nil, err }
	if logWriter==nil { logWriter=io.Discard }

	var p *Params
	if complete(init) {
		p=init.Clone()
	} else {
		rng:=fastrand.RNG{}
		rng.Seed(cfg.Seed)
		p=fillParams(x, h, w, init, cfg.InitBackground, &rng)
	}
	return run(x, h, w, p, cfg, cfg.Seed, logWriter)
}

// Iterates from fully initialized parameters p, which the run takes ownership of
func run(x *Stack, h, w int, p *Params, cfg *Config, seed uint32, logWriter io.Writer) (*Result, error) {
	res:=&Result{State: StateInitializing, Seed: seed}

	q, ll, err:=eStep(x, p, cfg.UseMAP, cfg.Workers)
	if err!=nil { return nil, err }
	l, err:=LowerBound(ll, p.A, q)
	if err!=nil { return nil, err }
	res.LL=append(res.LL, l)
	fmt.Fprintf(logWriter, "Initial L=%.8g s=%.6g\n", l, p.S)

	for {
		res.State=StateMStep
		pNew, floored, err:=MStep(x, q, h, w, p.B)
		if err!=nil { return nil, err }
		if floored {
			res.Warnings.NoiseFloored++
			fmt.Fprintf(logWriter, "Warning: noise scale floored to %g in iteration %d\n", MinNoise, res.Iterations+1)
		}
		ll, err=LogLikelihoods(x, pNew, cfg.Workers)
		if err!=nil { return nil, err }
		lNew, err:=LowerBound(ll, pNew.A, q)
		if err!=nil { return nil, err }
		if err:=checkMonotonic(l, lNew, res.Iterations+1); err!=nil { return nil, err }

		res.Iterations++
		res.LL=append(res.LL, lNew)
		p=pNew
		delta:=lNew-l
		fmt.Fprintf(logWriter, "Iteration %d: L=%.8g s=%.6g delta=%.3g\n", res.Iterations, lNew, p.S, delta)

		converged:=math.Abs(delta)<cfg.Tolerance*math.Max(1, math.Abs(l))
		l=lNew
		if converged {
			res.State=StateConverged
			break
		}
		if res.Iterations>=cfg.MaxIter {
			res.State=StateMaxIterReached
			break
		}

		res.State=StateEStep
		if q, _, err=eStep(x, p, cfg.UseMAP, cfg.Workers); err!=nil { return nil, err }
	}

	// refresh the posterior from the final parameters
	terminal:=res.State
	q, ll, err=eStep(x, p, cfg.UseMAP, cfg.Workers)
	if err!=nil { return nil, err }
	lFinal, err:=LowerBound(ll, p.A, q)
	if err!=nil { return nil, err }
	if err:=checkMonotonic(l, lFinal, res.Iterations+1); err!=nil { return nil, err }
	res.LL=append(res.LL, lFinal)
	res.State=terminal
	res.Params, res.Posterior=p, q
	fmt.Fprintf(logWriter, "Terminated after %d iterations (%s) with L=%.8g s=%.6g\n", res.Iterations, res.State, lFinal, p.S)
	return res, nil
}

// Fails if lNew fell below lPrev by more than the relative slack. NaN counts as a decrease
func checkMonotonic(lPrev, lNew float64, step int) error {
	if lNew>=lPrev-monotonicSlack*math.Max(1, math.Abs(lPrev)) { return nil }
	return fmt.Errorf("%w: step %d decreased L from %.12g to %.12g", ErrNonMonotonicBound, step, lPrev, lNew)
}
