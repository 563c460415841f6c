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
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/fastrand"
)

// Runs EM cfg.Restarts times from independent random initializations and returns the run
// with the highest final lower bound. Restarts may execute concurrently, but their logs
// are written in restart order and selection does not depend on completion order.
// Runs failing with ErrNonMonotonicBound are excluded. If all runs fail, returns the first error.
func RunWithRestarts(x *Stack, h, w int, cfg *Config, logWriter io.Writer) (*Result, error) {
	if cfg==nil { cfg=DefaultConfig() }
	if err:=cfg.Validate(); err!=nil { return nil, err }
	if err:=x.checkTemplate(h, w); err!=nil { return nil, err }
	if err:=x.checkPixels(); err!=nil { return nil, err }
	if logWriter==nil { logWriter=io.Discard }

	results:=make([]*Result, cfg.Restarts)
	errs   :=make([]error, cfg.Restarts)
	logs   :=make([]bytes.Buffer, cfg.Restarts)

	parallel:=cfg.ParallelRuns
	if parallel<1 { parallel=1 }
	limiter:=make(chan bool, parallel)
	for r:=0; r<cfg.Restarts; r++ {
		limiter <- true
		go func(r int) {
			defer func() { <-limiter }()
			seed:=cfg.RestartSeed(r)
			rng:=fastrand.RNG{}
			rng.Seed(seed)
			p:=RandomInit(x, h, w, cfg.InitBackground, &rng)
			results[r], errs[r]=run(x, h, w, p, cfg, seed, &logs[r])
		}(r)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}

	for r:=range results {
		fmt.Fprintf(logWriter, "Restart %d with seed %d:\n", r, cfg.RestartSeed(r))
		fmt.Fprint(logWriter, logs[r].String())
		if errs[r]!=nil {
			fmt.Fprintf(logWriter, "Restart %d failed: %s\n", r, errs[r].Error())
		}
	}

	best, err:=selectRun(results, errs)
	if err!=nil { return nil, err }
	for r, res:=range results {
		if res==nil || errs[r]!=nil { continue }
		marker:=""
		if r==best { marker=" (best)" }
		fmt.Fprintf(logWriter, "Restart %d: L=%.8g s=%.6g %s%s\n", r, res.LowerBound(), res.Params.S, res.State, marker)
	}
	return results[best], nil
}

// Picks the best run among those without error. Runs failing with ErrNonMonotonicBound are
// excluded, any other error aborts the selection. If no run remains, returns the first error.
func selectRun(results []*Result, errs []error) (int, error) {
	kept:=make([]*Result, len(results))
	var firstErr error
	for r:=range results {
		if errs[r]==nil {
			kept[r]=results[r]
			continue
		}
		if !errors.Is(errs[r], ErrNonMonotonicBound) { return -1, fmt.Errorf("restart %d: %w", r, errs[r]) }
		if firstErr==nil { firstErr=fmt.Errorf("restart %d: %w", r, errs[r]) }
	}
	best:=SelectBest(kept)
	if best<0 {
		if firstErr==nil { firstErr=errors.New("no restart produced a result") }
		return -1, firstErr
	}
	return best, nil
}

// Returns the index of the result with the strictly highest final lower bound,
// keeping the first one seen on ties. Nil entries are skipped. Returns -1 if none remain.
func SelectBest(results []*Result) int {
	best:=-1
	for r, res:=range results {
		if res==nil { continue }
		if best<0 || res.LowerBound()>results[best].LowerBound() {
			best=r
		}
	}
	return best
}
