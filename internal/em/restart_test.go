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
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/facefind/internal/synth"
)

func resultWithBound(l float64) *Result {
	return &Result{LL: []float64{l-1, l}, Params: &Params{S: l}}
}

func TestSelectBest(t *testing.T) {
	cases:=[]struct{
		name    string
		results []*Result
		want    int
	}{
		{"empty", nil, -1},
		{"all nil", []*Result{nil, nil}, -1},
		{"single", []*Result{resultWithBound(-5)}, 0},
		{"max", []*Result{resultWithBound(-5), resultWithBound(-2), resultWithBound(-3)}, 1},
		{"tie first wins", []*Result{resultWithBound(-5), resultWithBound(-2), resultWithBound(-2)}, 1},
		{"nil skipped", []*Result{nil, resultWithBound(-7), nil, resultWithBound(-1)}, 3},
	}
	for _, c:=range cases {
		if got:=SelectBest(c.results); got!=c.want {
			t.Errorf("%s: got %d; want %d", c.name, got, c.want)
		}
	}
}

func TestSelectRunExcludesNonMonotonicRuns(t *testing.T) {
	decrease:=fmt.Errorf("%w: step 3", ErrNonMonotonicBound)
	other   :=fmt.Errorf("%w: s=NaN", ErrDegenerateNoise)
	cases:=[]struct{
		name    string
		results []*Result
		errs    []error
		want    int
		wantErr error
	}{
		{"all succeed", []*Result{resultWithBound(-5), resultWithBound(-2)}, []error{nil, nil}, 1, nil},
		{"failed run with highest L skipped",
			[]*Result{resultWithBound(-5), resultWithBound(10), resultWithBound(-3)}, []error{nil, decrease, nil}, 2, nil},
		{"all failed returns first error", []*Result{nil, nil}, []error{decrease, decrease}, -1, ErrNonMonotonicBound},
		{"other error aborts",
			[]*Result{resultWithBound(-5), nil, nil}, []error{nil, decrease, other}, -1, ErrDegenerateNoise},
	}
	for _, c:=range cases {
		got, err:=selectRun(c.results, c.errs)
		if got!=c.want { t.Errorf("%s: got %d; want %d", c.name, got, c.want) }
		if c.wantErr==nil && err!=nil { t.Errorf("%s: unexpected error %v", c.name, err) }
		if c.wantErr!=nil && !errors.Is(err, c.wantErr) { t.Errorf("%s: got error %v; want %v", c.name, err, c.wantErr) }
	}

	_, err:=selectRun([]*Result{nil, nil}, []error{decrease, fmt.Errorf("%w: step 1", ErrNonMonotonicBound)})
	if err==nil || err.Error()!="restart 0: "+decrease.Error() { t.Errorf("all failed: got %v; want the error of restart 0", err) }
}

func TestRunWithRestartsPicksBest(t *testing.T) {
	x, _:=synthStack(t, &synth.Config{H: 10, W: 10, FH: 3, FW: 3, N: 25, Noise: 0.15, Seed: 21})
	cfg:=DefaultConfig()
	cfg.Restarts=4
	best, err:=RunWithRestarts(x, 3, 3, cfg, io.Discard)
	if err!=nil { t.Fatal(err) }
	for r:=0; r<cfg.Restarts; r++ {
		single:=*cfg
		single.Seed=cfg.RestartSeed(r)
		res, err:=Run(x, 3, 3, nil, &single, nil)
		if err!=nil { t.Fatal(err) }
		if res.LowerBound()>best.LowerBound() {
			t.Errorf("restart %d reached L=%f above selected %f", r, res.LowerBound(), best.LowerBound())
		}
	}
}

func TestRunWithRestartsIndependentOfParallelism(t *testing.T) {
	x, _:=synthStack(t, &synth.Config{H: 9, W: 9, FH: 3, FW: 3, N: 20, Noise: 0.2, Seed: 22})
	cfg:=DefaultConfig()
	cfg.Restarts=5
	var seqLog, parLog bytes.Buffer
	seq, err:=RunWithRestarts(x, 3, 3, cfg, &seqLog)
	if err!=nil { t.Fatal(err) }
	cfg.ParallelRuns=3
	par, err:=RunWithRestarts(x, 3, 3, cfg, &parLog)
	if err!=nil { t.Fatal(err) }

	if seq.Seed!=par.Seed || seq.LowerBound()!=par.LowerBound() || !mat.Equal(seq.Params.B, par.Params.B) {
		t.Errorf("selection depends on parallelism: seed %d L %f vs seed %d L %f",
			seq.Seed, seq.LowerBound(), par.Seed, par.LowerBound())
	}
	if seqLog.String()!=parLog.String() {
		t.Errorf("restart logs differ between sequential and parallel runs")
	}
	if !strings.Contains(seqLog.String(), "(best)") {
		t.Errorf("log does not mark the best restart")
	}
}

func TestRestartSeed(t *testing.T) {
	cfg:=DefaultConfig()
	seen:=map[uint32]bool{}
	for r:=0; r<100; r++ {
		s:=cfg.RestartSeed(r)
		if s==0 { t.Fatalf("restart %d has seed 0", r) }
		if seen[s] { t.Errorf("restart %d repeats seed %d", r, s) }
		seen[s]=true
	}
	if cfg.RestartSeed(0)!=cfg.Seed {
		t.Errorf("first restart seed %d; want base seed %d", cfg.RestartSeed(0), cfg.Seed)
	}
	cfg.Seed=0x61c88647 // base seed whose first step wraps to zero
	if s:=cfg.RestartSeed(1); s==0 {
		t.Errorf("seed wrapped to zero")
	}
}
