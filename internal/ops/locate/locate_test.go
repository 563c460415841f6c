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



package locate

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/facefind/internal/em"
	"github.com/mlnoga/facefind/internal/fits"
	"github.com/mlnoga/facefind/internal/ops"
	"github.com/mlnoga/facefind/internal/synth"
	"gonum.org/v1/gonum/mat"
)

func synthPromises(t *testing.T, sc *synth.Config) []ops.Promise {
	tr, err:=synth.Generate(sc)
	if err!=nil { t.Fatal(err) }
	ins:=make([]ops.Promise, len(tr.Images))
	for i, img:=range tr.Images {
		ins[i]=ops.PromiseOf(fits.NewImageFromDense(i, img))
	}
	return ins
}

func TestUnmarshalWithDefaults(t *testing.T) {
	op, err:=ops.UnmarshalOperator([]byte(`{"type":"locate","active":true,"h":4,"w":5,"restarts":3,"useMAP":true}`))
	if err!=nil { t.Fatal(err) }
	l, ok:=op.(*OpLocate)
	if !ok { t.Fatalf("decoded %T; want *OpLocate", op) }
	def:=em.DefaultConfig()
	if l.H!=4 || l.W!=5 || l.Restarts!=3 || !l.UseMAP { t.Errorf("explicit fields lost: %+v", l) }
	if l.Tolerance!=def.Tolerance || l.MaxIter!=def.MaxIter || l.Seed!=def.Seed || l.InitBackground!=def.InitBackground {
		t.Errorf("defaults not applied: %+v", l.Config)
	}

	bs, err:=json.Marshal(l)
	if err!=nil { t.Fatal(err) }
	for _, key:=range []string{`"type":"locate"`, `"h":4`, `"restarts":3`, `"tolerance":0.001`} {
		if !strings.Contains(string(bs), key) { t.Errorf("%s missing in %s", key, string(bs)) }
	}
}

func TestLocateSynthetic(t *testing.T) {
	dir:=t.TempDir()
	sc:=&synth.Config{H: 12, W: 12, FH: 4, FW: 4, N: 60, Noise: 0.05, Seed: 7}
	cfg:=em.DefaultConfig()
	cfg.Restarts, cfg.ParallelRuns, cfg.MaxIter=2, 2, 30
	op:=NewOpLocate(cfg, sc.FH, sc.FW)
	op.TemplateFile  =filepath.Join(dir, "template.fits")
	op.BackgroundFile=filepath.Join(dir, "background.tif")
	op.PriorFile     =filepath.Join(dir, "prior.fits")

	log:=&bytes.Buffer{}
	c:=&ops.Context{Log: log, MaxThreads: 2, WorkMemoryMB: 1024}
	promises, err:=op.MakePromises(synthPromises(t, sc), c)
	if err!=nil { t.Fatal(err) }
	if len(promises)!=3 { t.Fatalf("got %d promises; want 3", len(promises)) }
	outs, err:=ops.MaterializeAll(promises, 3, false)
	if err!=nil { t.Fatal(err) }

	wantDims:=[][]int32{{4, 4}, {12, 12}, {9, 9}}
	wantIDs :=[]int{IDTemplate, IDBackground, IDPrior}
	for i, f:=range outs {
		if !fits.EqualInt32Slice(f.Naxisn, wantDims[i]) { t.Errorf("output %d is %v; want %v", i, f.Naxisn, wantDims[i]) }
		if f.ID!=wantIDs[i] { t.Errorf("output %d has id %d; want %d", i, f.ID, wantIDs[i]) }
		if f.Header.Floats["EMSIGMA"]<=0 { t.Errorf("output %d lacks noise header", i) }
	}

	res:=op.Result
	if res==nil { t.Fatal("no result recorded") }
	for i:=1; i<len(res.LL); i++ {
		if res.LL[i]<res.LL[i-1]-1e-6*(1+abs(res.LL[i-1])) { t.Errorf("L decreased at %d: %g -> %g", i, res.LL[i-1], res.LL[i]) }
	}
	if got:=len(res.Posterior.Displacements()); got!=sc.N { t.Errorf("%d displacements; want %d", got, sc.N) }
	for _, name:=range []string{"template.fits", "background.tif", "prior.fits"} {
		if _, err:=os.Stat(filepath.Join(dir, name)); err!=nil { t.Error(err) }
	}
	if !strings.Contains(log.String(), "(best)") { t.Errorf("restart summary missing from log:\n%s", log.String()) }

	op.PrintDisplacements(c)
	if !strings.Contains(log.String(), "59: template at row") { t.Errorf("displacements missing from log") }
}

func TestLocateRejectsMixedSizes(t *testing.T) {
	a:=fits.NewImageFromNaxisn([]int32{8, 8}, nil)
	b:=fits.NewImageFromNaxisn([]int32{8, 9}, nil)
	cfg:=em.DefaultConfig()
	cfg.Restarts=1
	op:=NewOpLocate(cfg, 2, 2)
	c:=&ops.Context{Log: io.Discard, MaxThreads: 1}
	promises, err:=op.MakePromises([]ops.Promise{ops.PromiseOf(a), ops.PromiseOf(b)}, c)
	if err!=nil { t.Fatal(err) }
	for _, p:=range promises {
		if _, err:=p(); err==nil { t.Errorf("expected shape error") }
	}

	if _, err:=op.MakePromises(nil, c); err==nil { t.Errorf("expected error for no inputs") }
}

func TestLocateRejectsNaNPixels(t *testing.T) {
	ins:=make([]ops.Promise, 3)
	for i:=range ins {
		f:=fits.NewImageFromNaxisn([]int32{6, 6}, nil)
		f.ID=i
		f.Data[7]=float32(math.NaN())
		ins[i]=ops.PromiseOf(f)
	}
	cfg:=em.DefaultConfig()
	cfg.InitBackground=em.InitBackgroundMedian
	op:=NewOpLocate(cfg, 2, 2)
	promises, err:=op.MakePromises(ins, &ops.Context{Log: io.Discard, MaxThreads: 2})
	if err!=nil { t.Fatal(err) }
	if _, err:=ops.MaterializeAll(promises, 2, false); err==nil || !strings.Contains(err.Error(), "non-finite pixel") {
		t.Errorf("got %v; want non-finite pixel error", err)
	}
}

func TestCapParallelRuns(t *testing.T) {
	x, err:=em.NewStack(synthImages(t, 100))
	if err!=nil { t.Fatal(err) }
	cfg:=em.DefaultConfig()
	cfg.ParallelRuns=8
	op:=NewOpLocate(cfg, 4, 4)
	if got:=op.capParallelRuns(x, &ops.Context{Log: io.Discard, WorkMemoryMB: 0}); got!=8 { t.Errorf("no budget: got %d; want 8", got) }
	if got:=op.capParallelRuns(x, &ops.Context{Log: io.Discard, WorkMemoryMB: 64}); got!=8 { t.Errorf("ample budget: got %d; want 8", got) }

	x, err=em.NewStack(synthImages(t, 4000))
	if err!=nil { t.Fatal(err) }
	if got:=op.capParallelRuns(x, &ops.Context{Log: io.Discard, WorkMemoryMB: 1}); got!=1 { t.Errorf("tight budget: got %d; want 1", got) }
}

func synthImages(t *testing.T, n int) []*mat.Dense {
	tr, err:=synth.Generate(&synth.Config{H: 12, W: 12, FH: 4, FW: 4, N: n, Noise: 0.1, Seed: 3})
	if err!=nil { t.Fatal(err) }
	return tr.Images
}

func abs(x float64) float64 {
	if x<0 { return -x }
	return x
}

func TestSynthThenLocatePipeline(t *testing.T) {
	dir:=t.TempDir()
	wd, err:=os.Getwd()
	if err!=nil { t.Fatal(err) }
	if err:=os.Chdir(dir); err!=nil { t.Fatal(err) }
	defer os.Chdir(wd)
	c:=&ops.Context{Log: io.Discard, MaxThreads: 4, WorkMemoryMB: 256}

	gen:=NewOpSynth(&synth.Config{H: 10, W: 10, FH: 3, FW: 3, N: 30, Noise: 0.05, Seed: 11})
	gen.TemplateFile="truth_f.fits"
	gen.BackgroundFile="truth_b.fits"
	seq:=ops.NewOpSequence(gen, ops.NewOpForEach(ops.NewOpSave("frame%d.fits")))
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { t.Fatal(err) }
	if _, err:=ops.MaterializeAll(promises, c.MaxThreads, true); err!=nil { t.Fatal(err) }
	if gen.Truth==nil || len(gen.Truth.Offsets)!=30 { t.Fatalf("truth not recorded") }
	for _, name:=range []string{"truth_f.fits", "truth_b.fits", "frame0.fits", "frame29.fits"} {
		if _, err:=os.Stat(name); err!=nil { t.Error(err) }
	}

	cfg:=em.DefaultConfig()
	cfg.Restarts=1
	loc:=NewOpLocate(cfg, 3, 3)
	seq=ops.NewOpSequence(ops.NewOpLoadMany([]string{"frame*.fits"}), loc)
	promises, err=seq.MakePromises(nil, c)
	if err!=nil { t.Fatal(err) }
	outs, err:=ops.MaterializeAll(promises, c.MaxThreads, false)
	if err!=nil { t.Fatal(err) }
	if len(outs)!=3 || loc.Result==nil { t.Fatalf("got %d outputs, result %v", len(outs), loc.Result) }
	if n:=len(loc.Result.Posterior.Displacements()); n!=30 { t.Errorf("%d displacements; want 30", n) }
}

func TestSynthJSONDefaults(t *testing.T) {
	op, err:=ops.UnmarshalOperator([]byte(`{"type":"synth","active":true,"n":5,"noise":0.2}`))
	if err!=nil { t.Fatal(err) }
	s, ok:=op.(*OpSynth)
	if !ok { t.Fatalf("decoded %T; want *OpSynth", op) }
	def:=synth.DefaultConfig()
	if s.N!=5 || s.Noise!=0.2 || s.H!=def.H || s.FW!=def.FW || s.Seed!=def.Seed { t.Errorf("got %+v", s.Config) }

	if _, err:=s.MakePromises([]ops.Promise{nil}, &ops.Context{Log: io.Discard}); err==nil {
		t.Errorf("expected error for inputs")
	}
}
