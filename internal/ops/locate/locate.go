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
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"github.com/mlnoga/facefind/internal/em"
	"github.com/mlnoga/facefind/internal/fits"
	"github.com/mlnoga/facefind/internal/ops"
	"gonum.org/v1/gonum/mat"
)

// IDs of the result images
const (
	IDTemplate   = -1
	IDBackground = -2
	IDPrior      = -3
)

// Locates a template of size H x W hidden in a stack of input images.
// Takes n inputs, produces three outputs: the template, the background and the displacement prior
type OpLocate struct {
	ops.OpBase
	em.Config
	H              int        `json:"h"`              // template height
	W              int        `json:"w"`              // template width
	TemplateFile   string     `json:"templateFile"`   // optional output file for the template
	BackgroundFile string     `json:"backgroundFile"` // optional output file for the background
	PriorFile      string     `json:"priorFile"`      // optional output file for the prior

	Result         *em.Result `json:"-"`              // outcome of the last application
	once           sync.Once
	outs           []*fits.Image
	err            error
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpLocateDefault() })} // register the operator for JSON decoding

func NewOpLocateDefault() *OpLocate { return NewOpLocate(em.DefaultConfig(), 6, 6) }

func NewOpLocate(cfg *em.Config, h, w int) *OpLocate {
	return &OpLocate{
		OpBase : ops.OpBase{Type: "locate", Active: true},
		Config : *cfg,
		H      : h,
		W      : w,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpLocate) UnmarshalJSON(data []byte) error {
	type defaults struct {
		ops.OpBase
		em.Config
		H              int    `json:"h"`
		W              int    `json:"w"`
		TemplateFile   string `json:"templateFile"`
		BackgroundFile string `json:"backgroundFile"`
		PriorFile      string `json:"priorFile"`
	}
	d:=NewOpLocateDefault()
	def:=defaults{OpBase: d.OpBase, Config: d.Config, H: d.H, W: d.W}
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	op.OpBase, op.Config, op.H, op.W=def.OpBase, def.Config, def.H, def.W
	op.TemplateFile, op.BackgroundFile, op.PriorFile=def.TemplateFile, def.BackgroundFile, def.PriorFile
	return nil
}

// All three outputs share a single EM computation, run when the first of them is materialized
func (op *OpLocate) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("%s operator needs inputs", op.Type) }
	if err:=op.Config.Validate(); err!=nil { return nil, err }

	compute:=func() {
		fs, err:=ops.MaterializeAll(ins, c.MaxThreads, false)
		if err!=nil { op.err=err; return }
		op.outs, op.err=op.Apply(fs, c)
	}
	outs=make([]ops.Promise, 3)
	for i:=range outs {
		i:=i
		outs[i]=func() (*fits.Image, error) {
			op.once.Do(compute)
			if op.err!=nil { return nil, op.err }
			return op.outs[i], nil
		}
	}
	return outs, nil
}

// Runs EM on the given images and returns the template, background and prior as images
func (op *OpLocate) Apply(fs []*fits.Image, c *ops.Context) (outs []*fits.Image, err error) {
	images:=make([]*mat.Dense, len(fs))
	for i, f:=range fs {
		if images[i], err=f.ToDense(); err!=nil { return nil, err }
	}
	x, err:=em.NewStack(images)
	if err!=nil { return nil, err }

	cfg:=op.Config
	cfg.ParallelRuns=op.capParallelRuns(x, c)
	fmt.Fprintf(c.Log, "Locating %dx%d template in %d frames of %dx%d with %d restarts, useMAP=%v, tolerance %g, maxIter %d:\n",
	            op.H, op.W, x.N(), x.H, x.W, cfg.Restarts, cfg.UseMAP, cfg.Tolerance, cfg.MaxIter)

	var res *em.Result
	if cfg.Restarts==1 {
		res, err=em.Run(x, op.H, op.W, nil, &cfg, c.Log)
	} else {
		res, err=em.RunWithRestarts(x, op.H, op.W, &cfg, c.Log)
	}
	if err!=nil { return nil, err }
	op.Result=res
	if res.Warnings.NoiseFloored>0 {
		fmt.Fprintf(c.Log, "Warning: noise scale floored in %d iterations\n", res.Warnings.NoiseFloored)
	}

	outs=[]*fits.Image{
		op.resultImage(IDTemplate,   "template",   res.Params.F, res),
		op.resultImage(IDBackground, "background", res.Params.B, res),
		op.resultImage(IDPrior,      "prior",      res.Params.A, res),
	}
	fmt.Fprintf(c.Log, "Background %s\n", outs[1].Stats.LongString())

	for i, fileName:=range []string{op.TemplateFile, op.BackgroundFile, op.PriorFile} {
		if _, err:=ops.NewOpSave(fileName).Apply(outs[i], c); err!=nil { return nil, err }
	}
	return outs, nil
}

// Creates an output image tagged with the run's diagnostics
func (op *OpLocate) resultImage(id int, object string, m *mat.Dense, res *em.Result) *fits.Image {
	f:=fits.NewImageFromDense(id, m)
	f.Header.Strings["OBJECT"]=object
	f.Header.Strings["EMSTATE"]=res.State.String()
	f.Header.Strings["EMSEED"]=strconv.FormatUint(uint64(res.Seed), 10)
	f.Header.Floats["EMSIGMA"]=float32(res.Params.S)
	f.Header.Floats["EMLB"]=float32(res.LowerBound())
	f.Header.Ints["EMITER"]=int32(res.Iterations)
	f.Header.Ints["EMNIMG"]=int32(len(res.Posterior.Displacements()))
	f.Header.Ints["EMMAP"]=boolToInt32(op.UseMAP)
	return f
}

func boolToInt32(b bool) int32 {
	if b { return 1 }
	return 0
}

// Limits concurrent restarts so that their per-image likelihoods and posteriors fit the work memory budget
func (op *OpLocate) capParallelRuns(x *em.Stack, c *ops.Context) int {
	parallel:=op.ParallelRuns
	if parallel<1 { parallel=1 }
	if c.WorkMemoryMB<=0 { return parallel }
	rows, cols:=x.Grid(op.H, op.W)
	bytesPerRun:=int64(x.N())*int64(rows*cols+x.H*x.W)*8*2
	maxRuns:=int64(c.WorkMemoryMB)*1024*1024/bytesPerRun
	if maxRuns<1 { maxRuns=1 }
	if int64(parallel)>maxRuns {
		fmt.Fprintf(c.Log, "Limiting parallel runs from %d to %d to fit %d MB work memory\n", parallel, maxRuns, c.WorkMemoryMB)
		parallel=int(maxRuns)
	}
	return parallel
}

// Prints the per-image displacements of the last result, one line per image
func (op *OpLocate) PrintDisplacements(c *ops.Context) {
	if op.Result==nil { return }
	for k, d:=range op.Result.Posterior.Displacements() {
		fmt.Fprintf(c.Log, "%d: template at row %d column %d\n", k, d.DH, d.DW)
	}
}
