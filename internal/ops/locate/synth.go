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
	"sync"
	"github.com/mlnoga/facefind/internal/fits"
	"github.com/mlnoga/facefind/internal/ops"
	"github.com/mlnoga/facefind/internal/synth"
)

// Generates a synthetic stack with a known template. Takes zero inputs, produces N outputs
type OpSynth struct {
	ops.OpBase
	synth.Config
	TemplateFile   string       `json:"templateFile"`   // optional output file for the true template
	BackgroundFile string       `json:"backgroundFile"` // optional output file for the true background

	Truth          *synth.Truth `json:"-"`              // ground truth of the last generation
	once           sync.Once
	err            error
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSynthDefault() })} // register the operator for JSON decoding

func NewOpSynthDefault() *OpSynth { return NewOpSynth(synth.DefaultConfig()) }

func NewOpSynth(cfg *synth.Config) *OpSynth {
	return &OpSynth{
		OpBase : ops.OpBase{Type: "synth", Active: true},
		Config : *cfg,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSynth) UnmarshalJSON(data []byte) error {
	type defaults struct {
		ops.OpBase
		synth.Config
		TemplateFile   string `json:"templateFile"`
		BackgroundFile string `json:"backgroundFile"`
	}
	d:=NewOpSynthDefault()
	def:=defaults{OpBase: d.OpBase, Config: d.Config}
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	op.OpBase, op.Config=def.OpBase, def.Config
	op.TemplateFile, op.BackgroundFile=def.TemplateFile, def.BackgroundFile
	return nil
}

func (op *OpSynth) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	if err:=op.Config.Validate(); err!=nil { return nil, err }

	outs=make([]ops.Promise, op.N)
	for i:=range outs {
		i:=i
		outs[i]=func() (*fits.Image, error) {
			op.once.Do(func() { op.err=op.generate(c) })
			if op.err!=nil { return nil, op.err }
			return fits.NewImageFromDense(i, op.Truth.Images[i]), nil
		}
	}
	return outs, nil
}

func (op *OpSynth) generate(c *ops.Context) error {
	tr, err:=synth.Generate(&op.Config)
	if err!=nil { return err }
	op.Truth=tr
	fmt.Fprintf(c.Log, "Generated %d frames of %dx%d with a %dx%d template and noise %g from seed %d\n",
	            op.N, op.H, op.W, op.FH, op.FW, op.Noise, op.Seed)

	f:=fits.NewImageFromDense(IDTemplate, tr.F)
	f.Header.Strings["OBJECT"]="true template"
	f.Header.Floats["EMSIGMA"]=float32(tr.S)
	if _, err:=ops.NewOpSave(op.TemplateFile).Apply(f, c); err!=nil { return err }

	b:=fits.NewImageFromDense(IDBackground, tr.B)
	b.Header.Strings["OBJECT"]="true background"
	b.Header.Floats["EMSIGMA"]=float32(tr.S)
	if _, err:=ops.NewOpSave(op.BackgroundFile).Apply(b, c); err!=nil { return err }
	return nil
}
