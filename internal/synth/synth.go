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


// Package synth generates image stacks with a known template pasted onto a known
// background at random offsets, plus Gaussian noise.
package synth

import (
	"errors"
	"fmt"

	"github.com/valyala/fastrand"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Parameters of a synthetic stack
type Config struct {
	H     int     `json:"h"`     // image height
	W     int     `json:"w"`     // image width
	FH    int     `json:"fh"`    // template height
	FW    int     `json:"fw"`    // template width
	N     int     `json:"n"`     // number of images
	Noise float64 `json:"noise"` // standard deviation of the pixel noise
	Seed  uint32  `json:"seed"`  // non-zero random seed
}

func DefaultConfig() *Config {
	return &Config{H: 20, W: 20, FH: 6, FW: 6, N: 200, Noise: 0.1, Seed: 1}
}

func (c *Config) Validate() error {
	if c.H<=0 || c.W<=0 || c.FH<=0 || c.FW<=0 || c.N<=0 {
		return fmt.Errorf("dimensions must be positive, got image %dx%d template %dx%d n %d", c.H, c.W, c.FH, c.FW, c.N)
	}
	if c.FH>c.H || c.FW>c.W {
		return fmt.Errorf("template %dx%d larger than image %dx%d", c.FH, c.FW, c.H, c.W)
	}
	if !(c.Noise>=0) { return fmt.Errorf("noise %g must be non-negative", c.Noise) }
	if c.Seed==0 { return errors.New("seed must be non-zero") }
	return nil
}

// Top left corner of the pasted template
type Offset struct {
	DH int `json:"dh"`
	DW int `json:"dw"`
}

// A generated stack together with the parameters it was generated from
type Truth struct {
	Images      []*mat.Dense
	F           *mat.Dense // template
	B           *mat.Dense // background
	S           float64    // noise standard deviation
	Offsets     []Offset   // per image
	Frequencies *mat.Dense // empirical frequency of each offset
}

// Generates a stack. Template and background pixels are uniform in [0,1),
// offsets are uniform over all positions where the template fits.
func Generate(c *Config) (*Truth, error) {
	if err:=c.Validate(); err!=nil { return nil, err }
	rng:=fastrand.RNG{}
	rng.Seed(c.Seed)
	noise:=distuv.Normal{Mu: 0, Sigma: c.Noise, Src: rand.NewSource(uint64(c.Seed))}

	t:=&Truth{
		F: uniformImage(&rng, c.FH, c.FW),
		B: uniformImage(&rng, c.H, c.W),
		S: c.Noise,
		Offsets: make([]Offset, c.N),
		Images: make([]*mat.Dense, c.N),
	}
	rows, cols:=c.H-c.FH+1, c.W-c.FW+1
	t.Frequencies=mat.NewDense(rows, cols, nil)

	for k:=0; k<c.N; k++ {
		o:=Offset{DH: int(rng.Uint32n(uint32(rows))), DW: int(rng.Uint32n(uint32(cols)))}
		t.Offsets[k]=o
		t.Frequencies.Set(o.DH, o.DW, t.Frequencies.At(o.DH, o.DW)+1/float64(c.N))

		img:=mat.DenseCopyOf(t.B)
		img.Slice(o.DH, o.DH+c.FH, o.DW, o.DW+c.FW).(*mat.Dense).Copy(t.F)
		if c.Noise>0 {
			raw:=img.RawMatrix()
			for i:=range raw.Data {
				raw.Data[i]+=noise.Rand()
			}
		}
		t.Images[k]=img
	}
	return t, nil
}

func uniformImage(rng *fastrand.RNG, rows, cols int) *mat.Dense {
	data:=make([]float64, rows*cols)
	for i:=range data {
		data[i]=float64(rng.Uint32())/(1<<32)
	}
	return mat.NewDense(rows, cols, data)
}
