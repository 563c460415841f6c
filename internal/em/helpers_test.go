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
	"math"
	"testing"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/facefind/internal/synth"
)

func uniformDense(rng *fastrand.RNG, rows, cols int) *mat.Dense {
	data:=make([]float64, rows*cols)
	for i:=range data {
		data[i]=float64(rng.Uint32())/(1<<32)
	}
	return mat.NewDense(rows, cols, data)
}

func randomStack(t *testing.T, rng *fastrand.RNG, n, H, W int) *Stack {
	images:=make([]*mat.Dense, n)
	for k:=range images {
		images[k]=uniformDense(rng, H, W)
	}
	x, err:=NewStack(images)
	if err!=nil { t.Fatal(err) }
	return x
}

// Random parameters with a non-uniform, strictly positive prior
func randomParams(rng *fastrand.RNG, x *Stack, h, w int, s float64) *Params {
	rows, cols:=x.Grid(h, w)
	a:=uniformDense(rng, rows, cols)
	a.Apply(func(i, j int, v float64) float64 { return v+0.1 }, a)
	normalize(a)
	return &Params{F: uniformDense(rng, h, w), B: uniformDense(rng, x.H, x.W), S: s, A: a}
}

func uniformPrior(rows, cols int) *mat.Dense {
	a:=mat.NewDense(rows, cols, nil)
	a.Apply(func(i, j int, v float64) float64 { return 1/float64(rows*cols) }, a)
	return a
}

func synthStack(t *testing.T, c *synth.Config) (*Stack, *synth.Truth) {
	tr, err:=synth.Generate(c)
	if err!=nil { t.Fatal(err) }
	x, err:=NewStack(tr.Images)
	if err!=nil { t.Fatal(err) }
	return x, tr
}

func maxAbsDiff(a, b mat.Matrix) float64 {
	rows, cols:=a.Dims()
	d:=0.0
	for i:=0; i<rows; i++ {
		for j:=0; j<cols; j++ {
			d=math.Max(d, math.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return d
}

func newRNG(seed uint32) *fastrand.RNG {
	rng:=&fastrand.RNG{}
	rng.Seed(seed)
	return rng
}
