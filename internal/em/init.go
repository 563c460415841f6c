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
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mlnoga/facefind/internal/qsort"
)

// Draws initial parameters from the stack. The template is a randomly placed window
// of a random image, the background follows the given strategy, the noise scale is the
// standard deviation of all pixels and the prior is uniform.
func RandomInit(x *Stack, h, w int, mode InitBackground, rng *fastrand.RNG) *Params {
	rows, cols:=x.Grid(h, w)
	k:=int(rng.Uint32n(uint32(x.N())))
	dh, dw:=int(rng.Uint32n(uint32(rows))), int(rng.Uint32n(uint32(cols)))
	p:=&Params{F: mat.DenseCopyOf(x.Images[k].Slice(dh, dh+h, dw, dw+w))}

	if mode==InitBackgroundMedian {
		p.B=medianImage(x)
	} else {
		p.B=mat.DenseCopyOf(x.Images[rng.Uint32n(uint32(x.N()))])
	}

	p.S=pixelStdDev(x)
	if !(p.S>=MinNoise) { p.S=MinNoise }

	p.A=mat.NewDense(rows, cols, nil)
	uniform:=1/float64(rows*cols)
	for i:=0; i<rows; i++ {
		for j:=0; j<cols; j++ {
			p.A.Set(i, j, uniform)
		}
	}
	return p
}

// Completes partially supplied parameters with random ones. Supplied fields win
func fillParams(x *Stack, h, w int, init *Params, mode InitBackground, rng *fastrand.RNG) *Params {
	p:=RandomInit(x, h, w, mode, rng)
	if init==nil { return p }
	if init.F!=nil { p.F=mat.DenseCopyOf(init.F) }
	if init.B!=nil { p.B=mat.DenseCopyOf(init.B) }
	if init.S>0    { p.S=init.S }
	if init.A!=nil { p.A=mat.DenseCopyOf(init.A) }
	return p
}

// True if every parameter was supplied by the caller
func complete(p *Params) bool {
	return p!=nil && p.F!=nil && p.B!=nil && p.S>0 && p.A!=nil
}

// Per-pixel median across all images of the stack
func medianImage(x *Stack) *mat.Dense {
	b:=mat.NewDense(x.H, x.W, nil)
	gathered:=make([]float64, x.N())
	for i:=0; i<x.H; i++ {
		for j:=0; j<x.W; j++ {
			for k, img:=range x.Images {
				gathered[k]=img.At(i, j)
			}
			b.Set(i, j, qsort.QSelectMedianFloat64(gathered))
		}
	}
	return b
}

// Standard deviation over all pixels of all images
func pixelStdDev(x *Stack) float64 {
	data:=make([]float64, 0, x.N()*x.H*x.W)
	for _, img:=range x.Images {
		r:=img.RawMatrix()
		for i:=0; i<r.Rows; i++ {
			data=append(data, r.Data[i*r.Stride:i*r.Stride+r.Cols]...)
		}
	}
	if len(data)<2 { return 0 }
	return stat.StdDev(data, nil)
}
