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

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Smallest noise scale the M-step returns. Closed-form estimates below are floored to this value
const MinNoise=1e-8

// Background weights below this are treated as zero
const minBackgroundWeight=1e-12

// Re-estimates template, background, noise scale and prior in closed form, maximizing the
// expected complete-data log-likelihood under posterior q. Background pixels which no
// image assigns to the background keep their value from prevB, or the per-pixel mean
// of the stack if prevB is nil. Returns true in noiseFloored if s was raised to MinNoise.
// Neither x nor q are modified.
func MStep(x *Stack, q *Posterior, h, w int, prevB *mat.Dense) (p *Params, noiseFloored bool, err error) {
	if err=ValidatePosterior(x, h, w, q); err!=nil { return nil, false, err }
	if err=checkDims("previous background", prevB, x.H, x.W); err!=nil { return nil, false, err }

	var bgSum, bgWeight []float64
	if q.IsMAP() {
		p, bgSum, bgWeight=mStepMAP(x, q.MAP, h, w)
	} else {
		p, bgSum, bgWeight=mStepExact(x, q.Q, h, w)
	}
	p.B=background(x, bgSum, bgWeight, prevB)

	s2:=0.0
	if q.IsMAP() {
		for k, d:=range q.MAP {
			s2+=squaredError(x.Images[k], p.F, p.B, d)
		}
	} else {
		for k, qk:=range q.Q {
			e:=residuals(x.Images[k], p.F, p.B)
			s2+=mat.Sum(weighted(e, qk))
		}
	}
	s2/=float64(x.H*x.W*x.N())
	p.S=math.Sqrt(s2)
	if !(p.S>=MinNoise) {
		p.S, noiseFloored=MinNoise, true
	}
	return p, noiseFloored, nil
}

// Accumulates prior, template and background statistics from full posteriors
func mStepExact(x *Stack, qs []*mat.Dense, h, w int) (p *Params, bgSum, bgWeight []float64) {
	rows, cols:=x.Grid(h, w)
	a:=mat.NewDense(rows, cols, nil)
	fSum:=make([]float64, h*w)
	bgSum, bgWeight=make([]float64, x.H*x.W), make([]float64, x.H*x.W)
	sat:=make([]float64, (rows+1)*(cols+1))
	mass:=0.0

	for k, qk:=range qs {
		xr, qr:=x.Images[k].RawMatrix(), qk.RawMatrix()
		a.Add(a, qk)

		// template: posterior-weighted windows
		for dh:=0; dh<rows; dh++ {
			for dw:=0; dw<cols; dw++ {
				qv:=qr.Data[dh*qr.Stride+dw]
				if qv==0 { continue }
				mass+=qv
				for i:=0; i<h; i++ {
					xRow:=xr.Data[(dh+i)*xr.Stride+dw : (dh+i)*xr.Stride+dw+w]
					floats.AddScaled(fSum[i*w:(i+1)*w], qv, xRow)
				}
			}
		}

		// background: one minus the posterior mass of windows covering each pixel
		summedArea(sat, qr.Data, qr.Stride, rows, cols)
		for i:=0; i<x.H; i++ {
			dh0, dh1:=max(0, i-h+1), min(rows-1, i)
			for j:=0; j<x.W; j++ {
				dw0, dw1:=max(0, j-w+1), min(cols-1, j)
				cover:=0.0
				if dh0<=dh1 && dw0<=dw1 {
					cover=sat[(dh1+1)*(cols+1)+dw1+1]-sat[dh0*(cols+1)+dw1+1]-sat[(dh1+1)*(cols+1)+dw0]+sat[dh0*(cols+1)+dw0]
				}
				bg:=1-cover
				if bg<0 { bg=0 } else if bg>1 { bg=1 }
				bgSum[i*x.W+j]+=bg*xr.Data[i*xr.Stride+j]
				bgWeight[i*x.W+j]+=bg
			}
		}
	}

	a.Scale(1/float64(len(qs)), a)
	normalize(a)
	if mass>0 { floats.Scale(1/mass, fSum) }
	return &Params{F: mat.NewDense(h, w, fSum), A: a}, bgSum, bgWeight
}

// Accumulates prior, template and background statistics from MAP displacements
func mStepMAP(x *Stack, ds []Displacement, h, w int) (p *Params, bgSum, bgWeight []float64) {
	rows, cols:=x.Grid(h, w)
	a:=mat.NewDense(rows, cols, nil)
	fSum:=make([]float64, h*w)
	bgSum, bgWeight=make([]float64, x.H*x.W), make([]float64, x.H*x.W)

	for k, d:=range ds {
		xr:=x.Images[k].RawMatrix()
		a.Set(d.DH, d.DW, a.At(d.DH, d.DW)+1)
		for i:=0; i<x.H; i++ {
			xRow:=xr.Data[i*xr.Stride : i*xr.Stride+x.W]
			inRows:=i>=d.DH && i<d.DH+h
			for j, v:=range xRow {
				if inRows && j>=d.DW && j<d.DW+w {
					fSum[(i-d.DH)*w+j-d.DW]+=v
				} else {
					bgSum[i*x.W+j]+=v
					bgWeight[i*x.W+j]++
				}
			}
		}
	}

	n:=float64(len(ds))
	a.Scale(1/n, a)
	normalize(a)
	floats.Scale(1/n, fSum)
	return &Params{F: mat.NewDense(h, w, fSum), A: a}, bgSum, bgWeight
}

// Divides accumulated background sums by their weights. Positions without weight
// fall back to prevB, or to the stack mean at that position.
func background(x *Stack, bgSum, bgWeight []float64, prevB *mat.Dense) *mat.Dense {
	b:=mat.NewDense(x.H, x.W, nil)
	for i:=0; i<x.H; i++ {
		for j:=0; j<x.W; j++ {
			idx:=i*x.W+j
			if bgWeight[idx]>=minBackgroundWeight {
				b.Set(i, j, bgSum[idx]/bgWeight[idx])
			} else if prevB!=nil {
				b.Set(i, j, prevB.At(i, j))
			} else {
				mean:=0.0
				for _, img:=range x.Images {
					mean+=img.At(i, j)
				}
				b.Set(i, j, mean/float64(x.N()))
			}
		}
	}
	return b
}

// Squared reconstruction error of image xk with the template placed at d
func squaredError(xk, f, b *mat.Dense, d Displacement) float64 {
	H, W:=xk.Dims()
	h, w:=f.Dims()
	sum:=0.0
	for i:=0; i<H; i++ {
		for j:=0; j<W; j++ {
			mu:=b.At(i, j)
			if i>=d.DH && i<d.DH+h && j>=d.DW && j<d.DW+w {
				mu=f.At(i-d.DH, j-d.DW)
			}
			diff:=xk.At(i, j)-mu
			sum+=diff*diff
		}
	}
	return sum
}

// Elementwise product of e and q, written into e
func weighted(e, q *mat.Dense) *mat.Dense {
	e.MulElem(e, q)
	return e
}

// Fills sat with the summed-area table of a rows x cols matrix, with a zero border row and column
func summedArea(sat []float64, data []float64, stride, rows, cols int) {
	for j:=0; j<=cols; j++ { sat[j]=0 }
	for i:=0; i<rows; i++ {
		sat[(i+1)*(cols+1)]=0
		rowSum:=0.0
		for j:=0; j<cols; j++ {
			rowSum+=data[i*stride+j]
			sat[(i+1)*(cols+1)+j+1]=sat[i*(cols+1)+j+1]+rowSum
		}
	}
}

// Rescales a non-negative matrix in place to sum to one
func normalize(a *mat.Dense) {
	if sum:=mat.Sum(a); sum>0 {
		a.Scale(1/sum, a)
	}
}

func min(a, b int) int {
	if a<b { return a }
	return b
}

func max(a, b int) int {
	if a>b { return a }
	return b
}

