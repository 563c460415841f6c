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

	"gonum.org/v1/gonum/mat"
)

var halfLog2Pi=0.5*math.Log(2*math.Pi)

// Computes the per-image log-likelihood of every feasible displacement under the model
// with template p.F, background p.B and noise scale p.S. The prior p.A is ignored.
// Returns one (H-h+1) x (W-w+1) matrix per image.
func LogLikelihoods(x *Stack, p *Params, workers int) ([]*mat.Dense, error) {
	if err:=validateModel(x, p); err!=nil { return nil, err }
	ll:=make([]*mat.Dense, x.N())
	forEachImage(x.N(), workers, func(k int) {
		ll[k]=logLikelihoodImage(x.Images[k], p.F, p.B, p.S)
	})
	return ll, nil
}

// Log-likelihood grid for a single image
func logLikelihoodImage(xk, f, b *mat.Dense, s float64) *mat.Dense {
	e:=residuals(xk, f, b)
	H, W:=xk.Dims()
	norm:=-float64(H*W)*(math.Log(s)+halfLog2Pi)
	inv2s2:=1.0/(2*s*s)
	raw:=e.RawMatrix()
	for i:=0; i<raw.Rows; i++ {
		row:=raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, v:=range row {
			row[j]=norm-v*inv2s2
		}
	}
	return e
}

// Computes the total squared reconstruction error of image xk for every displacement
// of template f over background b. The background error is summed once into a
// summed-area table, so each displacement only revisits the pixels under the window.
func residuals(xk, f, b *mat.Dense) *mat.Dense {
	H, W:=xk.Dims()
	h, w:=f.Dims()
	rows, cols:=H-h+1, W-w+1

	// summed-area table of (X-B)^2 with a zero border row and column
	sat:=make([]float64, (H+1)*(W+1))
	for i:=0; i<H; i++ {
		rowSum:=0.0
		for j:=0; j<W; j++ {
			d:=xk.At(i, j)-b.At(i, j)
			rowSum+=d*d
			sat[(i+1)*(W+1)+j+1]=sat[i*(W+1)+j+1]+rowSum
		}
	}
	total:=sat[H*(W+1)+W]

	xr, fr:=xk.RawMatrix(), f.RawMatrix()
	e:=mat.NewDense(rows, cols, nil)
	for dh:=0; dh<rows; dh++ {
		for dw:=0; dw<cols; dw++ {
			window:=sat[(dh+h)*(W+1)+dw+w]-sat[dh*(W+1)+dw+w]-sat[(dh+h)*(W+1)+dw]+sat[dh*(W+1)+dw]
			inside:=0.0
			for i:=0; i<h; i++ {
				xRow:=xr.Data[(dh+i)*xr.Stride+dw : (dh+i)*xr.Stride+dw+w]
				fRow:=fr.Data[i*fr.Stride : i*fr.Stride+w]
				for j, fv:=range fRow {
					d:=xRow[j]-fv
					inside+=d*d
				}
			}
			v:=total-window+inside
			if v<0 { v=0 } // cancellation in the table difference
			e.Set(dh, dw, v)
		}
	}
	return e
}
