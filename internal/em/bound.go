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
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Computes the variational lower bound on the marginal log-likelihood from per-image
// log-likelihood grids ll, prior a and posterior q. For a full posterior this is
// sum_k sum_d q(ll+log a-log q), with 0 log 0 taken as 0. For MAP displacements
// the entropy term vanishes and the bound is sum_k ll[d_k]+log a[d_k].
func LowerBound(ll []*mat.Dense, a *mat.Dense, q *Posterior) (float64, error) {
	if err:=checkBoundArgs(ll, a, q); err!=nil { return 0, err }
	l:=0.0
	if q.IsMAP() {
		for k, d:=range q.MAP {
			l+=ll[k].At(d.DH, d.DW)+math.Log(a.At(d.DH, d.DW))
		}
		return l, nil
	}
	ar:=a.RawMatrix()
	for k, qk:=range q.Q {
		qr, lr:=qk.RawMatrix(), ll[k].RawMatrix()
		for i:=0; i<ar.Rows; i++ {
			for j:=0; j<ar.Cols; j++ {
				qv:=qr.Data[i*qr.Stride+j]
				if qv==0 { continue }
				l+=qv*(lr.Data[i*lr.Stride+j]+math.Log(ar.Data[i*ar.Stride+j])-math.Log(qv))
			}
		}
	}
	return l, nil
}

// Computes the exact marginal log-likelihood sum_k logsumexp_d(log a[d]+ll_k[d]).
// Equals LowerBound when q is the exact posterior.
func MarginalLogLikelihood(ll []*mat.Dense, a *mat.Dense) float64 {
	logA:=logPrior(a)
	buf:=make([]float64, len(logA))
	sum:=0.0
	for _, llk:=range ll {
		joint(buf, logA, llk)
		sum+=floats.LogSumExp(buf)
	}
	return sum
}

func checkBoundArgs(ll []*mat.Dense, a *mat.Dense, q *Posterior) error {
	if a==nil || q==nil { return fmt.Errorf("%w: prior and posterior are required", ErrInvalidShape) }
	rows, cols:=a.Dims()
	n:=len(q.Q)
	if q.IsMAP() { n=len(q.MAP) }
	if n!=len(ll) {
		return fmt.Errorf("%w: posterior for %d images, likelihoods for %d", ErrInvalidShape, n, len(ll))
	}
	for k, llk:=range ll {
		if err:=checkDims(fmt.Sprintf("log-likelihood %d", k), llk, rows, cols); err!=nil { return err }
		if !q.IsMAP() {
			if err:=checkDims(fmt.Sprintf("posterior %d", k), q.Q[k], rows, cols); err!=nil { return err }
		} else if d:=q.MAP[k]; d.DH<0 || d.DH>=rows || d.DW<0 || d.DW>=cols {
			return fmt.Errorf("%w: image %d displacement (%d,%d) outside %dx%d grid", ErrInvalidShape, k, d.DH, d.DW, rows, cols)
		}
	}
	return nil
}

// Elementwise log of the prior in row-major order
func logPrior(a *mat.Dense) []float64 {
	rows, cols:=a.Dims()
	logA:=make([]float64, rows*cols)
	for i:=0; i<rows; i++ {
		for j:=0; j<cols; j++ {
			logA[i*cols+j]=math.Log(a.At(i, j))
		}
	}
	return logA
}

// Writes log a + ll_k into dst in row-major order
func joint(dst, logA []float64, llk *mat.Dense) {
	lr:=llk.RawMatrix()
	for i:=0; i<lr.Rows; i++ {
		row:=lr.Data[i*lr.Stride : i*lr.Stride+lr.Cols]
		for j, v:=range row {
			dst[i*lr.Cols+j]=logA[i*lr.Cols+j]+v
		}
	}
}
