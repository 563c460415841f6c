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

// Computes the posterior over displacements for each image given parameters p.
// With useMAP, returns the single most probable displacement per image instead.
func EStep(x *Stack, p *Params, useMAP bool, workers int) (*Posterior, error) {
	q, _, err:=eStep(x, p, useMAP, workers)
	return q, err
}

// E-step which also returns the log-likelihood grids it was derived from
func eStep(x *Stack, p *Params, useMAP bool, workers int) (*Posterior, []*mat.Dense, error) {
	if err:=validateFull(x, p); err!=nil { return nil, nil, err }
	ll, err:=LogLikelihoods(x, p, workers)
	if err!=nil { return nil, nil, err }
	return posterior(ll, p.A, useMAP, workers), ll, nil
}

// Normalizes prior times likelihood into a posterior per image, in the log domain.
// With useMAP, picks the first maximum of log a+ll_k in row-major order instead.
func PosteriorFromLogLikelihoods(ll []*mat.Dense, a *mat.Dense, useMAP bool) *Posterior {
	return posterior(ll, a, useMAP, 1)
}

func posterior(ll []*mat.Dense, a *mat.Dense, useMAP bool, workers int) *Posterior {
	rows, cols:=a.Dims()
	logA:=logPrior(a)
	q:=&Posterior{}
	if useMAP {
		q.MAP=make([]Displacement, len(ll))
	} else {
		q.Q=make([]*mat.Dense, len(ll))
	}
	forEachImage(len(ll), workers, func(k int) {
		buf:=make([]float64, rows*cols)
		joint(buf, logA, ll[k])
		if useMAP {
			best:=0
			for i, v:=range buf {
				if v>buf[best] { best=i }
			}
			q.MAP[k]=Displacement{DH: best/cols, DW: best%cols}
			return
		}
		lse:=floats.LogSumExp(buf)
		for i, v:=range buf {
			buf[i]=math.Exp(v-lse)
		}
		if sum:=floats.Sum(buf); sum>0 {
			floats.Scale(1/sum, buf)
		}
		q.Q[k]=mat.NewDense(rows, cols, buf)
	})
	return q
}
