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


package synth

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestGenerateNoiseless(t *testing.T) {
	c:=&Config{H: 12, W: 10, FH: 3, FW: 4, N: 25, Noise: 0, Seed: 5}
	tr, err:=Generate(c)
	if err!=nil { t.Fatal(err) }
	if len(tr.Images)!=c.N || len(tr.Offsets)!=c.N {
		t.Fatalf("got %d images and %d offsets; want %d", len(tr.Images), len(tr.Offsets), c.N)
	}
	for k, img:=range tr.Images {
		o:=tr.Offsets[k]
		if o.DH<0 || o.DH>c.H-c.FH || o.DW<0 || o.DW>c.W-c.FW {
			t.Fatalf("image %d offset %v outside grid", k, o)
		}
		for i:=0; i<c.H; i++ {
			for j:=0; j<c.W; j++ {
				want:=tr.B.At(i, j)
				if i>=o.DH && i<o.DH+c.FH && j>=o.DW && j<o.DW+c.FW {
					want=tr.F.At(i-o.DH, j-o.DW)
				}
				if got:=img.At(i, j); got!=want {
					t.Fatalf("image %d pixel (%d,%d)=%f; want %f", k, i, j, got, want)
				}
			}
		}
	}
	if sum:=mat.Sum(tr.Frequencies); math.Abs(sum-1)>1e-9 {
		t.Errorf("frequencies sum to %f; want 1", sum)
	}
}

func TestGenerateNoiseLevel(t *testing.T) {
	c:=&Config{H: 30, W: 30, FH: 5, FW: 5, N: 20, Noise: 0.2, Seed: 9}
	tr, err:=Generate(c)
	if err!=nil { t.Fatal(err) }
	var diffs []float64
	for k, img:=range tr.Images {
		o:=tr.Offsets[k]
		for i:=0; i<c.H; i++ {
			for j:=0; j<c.W; j++ {
				mu:=tr.B.At(i, j)
				if i>=o.DH && i<o.DH+c.FH && j>=o.DW && j<o.DW+c.FW {
					mu=tr.F.At(i-o.DH, j-o.DW)
				}
				diffs=append(diffs, img.At(i, j)-mu)
			}
		}
	}
	mean, std:=stat.MeanStdDev(diffs, nil)
	if math.Abs(mean)>0.02 { t.Errorf("noise mean=%f; want 0", mean) }
	if math.Abs(std-c.Noise)>0.01 { t.Errorf("noise std=%f; want %f", std, c.Noise) }
}

func TestGenerateDeterministic(t *testing.T) {
	c:=DefaultConfig()
	c.N=10
	a, err:=Generate(c)
	if err!=nil { t.Fatal(err) }
	b, err:=Generate(c)
	if err!=nil { t.Fatal(err) }
	for k:=range a.Images {
		if !mat.Equal(a.Images[k], b.Images[k]) {
			t.Errorf("image %d differs between runs with the same seed", k)
		}
	}
}

func TestValidate(t *testing.T) {
	bad:=[]Config{
		{H: 5, W: 5, FH: 6, FW: 2, N: 1, Seed: 1},
		{H: 5, W: 5, FH: 2, FW: 2, N: 0, Seed: 1},
		{H: 5, W: 5, FH: 2, FW: 2, N: 1, Noise: -1, Seed: 1},
		{H: 5, W: 5, FH: 2, FW: 2, N: 1, Seed: 0},
	}
	for i, c:=range bad {
		if _, err:=Generate(&c); err==nil {
			t.Errorf("case %d: got nil error; want failure", i)
		}
	}
}
