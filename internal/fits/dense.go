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



package fits

import (
	"fmt"
	"gonum.org/v1/gonum/mat"
)

// Converts a monochrome image into a dense matrix with one row per image line
func (f *Image) ToDense() (*mat.Dense, error) {
	if !f.IsMono() { 
		return nil, fmt.Errorf("%d: cannot convert %s pixel image into a matrix, need two axes", f.ID, f.DimensionsToString()) 
	}
	width, height:=int(f.Naxisn[0]), int(f.Naxisn[1])
	if width*height!=len(f.Data) {
		return nil, fmt.Errorf("%d: %s pixel image has %d data values", f.ID, f.DimensionsToString(), len(f.Data))
	}
	data:=make([]float64, len(f.Data))
	for i,v:=range f.Data {
		data[i]=float64(v)
	}
	return mat.NewDense(height, width, data), nil
}

// Creates a monochrome image from a dense matrix, one image line per row
func NewImageFromDense(id int, m mat.Matrix) *Image {
	rows, cols:=m.Dims()
	data:=make([]float32, rows*cols)
	for y:=0; y<rows; y++ {
		for x:=0; x<cols; x++ {
			data[y*cols+x]=float32(m.At(y, x))
		}
	}
	f:=NewImageFromNaxisn([]int32{int32(cols), int32(rows)}, data)
	f.ID=id
	return f
}
