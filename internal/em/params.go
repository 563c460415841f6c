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

// Package em locates a small template hidden at an unknown displacement in each image of a stack.
// It jointly estimates the template F, a shared background B, the noise scale s and the prior A
// over displacements with the expectation-maximization algorithm.
package em

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tolerance for caller-supplied distributions to sum to one
const distTolerance = 1e-6

// A stack of N grayscale images of identical size H x W. Images are read, never written.
type Stack struct {
	Images []*mat.Dense
	H, W   int
}

// Creates a stack from the given images, which must be non-empty, of equal size and finite
func NewStack(images []*mat.Dense) (*Stack, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: empty image stack", ErrInvalidShape)
	}
	if images[0] == nil || images[0].IsEmpty() {
		return nil, fmt.Errorf("%w: image 0 is empty", ErrInvalidShape)
	}
	H, W := images[0].Dims()
	for k, img := range images {
		if img == nil || img.IsEmpty() {
			return nil, fmt.Errorf("%w: image %d is empty", ErrInvalidShape, k)
		}
		if r, c := img.Dims(); r != H || c != W {
			return nil, fmt.Errorf("%w: image %d is %dx%d, want %dx%d", ErrInvalidShape, k, r, c, H, W)
		}
	}
	x := &Stack{Images: images, H: H, W: W}
	if err := x.checkPixels(); err != nil {
		return nil, err
	}
	return x, nil
}

// Checks that all pixels are finite. Images may be modified after NewStack, so runs check again
func (x *Stack) checkPixels() error {
	for k, img := range x.Images {
		raw := img.RawMatrix()
		for i := 0; i < raw.Rows; i++ {
			for j, v := range raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols] {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%w: image %d pixel (%d,%d) is %g", ErrNonFinitePixel, k, i, j, v)
				}
			}
		}
	}
	return nil
}

// Number of images
func (x *Stack) N() int { return len(x.Images) }

// Dimensions of the displacement grid for a template of size h x w
func (x *Stack) Grid(h, w int) (rows, cols int) {
	return x.H - h + 1, x.W - w + 1
}

func (x *Stack) checkTemplate(h, w int) error {
	if h < 1 || w < 1 || h > x.H || w > x.W {
		return fmt.Errorf("%w: template %dx%d does not fit into images of %dx%d", ErrInvalidShape, h, w, x.H, x.W)
	}
	return nil
}

// Model parameters
type Params struct {
	F *mat.Dense // Template, h x w
	B *mat.Dense // Background, H x W
	S float64    // Standard deviation of the Gaussian pixel noise
	A *mat.Dense // Prior over displacements, (H-h+1) x (W-w+1)
}

// Returns a deep copy of the parameters
func (p *Params) Clone() *Params {
	c := &Params{S: p.S}
	if p.F != nil {
		c.F = mat.DenseCopyOf(p.F)
	}
	if p.B != nil {
		c.B = mat.DenseCopyOf(p.B)
	}
	if p.A != nil {
		c.A = mat.DenseCopyOf(p.A)
	}
	return c
}

// Validates caller-supplied initial parameters against the stack and template size.
// Nil matrices and a zero S count as not supplied and are accepted.
func ValidateParams(x *Stack, h, w int, p *Params) error {
	if err := x.checkTemplate(h, w); err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if err := checkDims("template F", p.F, h, w); err != nil {
		return err
	}
	if err := checkDims("background B", p.B, x.H, x.W); err != nil {
		return err
	}
	rows, cols := x.Grid(h, w)
	if err := checkDims("prior A", p.A, rows, cols); err != nil {
		return err
	}
	if p.S < 0 || math.IsNaN(p.S) || math.IsInf(p.S, 0) {
		return fmt.Errorf("%w: s=%g", ErrDegenerateNoise, p.S)
	}
	if p.A != nil {
		if err := checkDistribution("prior A", p.A); err != nil {
			return err
		}
	}
	return nil
}

// Validates a complete parameter set as needed for likelihood evaluation. The prior is not checked.
func validateModel(x *Stack, p *Params) error {
	if p == nil || p.F == nil || p.B == nil {
		return fmt.Errorf("%w: template and background are required", ErrInvalidShape)
	}
	h, w := p.F.Dims()
	if err := x.checkTemplate(h, w); err != nil {
		return err
	}
	if err := checkDims("background B", p.B, x.H, x.W); err != nil {
		return err
	}
	if !(p.S > 0) || math.IsInf(p.S, 0) {
		return fmt.Errorf("%w: s=%g must be strictly positive", ErrDegenerateNoise, p.S)
	}
	return nil
}

// Validates a complete parameter set including the prior
func validateFull(x *Stack, p *Params) error {
	if err := validateModel(x, p); err != nil {
		return err
	}
	h, w := p.F.Dims()
	rows, cols := x.Grid(h, w)
	if p.A == nil {
		return fmt.Errorf("%w: prior A is required", ErrInvalidShape)
	}
	if err := checkDims("prior A", p.A, rows, cols); err != nil {
		return err
	}
	return checkDistribution("prior A", p.A)
}

func checkDims(name string, m *mat.Dense, rows, cols int) error {
	if m == nil {
		return nil
	}
	if r, c := m.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrInvalidShape, name, r, c, rows, cols)
	}
	return nil
}

// Checks that all entries are finite and non-negative, and sum to one within distTolerance
func checkDistribution(name string, m *mat.Dense) error {
	rows, cols := m.Dims()
	sum := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d,%d]=%g", ErrInvalidDistribution, name, i, j, v)
			}
			sum += v
		}
	}
	if math.Abs(sum-1) > distTolerance {
		return fmt.Errorf("%w: %s sums to %.9g", ErrInvalidDistribution, name, sum)
	}
	return nil
}

// A displacement of the template's top left corner
type Displacement struct {
	DH int `json:"dh"` // row offset
	DW int `json:"dw"` // column offset
}

// Posterior over displacements. Exactly one of Q and MAP is set.
type Posterior struct {
	Q   []*mat.Dense   // Full posterior, one (H-h+1) x (W-w+1) distribution per image
	MAP []Displacement // Most probable displacement per image
}

// True if the posterior is a set of point estimates
func (q *Posterior) IsMAP() bool { return q.MAP != nil }

// Most probable displacement for each image. Full posteriors are reduced by argmax,
// ties are broken by the first occurrence in row-major order.
func (q *Posterior) Displacements() []Displacement {
	if q.IsMAP() {
		return append([]Displacement(nil), q.MAP...)
	}
	ds := make([]Displacement, len(q.Q))
	for k, qk := range q.Q {
		ds[k] = argmax(qk)
	}
	return ds
}

// Validates a caller-supplied posterior against the stack and template size
func ValidatePosterior(x *Stack, h, w int, q *Posterior) error {
	if err := x.checkTemplate(h, w); err != nil {
		return err
	}
	if q == nil || (q.Q == nil && q.MAP == nil) {
		return fmt.Errorf("%w: empty posterior", ErrInvalidShape)
	}
	rows, cols := x.Grid(h, w)
	if q.IsMAP() {
		if len(q.MAP) != x.N() {
			return fmt.Errorf("%w: %d MAP displacements for %d images", ErrInvalidShape, len(q.MAP), x.N())
		}
		for k, d := range q.MAP {
			if d.DH < 0 || d.DH >= rows || d.DW < 0 || d.DW >= cols {
				return fmt.Errorf("%w: image %d displacement (%d,%d) outside %dx%d grid", ErrInvalidShape, k, d.DH, d.DW, rows, cols)
			}
		}
		return nil
	}
	if len(q.Q) != x.N() {
		return fmt.Errorf("%w: %d posteriors for %d images", ErrInvalidShape, len(q.Q), x.N())
	}
	for k, qk := range q.Q {
		if qk == nil {
			return fmt.Errorf("%w: posterior %d missing", ErrInvalidShape, k)
		}
		if err := checkDims(fmt.Sprintf("posterior %d", k), qk, rows, cols); err != nil {
			return err
		}
		if err := checkDistribution(fmt.Sprintf("posterior %d", k), qk); err != nil {
			return err
		}
	}
	return nil
}

// Position of the maximum entry, first occurrence in row-major order
func argmax(m *mat.Dense) Displacement {
	rows, cols := m.Dims()
	best, bestVal := Displacement{}, math.Inf(-1)
	first := true
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := m.At(i, j); first || v > bestVal {
				best, bestVal, first = Displacement{i, j}, v, false
			}
		}
	}
	return best
}
