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

import "errors"

// Errors returned by the estimator. Concrete errors wrap one of these, test with errors.Is.
var (
	// Template larger than the images, or a supplied array with the wrong dimensions
	ErrInvalidShape = errors.New("invalid shape")

	// Image pixel that is NaN or infinite
	ErrNonFinitePixel = errors.New("non-finite pixel")

	// Supplied prior or posterior with negative entries, or not summing to one
	ErrInvalidDistribution = errors.New("invalid distribution")

	// Supplied noise scale that is negative, zero where required, or not finite
	ErrDegenerateNoise = errors.New("degenerate noise scale")

	// Lower bound decreased between two EM iterations. Indicates an internal defect
	ErrNonMonotonicBound = errors.New("non-monotonic lower bound")
)
