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

package stats

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		if d != d {
			continue // NaN
		}
		index := int((d - min) * scale)
		if index < 0 || index >= len(bins) {
			continue
		}
		bins[index]++
	}
}

// Center of the given bin
func binCenter(i int, min, max float32, numBins int) float32 {
	return min + (float32(i)+0.5)*(max-min)/float32(numBins-1)
}

// Returns the location and the value of the histogram peak
func GetPeak(bins []int32, min, max float32) (x, y float32) {
	maxIndex, maxValue := 0, int32(math.MinInt32)
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}

	x = binCenter(maxIndex, min, max, len(bins))
	y = float32(bins[maxIndex])
	if maxIndex+1 < len(bins) {
		y = 0.5 * float32(bins[maxIndex]+bins[maxIndex+1])
	}
	return x, y
}

// Calculates the mode and the standard deviation of the given histogram by fitting a
// scaled normal distribution, starting from the histogram peak and the given width guess
func GetModeStdDevFromHistogram(bins []int32, min, max, stdDevGuess float32) (mode, stdDev float32, err error) {
	peak, peakVal := GetPeak(bins, min, max)
	if !(stdDevGuess > 0) {
		stdDevGuess = (max - min) / float32(len(bins))
	}

	// minimize the distance between the histogram and a normal distribution
	sqrt2Pi := math.Sqrt(2 * math.Pi)
	x0 := []float64{float64(peakVal) * float64(stdDevGuess) * sqrt2Pi, float64(peak), float64(stdDevGuess)}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], math.Abs(x[2])
			if sigma == 0 {
				return math.Inf(1)
			}
			scaler := alpha / (sigma * sqrt2Pi)
			sumSqDiff := 0.0
			for i, y := range bins {
				xmusig := (float64(binCenter(i, min, max, len(bins))) - mu) / sigma
				diff := float64(y) - scaler*math.Exp(-0.5*xmusig*xmusig)
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(len(bins)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return float32(result.X[1]), float32(math.Abs(result.X[2])), nil
}
