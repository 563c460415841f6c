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
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Number of histogram bins used for location and scale estimation
const histogramBins=256

// Statistics on an image data array. Min, max, mean and standard deviation are computed
// eagerly. Location and scale are estimated from a histogram on first use.
type Stats struct {
	data     []float32
	width    int32

	min      float32
	max      float32
	mean     float32
	stdDev   float32

	hasLS    bool
	location float32
	scale    float32
}

// Calculates statistics for the given data array with given row width
func NewStats(data []float32, width int32) *Stats {
	s:=&Stats{data: data, width: width}
	if len(data)==0 { return s }
	d:=toFloat64(data)
	s.min, s.max=float32(floats.Min(d)), float32(floats.Max(d))
	mean, std:=stat.MeanStdDev(d, nil)
	if len(d)<2 { std=0 }
	s.mean, s.stdDev=float32(mean), float32(std)
	return s
}

// Calculates statistics for the given data array, reusing known min, max and mean
func NewStatsWithMMM(data []float32, width int32, min, max, mean float32) *Stats {
	s:=&Stats{data: data, width: width, min: min, max: max, mean: mean}
	if len(data)>=2 {
		s.stdDev=float32(stat.StdDev(toFloat64(data), nil))
	}
	return s
}

func (s *Stats) Min()    float32 { return s.min }
func (s *Stats) Max()    float32 { return s.max }
func (s *Stats) Mean()   float32 { return s.mean }
func (s *Stats) StdDev() float32 { return s.stdDev }

// Mode of the data, from a Gaussian fit to the histogram peak
func (s *Stats) Location() float32 {
	s.estimateLocationScale()
	return s.location
}

// Width of the Gaussian fitted to the histogram peak
func (s *Stats) Scale() float32 {
	s.estimateLocationScale()
	return s.scale
}

func (s *Stats) estimateLocationScale() {
	if s.hasLS { return }
	s.hasLS=true
	if len(s.data)==0 || s.max-s.min<1e-12 {
		s.location, s.scale=s.min, 0
		return
	}
	bins:=make([]int32, histogramBins)
	Histogram(s.data, s.min, s.max, bins)
	mode, stdDev, err:=GetModeStdDevFromHistogram(bins, s.min, s.max, s.stdDev)
	if err!=nil || mode<s.min || mode>s.max || math.IsNaN(float64(stdDev)) {
		// fall back to the moments if the fit fails
		s.location, s.scale=s.mean, s.stdDev
		return
	}
	s.location, s.scale=mode, stdDev
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g", s.min, s.max, s.mean, s.stdDev)
}

// Pretty print stats including the histogram estimates
func (s *Stats) LongString() string {
	return fmt.Sprintf("%s Location %.6g Scale %.6g", s.String(), s.Location(), s.Scale())
}

func toFloat64(data []float32) []float64 {
	d:=make([]float64, len(data))
	for i, v:=range data {
		d[i]=float64(v)
	}
	return d
}
