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
	"errors"
	"fmt"
	"math"
)

// Strategy for drawing the initial background
type InitBackground string

const (
	InitBackgroundRandom InitBackground = "random" // a randomly chosen image of the stack
	InitBackgroundMedian InitBackground = "median" // per-pixel median across the stack
)

// Configuration for EM runs. JSON field names are used by the locate operator and the REST API
type Config struct {
	Tolerance      float64        `json:"tolerance"`      // relative convergence threshold on the lower bound
	MaxIter        int            `json:"maxIter"`        // iteration cap per run
	UseMAP         bool           `json:"useMAP"`         // collapse the posterior to its mode
	Restarts       int            `json:"restarts"`       // number of random restarts
	Seed           uint32         `json:"seed"`           // base seed for random initialization, non-zero
	Workers        int            `json:"workers"`        // images processed concurrently inside one run
	ParallelRuns   int            `json:"parallelRuns"`   // restarts run concurrently
	InitBackground InitBackground `json:"initBackground"` // background initialization strategy
}

// Returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Tolerance:      0.001,
		MaxIter:        50,
		UseMAP:         false,
		Restarts:       10,
		Seed:           1,
		Workers:        1,
		ParallelRuns:   1,
		InitBackground: InitBackgroundRandom,
	}
}

// Checks the configuration for consistency
func (c *Config) Validate() error {
	if !(c.Tolerance>0) || math.IsInf(c.Tolerance, 0) {
		return fmt.Errorf("tolerance %g must be positive", c.Tolerance)
	}
	if c.MaxIter<=0 { return fmt.Errorf("maxIter %d must be positive", c.MaxIter) }
	if c.Restarts<=0 { return fmt.Errorf("restarts %d must be positive", c.Restarts) }
	if c.Seed==0 { return errors.New("seed must be non-zero") }
	switch c.InitBackground {
	case InitBackgroundRandom, InitBackgroundMedian:
	default:
		return fmt.Errorf("unknown background initialization '%s'", c.InitBackground)
	}
	return nil
}

// Seed of the given restart, derived from the base seed. Never zero
func (c *Config) RestartSeed(restart int) uint32 {
	seed:=c.Seed+uint32(restart)*0x9e3779b9
	if seed==0 { seed=1 }
	return seed
}
