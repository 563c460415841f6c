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



package ops

import (
	"io"
	"runtime"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// An execution context for operators
type Context struct {
	Log              io.Writer
	MemoryMB         int          // memory.TotalMemory()/1024/1024
	WorkMemoryMB     int          // MemoryMB*7/10, budget for concurrent EM runs
	MaxThreads       int          `json:"maxThreads"`
}

func NewContext(log io.Writer) *Context {
	memoryMB:=int(memory.TotalMemory()/1024/1024)
	return &Context{
		Log             : log,
		MemoryMB        : memoryMB,
		WorkMemoryMB    : memoryMB*7/10,
		MaxThreads      : DefaultThreads(),
	}
}

// Number of physical CPU cores, or GOMAXPROCS if unknown
func DefaultThreads() int {
	if n:=cpuid.CPU.PhysicalCores; n>0 {
		if max:=runtime.GOMAXPROCS(0); n>max { return max }
		return n
	}
	return runtime.GOMAXPROCS(0)
}
