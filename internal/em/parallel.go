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

// Calls fn for each image index in [0,n), running up to workers calls concurrently.
// Each call must write only to its own slot of any shared output slice.
func forEachImage(n, workers int, fn func(k int)) {
	if workers<=1 || n<=1 {
		for k:=0; k<n; k++ { fn(k) }
		return
	}
	limiter:=make(chan bool, workers)
	for k:=0; k<n; k++ {
		limiter <- true
		go func(k int) {
			defer func() { <-limiter }()
			fn(k)
		}(k)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
}
