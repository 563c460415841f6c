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
	"errors"
	"fmt"
	"strings"
	"github.com/mlnoga/facefind/internal/fits"
)

// A promise for a FITS image. Returns a materialized image, or an error
type Promise func() (f *fits.Image, err error)

// Materializes all promises with given concurrency limit. Results keep the order 
// of the inputs. Failed promises are dropped, and all their errors are joined.
// A panicking promise fails with an error instead of terminating the process
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*fits.Image, err error) {
	if len(ins)==0 { return nil, nil }
	if maxThreads<1 { maxThreads=1 }
	results:=make([]*fits.Image, len(ins))
	errs   :=make([]error, len(ins))
	limiter:=make(chan bool, maxThreads)
	for i, in := range(ins) {
		limiter <- true 
		go func(i int, theIn Promise) {
			defer func() { 
				if rec:=recover(); rec!=nil { errs[i]=fmt.Errorf("panic: %v", rec) }
				<-limiter 
			}()
			f, err:=theIn() // materialize the promise
			errs[i]=err
			if err==nil && !forget { results[i]=f }
		}(i, in)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}

	msgs:=[]string{}
	for _,e:=range errs {
		if e!=nil { msgs=append(msgs, e.Error()) }
	}
	if len(msgs)>0 { err=errors.New(strings.Join(msgs, "; ")) }
	if forget { return nil, err }
	return RemoveNils(results), err
}

// Remove nils from an array of fits.Images, editing the underlying array in place
func RemoveNils(lights []*fits.Image) ([]*fits.Image) {
	o:=0
	for i:=0; i<len(lights); i+=1 {
		if lights[i]!=nil {
			lights[o]=lights[i]
			o+=1
		}
	}
	for i:=o; i<len(lights); i++ {
		lights[i]=nil
	}
	return lights[:o]	
}

// Wraps an already materialized image into a promise
func PromiseOf(f *fits.Image) Promise {
	return func() (*fits.Image, error) { return f, nil }
}
