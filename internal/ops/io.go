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
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"github.com/mlnoga/facefind/internal/fits"
)

// Load a single image from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID 		    int     `json:"id"`
	FileName    string  `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault()}) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase   : OpBase{Type: "load", Active: true},
		ID       : id,
		FileName : fileName,
	}
}

// Load image from a file. Accepts no inputs
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	if !IsPathAllowed(op.FileName) { return nil, fmt.Errorf("file name %s outside current directory tree, aborting", op.FileName) }

	out:=func() (f *fits.Image, err error) {
		return op.Apply(nil, c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory 
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) { return false }          // relative paths only
	if strings.Contains(p, "..") { return false }  // no going outside the tree
	return true
}

func (op *OpLoad) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	f, err=fits.NewImageFromFile(op.FileName, op.ID, c.Log)
	if err!=nil { return nil, err }
	if !f.IsMono() { 
		return nil, fmt.Errorf("%d: %s is a %s pixel image, need a monochrome one", f.ID, f.FileName, f.DimensionsToString()) 
	}

	warning:=""
	if f.Stats.Max()-f.Stats.Min()<1e-8 {
		warning="; WARNING low dynamic range"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s image with %v from %s%s\n", 
		        f.ID, f.DimensionsToString(), f.Stats, f.FileName, warning)
	return f, nil		
}


// Load many images from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs in lexical file name order per pattern
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault()}) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase       : OpBase{Type: "loadMany", Active: true},
		FilePatterns : filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err!=nil { return nil, err }
		for _,match:=range(matches) {
			if !IsPathAllowed(match) { 
				fmt.Fprintf(c.Log, "Pattern match %s outside current directory tree, skipping\n", match)
				continue
			}
			promises, err:=NewOpLoad(len(outs), match).MakePromises(nil, c)
			if err!=nil { return nil, err }
			outs=append(outs, promises[0])
		}
	}
	if len(outs)==0 { 
		return nil, fmt.Errorf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns)
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}


// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern       string          `json:"filePattern"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault()}) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op:=OpSave{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "save", Active: filenamePattern!=""}},
		FilePattern : filenamePattern,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Restores the abstract method binding after JSON decoding
func (op *OpSave) UnmarshalJSON(b []byte) error {
	type alias OpSave
	if err:=json.Unmarshal(b, (*alias)(op)); err!=nil { return err }
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

// Expands the file pattern for the given image ID
func (op *OpSave) FileName(id int) string {
	if strings.Contains(op.FilePattern, "%d") {
		return fmt.Sprintf(op.FilePattern, id)
	}
	return op.FilePattern
}

func (op *OpSave) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	if !op.Active || op.FilePattern=="" { return f, nil }
	fileName:=op.FileName(f.ID)
	fnLower:=strings.ToLower(fileName)

	if isFITSFileName(fnLower) {     
		fmt.Fprintf(c.Log,"%d: Writing %s pixel FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		err=f.WriteFile(fileName)
	} else if !f.IsMono() {
		return nil, fmt.Errorf("%d: unable to write %s pixel image to %s, need a monochrome one", f.ID, f.DimensionsToString(), fileName)
	} else if strings.HasSuffix(fnLower,".jpeg") || strings.HasSuffix(fnLower,".jpg") {
		fmt.Fprintf(c.Log, "%d: Writing %s pixel mono JPEG to %s ...\n", f.ID, f.DimensionsToString(), fileName)
		err=f.WriteMonoJPGToFile(fileName, f.Stats.Min(), f.Stats.Max(), 1, 95)
	} else if strings.HasSuffix(fnLower,".tiff") || strings.HasSuffix(fnLower,".tif") {
		fmt.Fprintf(c.Log, "%d: Writing %s pixel 16-bit TIFF to %s ...\n", f.ID, f.DimensionsToString(), fileName)
		err=f.WriteMonoTIFF16ToFile(fileName, f.Stats.Min(), f.Stats.Max(), 1)
	} else {
		err=fmt.Errorf("unknown suffix")
	}
	if err!=nil { return nil, fmt.Errorf("%d: error writing to file %s: %w", f.ID, fileName, err) }
	return f, nil
}

func isFITSFileName(fnLower string) bool {
	for _,ext:=range []string{".fits", ".fit", ".fts"} {
		for _,comp:=range []string{"", ".gz", ".gzip"} {
			if strings.HasSuffix(fnLower, ext+comp) { return true }
		}
	}
	return false
}
