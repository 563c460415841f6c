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
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename.
// Creates/overwrites the file if necessary. Compresses with gzip if the name ends in .gz or .gzip
func (fits *Image) WriteFile(fileName string) error {
	f, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer f.Close()
	w:=bufio.NewWriter(f)
	lower:=strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		gz:=gzip.NewWriter(w)
		if err:=fits.Write(gz); err!=nil { return err }
		if err:=gz.Close();     err!=nil { return err }
	} else {
		if err:=fits.Write(w);  err!=nil { return err }
	}
	return w.Flush()
}

// Writes an in-memory FITS image to an io.Writer as 32-bit floats.
func (fits *Image) Write(f io.Writer) error {
	// Build header in string buffer
	sb:=strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	writeInt32(&sb, "NAXIS",  int32(len(fits.Naxisn)), "[1] Number of axis")
	for i:=0; i<len(fits.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d",i+1), fits.Naxisn[i], "[1] Axis size")
	}
	writeFloat32(&sb, "BZERO", fits.Bzero, "[1] Zero offset")
	for _,key:=range sortedKeys(fits.Header.Floats) {
		writeFloat32(&sb, key, fits.Header.Floats[key], "")
	}
	for _,key:=range sortedKeys(fits.Header.Ints) {
		writeInt32(&sb, key, fits.Header.Ints[key], "")
	}
	for _,key:=range sortedKeys(fits.Header.Strings) {
		writeString(&sb, key, fits.Header.Strings[key], "")
	}
	for _,h:=range fits.Header.History {
		writeHistory(&sb, h)
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	bytesInHeaderBlock:=(sb.Len() % fitsBlockSize)
	if bytesInHeaderBlock>0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-bytesInHeaderBlock))
	}

	// Write header block(s)
	_, err:=f.Write([]byte(sb.String()))
	if err!=nil { return err }

	// Write payload data, replacing NaNs with zeros for compatibility
	if err:=writeFloat32Array(f, fits.Data, true); err!=nil { return err }

	// Pad data block with zeros if necessary
	bytesInDataBlock:=(len(fits.Data)*4) % fitsBlockSize
	if bytesInDataBlock>0 {
		_, err=f.Write(make([]byte, fitsBlockSize-bytesInDataBlock))
	}
	return err
}

// Writes a FITS header boolean value 
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	v:="F"
	if value { v="T" }
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value 
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float32 value, always with a decimal point so it parses back as a float
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	s:=strings.ToUpper(fmt.Sprintf("%g", value))
	if !strings.ContainsAny(s, ".E") { 
		s+="." 
	} else if !strings.Contains(s, ".") {
		s=strings.Replace(s, "E", ".E", 1)
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, s, comment)
}

// Writes a FITS header string value. Values longer than the line are truncated
func writeString(w io.Writer, key, value, comment string) {
	if len(key)>8 { key=key[0:8] }
	value=strings.ReplaceAll(value, "'", "''")
	if len(value)>68 { value=value[0:68] }
	line:=fmt.Sprintf("%-8s= '%-8s'", key, value)
	if comment!="" && len(line)+3+len(comment)<=HeaderLineSize {
		line+=" / "+comment
	}
	fmt.Fprintf(w, "%-80s", line)
}

// Writes a FITS history line
func writeHistory(w io.Writer, text string) {
	if len(text)>72 { text=text[0:72] }
	fmt.Fprintf(w, "HISTORY %-72s", text)
}

// Writes a FITS header end record 
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", HeaderLineSize-3))
}

// Writes FITS binary body data in network byte order. 
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf:=make([]byte,bufLen)

	for block:=0; block<len(data); block+=(bufLen>>2) {
		size:=len(data)-block
		if size>(bufLen>>2) { size=(bufLen>>2) }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) { d=0 }
			val:=math.Float32bits(d)
			buf[(offset<<2)+0]=byte(val>>24)
			buf[(offset<<2)+1]=byte(val>>16)
			buf[(offset<<2)+2]=byte(val>> 8)
			buf[(offset<<2)+3]=byte(val    )
		}
		_, err:=w.Write(buf[:(size<<2)])
		if err!=nil { return err }
	}
	return nil
}

// Returns the keys of a header map in ascending order, for reproducible output
func sortedKeys[V any](m map[string]V) []string {
	keys:=make([]string, 0, len(m))
	for k:=range m {
		keys=append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
