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



package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/facefind/internal/ops"
	"github.com/mlnoga/facefind/internal/ops/locate"
	"github.com/mlnoga/facefind/internal/synth"
	"github.com/mlnoga/facefind/web"
)

// Serves the HTTP API on the given address until the listener fails
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

// Creates the router with all API routes
func NewRouter() *gin.Engine {
	r := gin.Default()
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",   getPing)
			v1.POST("/locate", postLocate)
			v1.POST("/synth",  postSynth)
		}
	}
	return r
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Serializes writes from concurrent operators onto the response, flushing each one to the client
type flushWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (n int, err error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	n, err=fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

// Returns an error naming the first output file outside the current directory tree
func checkOutputFiles(fileNames ...string) error {
	for _, fn:=range fileNames {
		if fn!="" && !ops.IsPathAllowed(fn) { return fmt.Errorf("output file %s outside current directory tree", fn) }
	}
	return nil
}


type postLocateArgs struct {
	FilePatterns []string          `json:"filePatterns"`
	Locate       *locate.OpLocate  `json:"locate"`
}

func postLocate(c *gin.Context) {
	var args postLocateArgs
	if err:=c.ShouldBindJSON(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Locate==nil { args.Locate=locate.NewOpLocateDefault() }
	if err:=checkOutputFiles(args.Locate.TemplateFile, args.Locate.BackgroundFile, args.Locate.PriorFile); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter:=&flushWriter{w: c.Writer}

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx:=ops.NewContext(logWriter)
	seq:=ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.Locate)
	promises, err:=seq.MakePromises(nil, ctx)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err=ops.MaterializeAll(promises, ctx.MaxThreads, true); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	args.Locate.PrintDisplacements(ctx)
}


type postSynthArgs struct {
	Synth       *locate.OpSynth  `json:"synth"`
	FilePattern string           `json:"filePattern"`   // optional %d pattern for writing the frames
}

type synthSummary struct {
	N          int              `json:"n"`
	H          int              `json:"h"`
	W          int              `json:"w"`
	FH         int              `json:"fh"`
	FW         int              `json:"fw"`
	Noise      float64          `json:"noise"`
	Seed       uint32           `json:"seed"`
	Offsets    []synth.Offset   `json:"offsets"`
	Files      []string         `json:"files,omitempty"`
}

func postSynth(c *gin.Context) {
	var args postSynthArgs
	if err:=c.ShouldBindJSON(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Synth==nil { args.Synth=locate.NewOpSynthDefault() }
	if err:=checkOutputFiles(args.FilePattern, args.Synth.TemplateFile, args.Synth.BackgroundFile); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	ctx:=ops.NewContext(io.Discard)
	save:=ops.NewOpSave(args.FilePattern)
	seq:=ops.NewOpSequence(args.Synth, ops.NewOpForEach(save))
	promises, err:=seq.MakePromises(nil, ctx)
	if err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if _, err=ops.MaterializeAll(promises, ctx.MaxThreads, true); err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error() } )
		return
	}

	s:=args.Synth
	summary:=synthSummary{N: s.N, H: s.H, W: s.W, FH: s.FH, FW: s.FW, Noise: s.Noise, Seed: s.Seed, Offsets: s.Truth.Offsets}
	if args.FilePattern!="" {
		for i:=0; i<s.N; i++ { summary.Files=append(summary.Files, save.FileName(i)) }
	}
	c.JSON(http.StatusOK, summary)
}
