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



package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"
	"github.com/klauspost/cpuid"
	nl "github.com/mlnoga/facefind/internal"
	"github.com/mlnoga/facefind/internal/em"
	"github.com/mlnoga/facefind/internal/ops"
	"github.com/mlnoga/facefind/internal/ops/locate"
	"github.com/mlnoga/facefind/internal/rest"
	"github.com/mlnoga/facefind/internal/synth"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out  = flag.String("out", "template.fits", "save estimated (locate) or true (synth) template to `file`")
var back = flag.String("back", "%auto", "save background to `file`. `%auto` appends _background to the output file name")
var prior= flag.String("prior", "", "save displacement prior to `file` (locate only)")
var jpg  = flag.String("jpg", "%auto", "save 8bit preview of the template as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var log  = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var config   = flag.String("config", "", "load locate settings from JSON `file`, flags below override only if set explicitly")
var h        = flag.Int("h", 6, "template height in pixels")
var w        = flag.Int("w", 6, "template width in pixels")
var tol      = flag.Float64("tol", 0.001, "relative convergence tolerance on the lower bound")
var maxIter  = flag.Int("maxIter", 50, "maximum number of EM iterations per run")
var useMAP   = flag.Bool("map", false, "use MAP point estimates of the displacements instead of the full posterior")
var restarts = flag.Int("restarts", 10, "number of random restarts, 1=single run")
var seed     = flag.Uint("seed", 1, "non-zero base seed for random initialization")
var workers  = flag.Int("workers", 0, "images processed concurrently within one run, 0=number of physical cores")
var parallel = flag.Int("parallel", 1, "restarts run concurrently, capped by available memory")
var initBack = flag.String("initBack", "random", "background initialization, one of random or median")

var frames   = flag.String("frames", "frame%04d.fits", "synth: save generated frames with given filename pattern")
var synthH   = flag.Int("synthH", 20, "synth: image height in pixels")
var synthW   = flag.Int("synthW", 20, "synth: image width in pixels")
var synthN   = flag.Int("synthN", 200, "synth: number of images")
var noise    = flag.Float64("noise", 0.1, "synth: standard deviation of the pixel noise")

var addr     = flag.String("addr", ":8080", "serve: listen address")
var chroot   = flag.String("chroot", "", "serve: change filesystem root to `dir` before serving")
var setuid   = flag.Int("setuid", -1, "serve: change user id before serving, -1=don't")

func main() {
	start:=time.Now()
	flag.Usage=func(){
		fmt.Fprintf(os.Stdout, `Facefind Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (locate|synth|serve|legal|version|help) (img0.fits ... imgn.fits)

Commands:
  locate  Locate a template hidden at unknown offsets in the input images
  synth   Generate a synthetic stack with known template, background and offsets
  serve   Serve the HTTP API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log=="%auto" {
		*log=""
		if (args[0]=="locate" || args[0]=="synth") && *out!="" {
			*log=strings.TrimSuffix(*out, filepath.Ext(*out))+".log"
		}
	}
	if *log!="" {
		if err:=nl.LogAlsoToFile(*log); err!=nil { nl.LogFatalf("Unable to open logfile '%s'\n", *log) }
	}
	defer nl.LogSync()
	logWriter:=nl.LogWriter()

	// Auto-select background and JPEG output targets
	if *back=="%auto" {
		*back=""
		if *out!="" { *back=strings.TrimSuffix(*out, filepath.Ext(*out))+"_background"+filepath.Ext(*out) }
	}
	if *jpg=="%auto" {
		*jpg=""
		if *out!="" { *jpg=strings.TrimSuffix(*out, filepath.Ext(*out))+".jpg" }
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil { nl.LogFatal("Could not create CPU profile: ", err) }
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil { nl.LogFatal("Could not start CPU profile: ", err) }
		defer pprof.StopCPUProfile()
	}

	ctx:=ops.NewContext(logWriter)

	var err error
	switch args[0] {
	case "locate":
		err=cmdLocate(args[1:], ctx)

	case "synth":
		err=cmdSynth(ctx)

	case "serve":
		if err=rest.MakeSandbox(*chroot, *setuid, logWriter); err==nil {
			err=rest.Serve(*addr)
		}

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s, %s on %s/%s\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(logWriter, "CPU %s with %d physical cores, %d MiB memory\n", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, ctx.MemoryMB)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}
	if err!=nil { nl.LogFatalf("Error: %s\n", err.Error()) }

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil { nl.LogFatal("Could not create memory profile: ", err) }
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil { nl.LogFatal("Could not write memory profile: ", err) }
	}

	if args[0]=="locate" || args[0]=="synth" {
		fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))
	}
}

// Builds the locate operator from the optional JSON config file, overridden by explicitly set flags
func newOpLocate(ctx *ops.Context) (*locate.OpLocate, error) {
	op:=locate.NewOpLocateDefault()
	if *config!="" {
		data, err:=os.ReadFile(*config)
		if err!=nil { return nil, err }
		if err:=json.Unmarshal(data, op); err!=nil { return nil, fmt.Errorf("parsing %s: %w", *config, err) }
	}
	set:=map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name]=true })
	apply:=func(name string, fn func()) {
		if *config=="" || set[name] { fn() }
	}
	apply("h",        func() { op.H=*h })
	apply("w",        func() { op.W=*w })
	apply("tol",      func() { op.Tolerance=*tol })
	apply("maxIter",  func() { op.MaxIter=*maxIter })
	apply("map",      func() { op.UseMAP=*useMAP })
	apply("restarts", func() { op.Restarts=*restarts })
	apply("seed",     func() { op.Seed=uint32(*seed) })
	apply("workers",  func() { op.Workers=*workers })
	apply("parallel", func() { op.ParallelRuns=*parallel })
	apply("initBack", func() { op.InitBackground=em.InitBackground(*initBack) })
	apply("out",      func() { op.TemplateFile=*out })
	apply("back",     func() { op.BackgroundFile=*back })
	apply("prior",    func() { op.PriorFile=*prior })
	if op.Workers<=0 { op.Workers=ctx.MaxThreads }
	return op, nil
}

func cmdLocate(fileNames []string, ctx *ops.Context) error {
	if len(fileNames)==0 { return fmt.Errorf("locate needs input files") }
	op, err:=newOpLocate(ctx)
	if err!=nil { return err }
	if err:=printSettings(ctx.Log, "Locating with these settings:\n", op); err!=nil { return err }

	seq:=ops.NewOpSequence(ops.NewOpLoadMany(fileNames), op)
	promises, err:=seq.MakePromises(nil, ctx)
	if err!=nil { return err }
	outs, err:=ops.MaterializeAll(promises, ctx.MaxThreads, false)
	if err!=nil { return err }
	if _, err:=ops.NewOpSave(*jpg).Apply(outs[0], ctx); err!=nil { return err }

	res:=op.Result
	ls:=make([]string, len(res.LL))
	for i, l:=range res.LL { ls[i]=fmt.Sprintf("%.8g", l) }
	fmt.Fprintf(ctx.Log, "Lower bound trajectory: %s\n", strings.Join(ls, " "))
	fmt.Fprintf(ctx.Log, "Final noise scale s=%.6g after %d iterations (%s), seed %d\n", res.Params.S, res.Iterations, res.State, res.Seed)
	op.PrintDisplacements(ctx)
	return nil
}

func cmdSynth(ctx *ops.Context) error {
	cfg:=synth.DefaultConfig()
	cfg.H, cfg.W, cfg.FH, cfg.FW, cfg.N, cfg.Noise, cfg.Seed=*synthH, *synthW, *h, *w, *synthN, *noise, uint32(*seed)
	op:=locate.NewOpSynth(cfg)
	op.TemplateFile, op.BackgroundFile=*out, *back
	if err:=printSettings(ctx.Log, "Generating with these settings:\n", op); err!=nil { return err }

	seq:=ops.NewOpSequence(op, ops.NewOpForEach(ops.NewOpSave(*frames)))
	promises, err:=seq.MakePromises(nil, ctx)
	if err!=nil { return err }
	if _, err:=ops.MaterializeAll(promises, ctx.MaxThreads, true); err!=nil { return err }
	for k, o:=range op.Truth.Offsets {
		fmt.Fprintf(ctx.Log, "%d: template at row %d column %d\n", k, o.DH, o.DW)
	}
	return nil
}

func printSettings(logWriter io.Writer, prefix string, op ops.Operator) error {
	m, err:=json.MarshalIndent(op, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s\n", prefix, string(m))
	return nil
}
