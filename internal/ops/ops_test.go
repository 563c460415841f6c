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
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/facefind/internal/fits"
)

func testImage(id int) *fits.Image {
	data:=make([]float32, 12)
	for i:=range data { data[i]=float32(i+id)/16 }
	f:=fits.NewImageFromNaxisn([]int32{4,3}, data)
	f.ID=id
	return f
}

func TestMaterializeAllKeepsOrder(t *testing.T) {
	ins:=make([]Promise, 20)
	for i:=range ins { ins[i]=PromiseOf(testImage(i)) }
	for _,threads:=range []int{0, 1, 3, 64} {
		outs, err:=MaterializeAll(ins, threads, false)
		if err!=nil { t.Fatal(err) }
		if len(outs)!=len(ins) { t.Fatalf("threads=%d got %d images; want %d", threads, len(outs), len(ins)) }
		for i,o:=range outs {
			if o.ID!=i { t.Errorf("threads=%d outs[%d].ID=%d", threads, i, o.ID) }
		}
	}
}

func TestMaterializeAllJoinsErrors(t *testing.T) {
	ins:=[]Promise{
		PromiseOf(testImage(0)),
		func() (*fits.Image, error) { return nil, errors.New("first") },
		PromiseOf(testImage(2)),
		func() (*fits.Image, error) { return nil, errors.New("second") },
	}
	outs, err:=MaterializeAll(ins, 2, false)
	if err==nil || err.Error()!="first; second" { t.Errorf("err=%v; want joined errors in input order", err) }
	if len(outs)!=2 || outs[0].ID!=0 || outs[1].ID!=2 { t.Errorf("surviving outputs %v", outs) }

	outs, err=MaterializeAll(ins[:1], 2, true)
	if outs!=nil || err!=nil { t.Errorf("forget returned %v, %v", outs, err) }
}

func TestMaterializeAllRecoversPanics(t *testing.T) {
	ins:=[]Promise{
		PromiseOf(testImage(0)),
		func() (*fits.Image, error) { var a []float64; _=a[3]; return nil, nil },
	}
	outs, err:=MaterializeAll(ins, 2, false)
	if err==nil || !strings.HasPrefix(err.Error(), "panic: ") { t.Errorf("err=%v; want recovered panic", err) }
	if len(outs)!=1 || outs[0].ID!=0 { t.Errorf("surviving outputs %v", outs) }
}

func TestRemoveNils(t *testing.T) {
	a, b:=testImage(1), testImage(2)
	res:=RemoveNils([]*fits.Image{nil, a, nil, nil, b, nil})
	if len(res)!=2 || res[0]!=a || res[1]!=b { t.Errorf("got %v", res) }
}

func TestIsPathAllowed(t *testing.T) {
	tcs:=[]struct{ path string; allowed bool }{
		{"a.fits", true},
		{"data/*.fits", true},
		{"/etc/passwd", false},
		{"../x.fits", false},
		{"data/../../x.fits", false},
	}
	for _,tc:=range tcs {
		if got:=IsPathAllowed(tc.path); got!=tc.allowed {
			t.Errorf("IsPathAllowed(%q)=%v; want %v", tc.path, got, tc.allowed)
		}
	}
}

func TestSequenceJSONRoundTrip(t *testing.T) {
	seq:=NewOpSequence(
		NewOpLoadMany([]string{"in/*.fits"}),
		NewOpForEach(NewOpSave("out%d.fits")),
	)
	bs, err:=json.Marshal(seq)
	if err!=nil { t.Fatal(err) }

	op, err:=UnmarshalOperator(bs)
	if err!=nil { t.Fatalf("%v in %s", err, string(bs)) }
	got, ok:=op.(*OpSequence)
	if !ok { t.Fatalf("decoded %T; want *OpSequence", op) }
	if len(got.Steps)!=2 { t.Fatalf("decoded %d steps", len(got.Steps)) }
	lm, ok:=got.Steps[0].(*OpLoadMany)
	if !ok || len(lm.FilePatterns)!=1 || lm.FilePatterns[0]!="in/*.fits" { t.Errorf("step 0 is %#v", got.Steps[0]) }
	fe, ok:=got.Steps[1].(*OpForEach)
	if !ok { t.Fatalf("step 1 is %T", got.Steps[1]) }
	save, ok:=fe.Operation.(*OpSave)
	if !ok || save.FilePattern!="out%d.fits" || !save.Active { t.Fatalf("forEach operation is %#v", fe.Operation) }
	if save.OpUnaryBase.Apply==nil { t.Errorf("decoded save operator lost its apply binding") }
}

func TestUnmarshalUnknownOperator(t *testing.T) {
	if _, err:=UnmarshalOperator([]byte(`{"type":"nope","active":true}`)); err==nil {
		t.Errorf("expected error for unknown operator type")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir:=t.TempDir()
	c:=&Context{Log:io.Discard, MaxThreads:2}
	f:=testImage(5)

	for _,pattern:=range []string{"img%d.fits", "img%d.fits.gz", "img%d.jpg", "img%d.tif"} {
		save:=NewOpSave(filepath.Join(dir, pattern))
		outs, err:=save.MakePromises([]Promise{PromiseOf(f)}, c)
		if err!=nil { t.Fatal(err) }
		res, err:=outs[0]()
		if err!=nil { t.Fatalf("%s: %v", pattern, err) }
		if res!=f { t.Errorf("%s: save did not pass its input through", pattern) }

		fileName:=save.FileName(f.ID)
		if !strings.Contains(fileName, "img5.") { t.Errorf("pattern %s expanded to %s", pattern, fileName) }
		if _, err:=os.Stat(fileName); err!=nil { t.Errorf("%s: %v", pattern, err) }
		if strings.HasSuffix(fileName, ".jpg") { continue }

		g, err:=NewOpLoad(9, fileName).Apply(nil, c)
		if err!=nil { t.Fatalf("%s: %v", pattern, err) }
		if g.ID!=9 || !fits.EqualInt32Slice(g.Naxisn, f.Naxisn) { t.Errorf("%s: loaded id %d dims %v", pattern, g.ID, g.Naxisn) }
		if strings.Contains(fileName, ".fits") {
			for i,v:=range f.Data {
				if g.Data[i]!=v { t.Errorf("%s: data[%d]=%g; want %g", pattern, i, g.Data[i], v); break }
			}
		}
	}

	if _, err:=NewOpSave(filepath.Join(dir, "x.png")).Apply(f, c); err==nil {
		t.Errorf("expected error for unknown suffix")
	}
}

func TestLoadManyAndForEach(t *testing.T) {
	dir:=t.TempDir()
	c:=&Context{Log:io.Discard, MaxThreads:2}
	for i:=0; i<3; i++ {
		if err:=testImage(i).WriteFile(filepath.Join(dir, "in"+string(rune('a'+i))+".fits")); err!=nil { t.Fatal(err) }
	}
	wd, err:=os.Getwd()
	if err!=nil { t.Fatal(err) }
	if err:=os.Chdir(dir); err!=nil { t.Fatal(err) }
	defer os.Chdir(wd)

	seq:=NewOpSequence(NewOpLoadMany([]string{"in*.fits"}), NewOpForEach(NewOpSave("out%d.fits")))
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { t.Fatal(err) }
	outs, err:=MaterializeAll(promises, c.MaxThreads, false)
	if err!=nil { t.Fatal(err) }
	if len(outs)!=3 { t.Fatalf("got %d images", len(outs)) }
	for i:=0; i<3; i++ {
		if _, err:=os.Stat(filepath.Join(dir, "out"+string(rune('0'+i))+".fits")); err!=nil { t.Error(err) }
	}

	if _, err:=NewOpLoadMany([]string{"none*.fits"}).MakePromises(nil, c); err==nil {
		t.Errorf("expected error for empty match")
	}
	if _, err:=NewOpLoad(0, "/abs.fits").MakePromises(nil, c); err==nil {
		t.Errorf("expected error for absolute path")
	}
}
