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
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w:=httptest.NewRecorder()
	req:=httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w:=doRequest(NewRouter(), http.MethodGet, "/api/v1/ping", "")
	if w.Code!=http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestIndex(t *testing.T) {
	w:=doRequest(NewRouter(), http.MethodGet, "/", "")
	if w.Code!=http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/locate") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestSynthSummary(t *testing.T) {
	w:=doRequest(NewRouter(), http.MethodPost, "/api/v1/synth",
	             `{"synth":{"type":"synth","active":true,"h":8,"w":8,"fh":3,"fw":3,"n":7,"noise":0.1,"seed":5}}`)
	if w.Code!=http.StatusOK { t.Fatalf("got %d %s", w.Code, w.Body.String()) }
	var s synthSummary
	if err:=json.Unmarshal(w.Body.Bytes(), &s); err!=nil { t.Fatal(err) }
	if s.N!=7 || len(s.Offsets)!=7 || len(s.Files)!=0 { t.Errorf("got %+v", s) }
	for _, o:=range s.Offsets {
		if o.DH<0 || o.DH>5 || o.DW<0 || o.DW>5 { t.Errorf("offset %v outside grid", o) }
	}
}

func TestRejectsBadRequests(t *testing.T) {
	r:=NewRouter()
	tcs:=[]struct{ path, body string }{
		{"/api/v1/synth",  `{"synth":{"type":"synth","n":0}}`},
		{"/api/v1/synth",  `{"filePattern":"/tmp/x%d.fits"}`},
		{"/api/v1/locate", `{"filePatterns":["*.fits"],"locate":{"type":"locate","templateFile":"../f.fits"}}`},
		{"/api/v1/locate", `not json`},
	}
	for _, tc:=range tcs {
		if w:=doRequest(r, http.MethodPost, tc.path, tc.body); w.Code!=http.StatusBadRequest {
			t.Errorf("%s %s: got %d; want %d", tc.path, tc.body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestSynthThenLocate(t *testing.T) {
	dir:=t.TempDir()
	wd, err:=os.Getwd()
	if err!=nil { t.Fatal(err) }
	if err:=os.Chdir(dir); err!=nil { t.Fatal(err) }
	defer os.Chdir(wd)
	r:=NewRouter()

	w:=doRequest(r, http.MethodPost, "/api/v1/synth",
	             `{"synth":{"type":"synth","active":true,"h":9,"w":9,"fh":3,"fw":3,"n":20,"noise":0.05,"seed":2},"filePattern":"f%d.fits"}`)
	if w.Code!=http.StatusOK { t.Fatalf("synth: got %d %s", w.Code, w.Body.String()) }
	var s synthSummary
	if err:=json.Unmarshal(w.Body.Bytes(), &s); err!=nil { t.Fatal(err) }
	if len(s.Files)!=20 || s.Files[3]!="f3.fits" { t.Fatalf("files %v", s.Files) }

	w=doRequest(r, http.MethodPost, "/api/v1/locate",
	            `{"filePatterns":["f*.fits"],"locate":{"type":"locate","active":true,"h":3,"w":3,"restarts":2,"maxIter":20,"templateFile":"template.fits"}}`)
	if w.Code!=http.StatusOK { t.Fatalf("locate: got %d %s", w.Code, w.Body.String()) }
	body:=w.Body.String()
	for _, want:=range []string{"Found 20 files.", "(best)", "19: template at row"} {
		if !strings.Contains(body, want) { t.Errorf("%q missing from log:\n%s", want, body) }
	}
	if strings.Contains(body, "error:") { t.Errorf("locate reported an error:\n%s", body) }
	if _, err:=os.Stat("template.fits"); err!=nil { t.Error(err) }
}
