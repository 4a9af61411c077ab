package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matzehuels/irgraph/pkg/buildinfo"
	"github.com/matzehuels/irgraph/pkg/cache"
	"github.com/matzehuels/irgraph/pkg/errors"
	irio "github.com/matzehuels/irgraph/pkg/io"
	"github.com/matzehuels/irgraph/pkg/ir"
	"github.com/matzehuels/irgraph/pkg/observability"
	"github.com/matzehuels/irgraph/pkg/pipeline"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := log.NewWithOptions(io.Discard, log.Options{})
	runner := pipeline.NewRunner(cache.Instrument(fc, cache.BackendFile), nil, logger)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	observability.SetCodecHooks(metrics)
	observability.SetCacheHooks(metrics)
	t.Cleanup(observability.Reset)

	srv := httptest.NewServer(newAPI(runner, DefaultConfig().Decode.options(), logger, reg))
	t.Cleanup(srv.Close)
	return srv
}

func graphBody(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := irio.WriteJSON(loopGraph(), &buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func post(t *testing.T, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestAPIEncodeDecode(t *testing.T) {
	srv := newTestAPI(t)

	resp, encoded := post(t, srv.URL+"/encode", graphBody(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /encode status = %d, body %s", resp.StatusCode, encoded)
	}
	if got := resp.Header.Get(headerCache); got != "miss" {
		t.Errorf("first encode %s = %q, want miss", headerCache, got)
	}
	resp, _ = post(t, srv.URL+"/encode", graphBody(t))
	if got := resp.Header.Get(headerCache); got != "hit" {
		t.Errorf("second encode %s = %q, want hit", headerCache, got)
	}

	resp, body := post(t, srv.URL+"/decode?policy=unroll&fold=true", encoded)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /decode status = %d, body %s", resp.StatusCode, body)
	}
	if resp.Header.Get(headerSession) == "" || resp.Header.Get(headerPolicy) != "unroll" {
		t.Errorf("decode headers = %v", resp.Header)
	}
	g, err := irio.ReadJSON(bytes.NewReader(body), nil)
	if err != nil {
		t.Fatalf("decoded body: %v", err)
	}
	for _, n := range g.Nodes() {
		if n.Kind() == ir.KindLoopBegin {
			t.Errorf("unrolled graph still has %v", n)
		}
	}

	resp, body = post(t, srv.URL+"/inspect", encoded)
	var s inspectSummary
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &s) != nil || s.Name != "loop" {
		t.Errorf("POST /inspect = %d %s", resp.StatusCode, body)
	}
}

func TestAPIErrors(t *testing.T) {
	srv := newTestAPI(t)
	_, encoded := post(t, srv.URL+"/encode", graphBody(t))

	tests := []struct {
		name   string
		path   string
		body   []byte
		status int
		code   errors.Code
	}{
		{"policy", "/decode?policy=sideways", encoded, http.StatusBadRequest, errors.ErrCodeInvalidPolicy},
		{"iterations", "/decode?max_iterations=many", encoded, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"garbage", "/decode", []byte("{"), http.StatusBadRequest, errors.ErrCodeInvalidFormat},
		{"graph", "/encode", []byte(`{"name":"x","nodes":[]}`), http.StatusBadRequest, errors.ErrCodeInvalidFormat},
		{"format", "/render?format=gif", graphBody(t), http.StatusBadRequest, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			var e apiError
			if err := json.Unmarshal(body, &e); err != nil || e.Code != tt.code {
				t.Errorf("error body = %s, want code %s", body, tt.code)
			}
		})
	}
}

func TestAPIRender(t *testing.T) {
	srv := newTestAPI(t)
	resp, body := post(t, srv.URL+"/render?format=dot&detailed=true", graphBody(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /render status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/vnd.graphviz" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(body, []byte(`digraph "loop"`)) {
		t.Errorf("body = %.40q, want DOT", body)
	}
}

func TestAPIMetricsAndVersion(t *testing.T) {
	srv := newTestAPI(t)
	post(t, srv.URL+"/encode", graphBody(t))

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"irgraph_encodes_total", `irgraph_cache_lookups_total{backend="file",result="miss"} 1`} {
		if !strings.Contains(string(metrics), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info buildinfo.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info != buildinfo.Current() {
		t.Errorf("/version = %+v, %v, want %+v", info, err, buildinfo.Current())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New(errors.ErrCodeInvalidPolicy, "x"), http.StatusBadRequest},
		{errors.New(errors.ErrCodeBailout, "x"), http.StatusUnprocessableEntity},
		{errors.New(errors.ErrCodeTimeout, "x"), http.StatusGatewayTimeout},
		{errors.New(errors.ErrCodeInternal, "x"), http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
