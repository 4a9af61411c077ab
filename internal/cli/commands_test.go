package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/irgraph/pkg/errors"
	irio "github.com/matzehuels/irgraph/pkg/io"
	"github.com/matzehuels/irgraph/pkg/ir"
)

// loopGraph builds "for i := 0; i < 3; i++ { tick(i) }; return i".
func loopGraph() *ir.Graph {
	g := ir.NewGraph("loop")
	n, zero, one := g.IntConstant(3), g.IntConstant(0), g.IntConstant(1)

	entry := g.End()
	g.Start().SetNext(entry)
	lb := g.LoopBegin(nil, entry)
	i := g.Phi(lb, zero)
	lb.SetStateAfter(g.FrameState(1, nil, i))

	body := g.Begin()
	exit := g.LoopExit(lb, g.FrameState(9, nil, i))
	lb.SetNext(g.If(g.Compare("<", i, n), body, exit, 0.9))
	ir.Chain(body, g.Effect("tick", i, g.FrameState(5, nil, i)), g.LoopEnd(lb))
	i.AddPhiValue(g.Arith("+", i, one))
	exit.SetNext(g.Return(g.Proxy(i, exit)))
	return g
}

// writeGraph exports loopGraph into a fresh directory and points the file
// cache into it.
func writeGraph(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	path = filepath.Join(dir, "loop.json")
	if err := irio.ExportJSON(loopGraph(), path); err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	return dir, path
}

// execute runs the command tree and returns what the commands printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	old := stdout
	stdout = &out
	defer func() { stdout = old }()

	root := New(io.Discard, LogInfo).RootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func countKind(t *testing.T, path string, kind ir.Kind) int {
	t.Helper()
	g, err := irio.ImportJSON(path, nil)
	if err != nil {
		t.Fatalf("ImportJSON(%s) error = %v", path, err)
	}
	n := 0
	for _, node := range g.Nodes() {
		if node.Kind() == kind {
			n++
		}
	}
	return n
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dir, src := writeGraph(t)
	irg := filepath.Join(dir, "loop.irg")

	out, err := execute(t, "encode", src)
	if err != nil {
		t.Fatalf("encode error = %v", err)
	}
	if !strings.Contains(out, "Encoded loop") || !strings.Contains(out, "fresh") {
		t.Errorf("encode output = %q", out)
	}
	if _, err := os.Stat(irg); err != nil {
		t.Fatalf("encode did not write %s: %v", irg, err)
	}

	out, err = execute(t, "encode", src)
	if err != nil {
		t.Fatalf("second encode error = %v", err)
	}
	if !strings.Contains(out, "cached") {
		t.Errorf("second encode output = %q, want a cache hit", out)
	}

	decoded := filepath.Join(dir, "back.json")
	if _, err := execute(t, "decode", irg, "-o", decoded); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got := countKind(t, decoded, ir.KindLoopBegin); got != 1 {
		t.Errorf("decoded LoopBegin count = %d, want 1", got)
	}
}

func TestDecodeSeveralPolicies(t *testing.T) {
	dir, src := writeGraph(t)
	irg := filepath.Join(dir, "loop.irg")
	if _, err := execute(t, "encode", src, "--no-cache"); err != nil {
		t.Fatalf("encode error = %v", err)
	}

	out, err := execute(t, "decode", irg, "--policy", "none,unroll", "--fold", "--dot", filepath.Join(dir, "loop.dot"))
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if strings.Count(out, "Decoded loop") != 2 {
		t.Errorf("decode output = %q, want two results", out)
	}
	if got := countKind(t, filepath.Join(dir, "loop-none.json"), ir.KindLoopBegin); got != 1 {
		t.Errorf("none: LoopBegin count = %d, want 1", got)
	}
	unrolled := filepath.Join(dir, "loop-unroll.json")
	if got := countKind(t, unrolled, ir.KindLoopBegin); got != 0 {
		t.Errorf("unroll: LoopBegin count = %d, want 0", got)
	}
	if got := countKind(t, unrolled, ir.KindEffect); got != 3 {
		t.Errorf("unroll: Effect count = %d, want 3", got)
	}
	dot, err := os.ReadFile(filepath.Join(dir, "loop-unroll.dot"))
	if err != nil || !bytes.HasPrefix(dot, []byte(`digraph "loop"`)) {
		t.Errorf("loop-unroll.dot = %.40q, %v", dot, err)
	}
}

func TestDecodeUsesConfig(t *testing.T) {
	dir, src := writeGraph(t)
	irg := filepath.Join(dir, "loop.irg")
	if _, err := execute(t, "encode", src); err != nil {
		t.Fatalf("encode error = %v", err)
	}
	cfg := writeConfig(t, "[decode]\npolicy = \"unroll\"\nfold = true\n")

	if _, err := execute(t, "--config", cfg, "decode", irg); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got := countKind(t, filepath.Join(dir, "loop.json"), ir.KindLoopBegin); got != 0 {
		t.Errorf("LoopBegin count = %d, want 0 with policy from config", got)
	}

	// A flag wins over the file.
	if _, err := execute(t, "--config", cfg, "decode", irg, "--policy", "none", "-o", filepath.Join(dir, "flag.json")); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got := countKind(t, filepath.Join(dir, "flag.json"), ir.KindLoopBegin); got != 1 {
		t.Errorf("LoopBegin count = %d, want 1 with --policy none", got)
	}
}

func TestDecodeRejects(t *testing.T) {
	dir, src := writeGraph(t)
	if _, err := execute(t, "encode", src); err != nil {
		t.Fatalf("encode error = %v", err)
	}
	irg := filepath.Join(dir, "loop.irg")

	tests := []struct {
		name string
		args []string
		code errors.Code
	}{
		{"policy", []string{"decode", irg, "--policy", "sideways"}, errors.ErrCodeInvalidPolicy},
		{"missing file", []string{"decode", filepath.Join(dir, "absent.irg")}, errors.ErrCodeFileNotFound},
		{"not encoded", []string{"decode", src}, errors.ErrCodeInvalidFormat},
		{"dot format", []string{"decode", irg, "--dot", filepath.Join(dir, "x.pdf")}, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if !errors.Is(err, tt.code) {
				t.Errorf("decode error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	dir, src := writeGraph(t)
	if _, err := execute(t, "encode", src); err != nil {
		t.Fatalf("encode error = %v", err)
	}
	irg := filepath.Join(dir, "loop.irg")

	out, err := execute(t, "inspect", irg)
	if err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	for _, want := range []string{"loop", "max fixed id", "LoopBegin"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "inspect", irg, "--json")
	if err != nil {
		t.Fatalf("inspect --json error = %v", err)
	}
	var s inspectSummary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("inspect --json output is not JSON: %v\n%s", err, out)
	}
	if s.Name != "loop" || s.OrderIDWidth != 1 || s.Parameters != 0 || s.Nodes == 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRender(t *testing.T) {
	dir, src := writeGraph(t)

	out, err := execute(t, "render", src, "-o", "-", "--control-only")
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	if !strings.HasPrefix(out, `digraph "loop" {`) {
		t.Errorf("render to stdout = %.40q, want DOT", out)
	}

	dot := filepath.Join(dir, "loop.dot")
	if _, err := execute(t, "render", src, "-o", dot); err != nil {
		t.Fatalf("render error = %v", err)
	}
	if data, err := os.ReadFile(dot); err != nil || !strings.Contains(string(data), "style=dashed") {
		t.Errorf("%s = %.60q, %v, want data edges", dot, data, err)
	}

	if _, err := execute(t, "render", src, "-o", filepath.Join(dir, "loop.gif")); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("render to .gif error = %v, want %s", err, errors.ErrCodeInvalidInput)
	}
}

func TestResolveRenderTarget(t *testing.T) {
	tests := []struct {
		opts       renderOpts
		wantOut    string
		wantFormat string
	}{
		{renderOpts{}, "g.svg", "svg"},
		{renderOpts{format: "png"}, "g.png", "png"},
		{renderOpts{output: "x.dot"}, "x.dot", "dot"},
		{renderOpts{output: "-"}, "-", "dot"},
		{renderOpts{output: "x.out", format: "svg"}, "x.out", "svg"},
	}
	for _, tt := range tests {
		out, format, err := resolveRenderTarget("g.json", tt.opts)
		if err != nil || out != tt.wantOut || format != tt.wantFormat {
			t.Errorf("resolveRenderTarget(%+v) = %q, %q, %v, want %q, %q", tt.opts, out, format, err, tt.wantOut, tt.wantFormat)
		}
	}
}

func TestWithSuffix(t *testing.T) {
	tests := []struct{ in, want string }{
		{"out.json", "out-unroll.json"},
		{"dir.v1/out", "dir.v1/out-unroll"},
		{"-", "-"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := withSuffix(tt.in, "unroll"); got != tt.want {
			t.Errorf("withSuffix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCacheCommands(t *testing.T) {
	_, src := writeGraph(t)
	cacheHome := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheHome)

	out, err := execute(t, "cache", "path")
	if err != nil {
		t.Fatalf("cache path error = %v", err)
	}
	if want := filepath.Join(cacheHome, appName); strings.TrimSpace(out) != want {
		t.Errorf("cache path = %q, want %q", strings.TrimSpace(out), want)
	}

	if _, err := execute(t, "encode", src); err != nil {
		t.Fatalf("encode error = %v", err)
	}
	out, err = execute(t, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear error = %v", err)
	}
	if !strings.Contains(out, "Cleared 1 cached entries") {
		t.Errorf("cache clear output = %q", out)
	}
	out, _ = execute(t, "encode", src)
	if !strings.Contains(out, "fresh") {
		t.Errorf("encode after clear = %q, want a fresh encoding", out)
	}
}

func TestCacheClearNone(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cfg := writeConfig(t, "[cache]\nbackend = \"none\"\n")
	out, err := execute(t, "--config", cfg, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear error = %v", err)
	}
	if !strings.Contains(out, "Cleared 0 cached entries") {
		t.Errorf("cache clear output = %q", out)
	}
}
