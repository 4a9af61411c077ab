package io

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/irgraph/pkg/errors"
	"github.com/matzehuels/irgraph/pkg/ir"
)

func loopGraph() *ir.Graph {
	g := ir.NewGraph("loop")
	g.Meta = ir.Meta{StageFlags: []string{"parsed"}}
	n := g.Parameter(0)
	zero, one := g.IntConstant(0), g.IntConstant(1)

	entry := g.End()
	g.Start().SetNext(entry)
	lb := g.LoopBegin(nil, entry)
	i := g.Phi(lb, zero)
	lb.SetStateAfter(g.FrameState(1, nil, i, nil))

	body := g.Begin()
	exit := g.LoopExit(lb, g.FrameState(9, nil, i))
	lb.SetNext(g.If(g.Compare("<", i, n), body, exit, 0.9))
	ir.Chain(body, g.Effect("tick", i, nil), g.LoopEnd(lb))
	i.AddPhiValue(g.Arith("+", i, one))
	exit.SetNext(g.Return(g.Proxy(i, exit)))
	return g
}

func switchGraph() *ir.Graph {
	g := ir.NewGraph("switch")
	p := g.Parameter(0)
	a, b := g.Begin(), g.Begin()
	g.Start().SetNext(g.Switch(p, []int64{7}, a, b))
	a.SetNext(g.Return(p))
	b.SetNext(g.Deoptimize("unreached"))
	return g
}

func TestRoundTrip(t *testing.T) {
	for _, g := range []*ir.Graph{loopGraph(), switchGraph()} {
		t.Run(g.Name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteJSON(g, &buf); err != nil {
				t.Fatalf("WriteJSON() error = %v", err)
			}
			back, err := ReadJSON(&buf, nil)
			if err != nil {
				t.Fatalf("ReadJSON() error = %v", err)
			}
			if diff := cmp.Diff(ToDocument(g), ToDocument(back)); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToDocumentSkipsDeletedNodes(t *testing.T) {
	g := loopGraph()
	orphan := g.IntConstant(42)
	orphan.SafeDelete()

	doc := ToDocument(g)
	if len(doc.Nodes) != g.NodeCount() {
		t.Fatalf("len(Nodes) = %d, want %d", len(doc.Nodes), g.NodeCount())
	}
	for i, n := range doc.Nodes {
		if n.ID != i {
			t.Errorf("Nodes[%d].ID = %d, want dense ids", i, n.ID)
		}
	}
}

func TestToDocumentEdges(t *testing.T) {
	doc := ToDocument(switchGraph())
	want := Node{
		ID:             4,
		Class:          "Switch",
		Inputs:         map[string]int{"value": 1},
		SuccessorLists: map[string][]*int{"successors": {ptr(2), ptr(3)}},
		Fields:         map[string]any{"keys": []int64{7}},
	}
	if diff := cmp.Diff(want, doc.Nodes[4]); diff != "" {
		t.Errorf("switch node mismatch (-want +got):\n%s", diff)
	}
}

func ptr(i int) *int { return &i }

func TestReadJSONRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"nodes": [`},
		{"no start", `{"nodes": [{"id": 0, "class": "Parameter"}]}`},
		{"two starts", `{"nodes": [{"id": 0, "class": "Start"}, {"id": 1, "class": "Start"}]}`},
		{"duplicate id", `{"nodes": [{"id": 0, "class": "Start"}, {"id": 0, "class": "End"}]}`},
		{"unknown class", `{"nodes": [{"id": 0, "class": "Start"}, {"id": 1, "class": "Teleport"}]}`},
		{"unknown edge", `{"nodes": [{"id": 0, "class": "Start", "successors": {"next": 9}}]}`},
		{"unknown slot", `{"nodes": [{"id": 0, "class": "Start", "successors": {"after": 0}}]}`},
		{"unknown field", `{"nodes": [{"id": 0, "class": "Start"}, {"id": 1, "class": "Parameter", "fields": {"slot": 1}}]}`},
		{"bad field", `{"nodes": [{"id": 0, "class": "Start"}, {"id": 1, "class": "Parameter", "fields": {"index": "one"}}]}`},
		{"shared successor", `{"nodes": [
			{"id": 0, "class": "Start", "successors": {"next": 2}},
			{"id": 1, "class": "Begin", "successors": {"next": 2}},
			{"id": 2, "class": "Deoptimize"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSON(strings.NewReader(tt.json), nil)
			if !errors.Is(err, errors.ErrCodeInvalidFormat) {
				t.Errorf("ReadJSON() error = %v, want %s", err, errors.ErrCodeInvalidFormat)
			}
		})
	}
}

func TestReadJSONPreservesAbsentLists(t *testing.T) {
	src := `{"name": "m", "nodes": [
		{"id": 0, "class": "Start", "successors": {"next": 1}},
		{"id": 1, "class": "End"},
		{"id": 2, "class": "FrameState", "fields": {"bci": 3}}]}`
	g, err := ReadJSON(strings.NewReader(src), nil)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	fs := g.Nodes()[2]
	if _, ok := fs.InputList(ir.FrameStateClass.InputListIndex("values")); ok {
		t.Error("values list present, want absent")
	}
	if fs.BCI() != 3 {
		t.Errorf("BCI() = %d, want 3", fs.BCI())
	}
}

func TestImportExportFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.json")
	g := loopGraph()
	if err := ExportJSON(g, path); err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	back, err := ImportJSON(path, nil)
	if err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}
	if back.Name != "loop" || back.Meta.StageFlags[0] != "parsed" {
		t.Errorf("ImportJSON() = %s %+v, want loop with metadata", back.Name, back.Meta)
	}

	_, err = ImportJSON(filepath.Join(dir, "missing.json"), nil)
	if !errors.Is(err, errors.ErrCodeFileNotFound) {
		t.Errorf("ImportJSON(missing) error = %v, want %s", err, errors.ErrCodeFileNotFound)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("exported file missing: %v", statErr)
	}
}
