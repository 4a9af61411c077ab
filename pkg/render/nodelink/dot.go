package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/irgraph/pkg/ir"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Detailed adds node ids and all fields to labels and slot names to edges.
	Detailed bool

	// ControlOnly omits floating nodes and data edges.
	ControlOnly bool
}

// ToDOT converts an IR graph to Graphviz DOT format.
// The result can be rendered with [RenderSVG] or [RenderPNG].
func ToDOT(g *ir.Graph, opts Options) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph %q {\n", g.Name)
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [fontname=\"Helvetica\", fontsize=12, margin=\"0.15,0.05\"];\n")
	buf.WriteString("  edge [fontname=\"Helvetica\", fontsize=9];\n")
	buf.WriteString("  ranksep=0.4;\n")
	buf.WriteString("  nodesep=0.25;\n")
	buf.WriteString("\n")

	for _, n := range g.Nodes() {
		if opts.ControlOnly && !n.IsFixed() {
			continue
		}
		fmt.Fprintf(&buf, "  n%d [%s];\n", n.ID(), strings.Join(fmtAttrs(n, opts.Detailed), ", "))
	}

	buf.WriteString("\n")
	for _, n := range g.Nodes() {
		c := n.Class()
		for i, name := range c.Successors.Direct {
			if s := n.Successor(i); s != nil {
				writeEdge(&buf, n, s, name, "bold", opts.Detailed)
			}
		}
		for i, name := range c.Successors.Lists {
			list, _ := n.SuccessorList(i)
			for j, s := range list {
				if s != nil {
					writeEdge(&buf, n, s, fmt.Sprintf("%s[%d]", name, j), "bold", opts.Detailed)
				}
			}
		}
		if opts.ControlOnly {
			continue
		}
		for i, name := range c.Inputs.Direct {
			if v := n.Input(i); v != nil {
				writeEdge(&buf, v, n, name, "dashed", opts.Detailed)
			}
		}
		for i, name := range c.Inputs.Lists {
			list, _ := n.InputList(i)
			for j, v := range list {
				if v != nil {
					writeEdge(&buf, v, n, fmt.Sprintf("%s[%d]", name, j), "dashed", opts.Detailed)
				}
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func writeEdge(buf *bytes.Buffer, from, to *ir.Node, slot, style string, detailed bool) {
	attrs := []string{"style=" + style}
	if style == "bold" {
		attrs = append(attrs, "color=\"#b03a2e\"")
	} else {
		attrs = append(attrs, "color=\"#1f618d\"", "arrowsize=0.6")
	}
	if detailed {
		attrs = append(attrs, fmt.Sprintf("label=%q", slot))
	}
	fmt.Fprintf(buf, "  n%d -> n%d [%s];\n", from.ID(), to.ID(), strings.Join(attrs, ", "))
}

func fmtAttrs(n *ir.Node, detailed bool) []string {
	attrs := []string{fmt.Sprintf("label=%q", fmtLabel(n, detailed))}
	if n.IsFixed() {
		attrs = append(attrs, "shape=box", "style=\"rounded,filled\"", "fillcolor=\"#fdebd0\"")
	} else {
		attrs = append(attrs, "shape=ellipse", "style=filled", "fillcolor=\"#d6eaf8\"")
	}
	if n.Kind() == ir.KindFrameState {
		attrs = append(attrs, "fontcolor=grey40")
	}
	return attrs
}

func fmtLabel(n *ir.Node, detailed bool) string {
	label := n.Class().Name
	if s := summary(n); s != "" {
		label += " " + s
	}
	if !detailed {
		return label
	}
	parts := []string{fmt.Sprintf("#%d %s", n.ID(), label)}
	for i, f := range n.Class().Fields {
		if f.Object {
			parts = append(parts, fmt.Sprintf("%s: %v", f.Name, n.Object(i)))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %d", f.Name, n.Prim(i)))
		}
	}
	return strings.Join(parts, "\n")
}

// summary is the one-line payload shown next to the class name.
func summary(n *ir.Node) string {
	switch n.Kind() {
	case ir.KindConstant:
		switch n.ConstKind() {
		case ir.ConstDouble:
			return strconv.FormatFloat(math.Float64frombits(uint64(n.ConstBits())), 'g', -1, 64)
		default:
			return strconv.FormatInt(n.ConstBits(), 10)
		}
	case ir.KindParameter:
		return fmt.Sprintf("p%d", n.ParameterIndex())
	case ir.KindArith, ir.KindCompare:
		return n.Op()
	case ir.KindEffect:
		return n.EffectName()
	case ir.KindIf:
		return fmt.Sprintf("p=%.2f", n.Probability())
	case ir.KindFrameState, ir.KindInvoke:
		return fmt.Sprintf("@%d", n.BCI())
	case ir.KindCallTarget:
		return n.Target()
	case ir.KindLoopEnd:
		return fmt.Sprintf("[%d]", n.EndIndex())
	}
	return ""
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	out, err := render(ctx, dot, graphviz.SVG)
	if err != nil {
		return nil, err
	}
	return normalizeViewBox(out), nil
}

// RenderPNG renders a DOT graph to PNG using Graphviz.
func RenderPNG(ctx context.Context, dot string) ([]byte, error) {
	return render(ctx, dot, graphviz.PNG)
}

func render(ctx context.Context, dot string, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox replaces Graphviz's pt-sized svg tag with one sized to
// its viewBox so the output scales in browsers.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}
