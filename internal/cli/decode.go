package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/irgraph/pkg/codec"
	"github.com/matzehuels/irgraph/pkg/errors"
	irio "github.com/matzehuels/irgraph/pkg/io"
	"github.com/matzehuels/irgraph/pkg/ir"
	"github.com/matzehuels/irgraph/pkg/pipeline"
	"github.com/matzehuels/irgraph/pkg/render/nodelink"
)

type decodeOpts struct {
	policy        string
	fold          bool
	noDetect      bool
	fallBack      bool
	maxIterations int
	output        string
	dot           string
	noCache       bool
	refresh       bool
}

// decodeCommand creates the decode command.
func (c *CLI) decodeCommand() *cobra.Command {
	var opts decodeOpts

	cmd := &cobra.Command{
		Use:   "decode <file.irg>",
		Short: "Decode an encoded graph back into JSON",
		Long: `Decode an encoded graph back into JSON.

Policies: ` + strings.Join(codec.Policies(), ", ") + `

Several comma-separated policies are decoded concurrently; each result is
written next to the output with the policy name appended.

Examples:
  irgraph decode loop.irg                            # writes loop.json
  irgraph decode loop.irg --policy unroll --fold     # unroll and fold constants
  irgraph decode loop.irg --policy none,unroll       # loop-none.json, loop-unroll.json
  irgraph decode loop.irg --dot loop.svg             # also render the result`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDecode(cmd, args[0], c.decodeOptions(cmd, opts), opts)
		},
	}

	cmd.Flags().StringVar(&opts.policy, "policy", pipeline.DefaultPolicy, "loop explosion policy (comma-separated for several)")
	cmd.Flags().BoolVar(&opts.fold, "fold", false, "fold constants and branches while decoding")
	cmd.Flags().BoolVar(&opts.noDetect, "no-detect", false, "keep merge-explode loop placeholders")
	cmd.Flags().BoolVar(&opts.fallBack, "fall-back", false, "decode without explosion if the policy bails out")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "loop explosion iteration limit (default 1000)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output JSON file (default: input with .json extension, - for stdout)")
	cmd.Flags().StringVar(&opts.dot, "dot", "", "also render the decoded graph (format from extension: .dot, .svg, .png)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "decode even if a cached result exists")

	return cmd
}

// decodeOptions merges the [decode] config section with the flags the user
// set explicitly.
func (c *CLI) decodeOptions(cmd *cobra.Command, opts decodeOpts) pipeline.Options {
	po := c.Config.Decode.options()
	flags := cmd.Flags()
	if flags.Changed("policy") {
		po.Policy = opts.policy
	}
	if flags.Changed("fold") {
		po.Fold = opts.fold
	}
	if flags.Changed("no-detect") {
		po.NoDetect = opts.noDetect
	}
	if flags.Changed("max-iterations") {
		po.MaxIterations = opts.maxIterations
	}
	po.FallBack = opts.fallBack
	po.Refresh = opts.refresh
	return po
}

func (c *CLI) runDecode(cmd *cobra.Command, input string, base pipeline.Options, opts decodeOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	var formatDot string
	if opts.dot != "" {
		f, err := pipeline.FormatFromPath(opts.dot)
		if err != nil {
			return err
		}
		formatDot = f
	}

	eg, err := loadEncoded(input)
	if err != nil {
		return err
	}
	logger.Debug("Loaded encoded graph", "graph", eg.Name(), "nodes", eg.NodeCount(), "bytes", len(eg.Bytes()))

	policies := splitPolicies(base.Policy)
	all := make([]pipeline.Options, len(policies))
	for i, p := range policies {
		all[i] = base
		all[i].Policy = p
		if err := all[i].ValidateAndSetDefaults(); err != nil {
			return err
		}
	}

	runner, err := c.newRunner(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer runner.Close()

	spin := newSpinner(ctx, "Decoding "+eg.Name())
	spin.Start()
	results, err := runner.DecodeAll(ctx, eg, all)
	spin.Stop()
	if err != nil {
		return err
	}

	output := opts.output
	if output == "" {
		output = swapExt(input, ".json")
	}
	for i, res := range results {
		out, dot := output, opts.dot
		if len(results) > 1 {
			out = withSuffix(out, all[i].Policy)
			dot = withSuffix(dot, all[i].Policy)
		}
		if res.FellBack {
			printWarning("%s bailed out; decoded without loop explosion", all[i].Policy)
		}
		if err := c.writeDecoded(ctx, runner, res.Graph, out, dot, formatDot); err != nil {
			return err
		}
		printSuccess("Decoded %s", res.Graph.Name)
		printStats(res.Graph.NodeCount(), res.Policy, res.CacheHit)
		if out != "-" {
			printFile(out)
		}
		if dot != "" {
			printFile(dot)
		}
	}
	return nil
}

func (c *CLI) writeDecoded(ctx context.Context, runner *pipeline.Runner, g *ir.Graph, out, dot, format string) error {
	if out == "-" {
		if err := irio.WriteJSON(g, stdout); err != nil {
			return err
		}
	} else if err := irio.ExportJSON(g, out); err != nil {
		return err
	}
	if dot == "" {
		return nil
	}
	data, _, err := runner.Render(ctx, g, format, nodelink.Options{})
	if err != nil {
		return err
	}
	return writeOutput(dot, data)
}

// loadEncoded reads a persisted encoded graph.
func loadEncoded(path string) (*codec.EncodedGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "read %s", path)
	}
	return codec.Unmarshal(data, ir.DefaultRegistry())
}

func splitPolicies(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{pipeline.DefaultPolicy}
	}
	return out
}

// withSuffix inserts "-suffix" before the extension of path.
func withSuffix(path, suffix string) string {
	if path == "" || path == "-" {
		return path
	}
	i := strings.LastIndexByte(path, '.')
	if i <= strings.LastIndexByte(path, '/') {
		return path + "-" + suffix
	}
	return path[:i] + "-" + suffix + path[i:]
}
