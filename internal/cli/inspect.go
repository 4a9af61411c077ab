package cli

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/irgraph/pkg/cache"
	"github.com/matzehuels/irgraph/pkg/codec"
)

// inspectSummary is the header of an encoded graph as printed by inspect.
type inspectSummary struct {
	Name            string   `json:"name"`
	Hash            string   `json:"hash"`
	Bytes           int      `json:"bytes"`
	FooterOffset    int      `json:"footer_offset"`
	Nodes           int      `json:"nodes"`
	MaxFixedOrderID int      `json:"max_fixed_order_id"`
	Parameters      int      `json:"parameters"`
	OrderIDWidth    int      `json:"order_id_width"`
	Objects         int      `json:"objects"`
	Classes         []string `json:"classes"`
	StageFlags      []string `json:"stage_flags,omitempty"`
	Assumptions     []string `json:"assumptions,omitempty"`
	InlinedMethods  []string `json:"inlined_methods,omitempty"`
}

func summarize(eg *codec.EncodedGraph) inspectSummary {
	classes := make([]string, len(eg.Classes()))
	for i, c := range eg.Classes() {
		classes[i] = c.Name
	}
	meta := eg.Meta()
	return inspectSummary{
		Name:            eg.Name(),
		Hash:            cache.Hash(eg.Bytes()),
		Bytes:           len(eg.Bytes()),
		FooterOffset:    eg.FooterOffset(),
		Nodes:           eg.NodeCount(),
		MaxFixedOrderID: eg.MaxFixedOrderID(),
		Parameters:      eg.ParameterCount(),
		OrderIDWidth:    eg.OrderIDWidth(),
		Objects:         len(eg.Objects()),
		Classes:         classes,
		StageFlags:      meta.StageFlags,
		Assumptions:     meta.Assumptions,
		InlinedMethods:  meta.InlinedMethods,
	}
}

// inspectCommand creates the inspect command.
func (c *CLI) inspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <file.irg>",
		Short: "Show the header of an encoded graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eg, err := loadEncoded(args[0])
			if err != nil {
				return err
			}
			s := summarize(eg)
			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSummary(s)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(s inspectSummary) {
	rows := []kv{
		{"hash", s.Hash[:12]},
		{"bytes", strconv.Itoa(s.Bytes)},
		{"footer", strconv.Itoa(s.FooterOffset)},
		{"nodes", strconv.Itoa(s.Nodes)},
		{"max fixed id", strconv.Itoa(s.MaxFixedOrderID)},
		{"parameters", strconv.Itoa(s.Parameters)},
		{"id width", strconv.Itoa(s.OrderIDWidth) + " bytes"},
		{"objects", strconv.Itoa(s.Objects)},
		{"classes", strconv.Itoa(len(s.Classes))},
	}
	printTable(s.Name, rows)
	printDetail("classes: %s", strings.Join(s.Classes, ", "))
	if len(s.StageFlags) > 0 {
		printDetail("stage flags: %s", strings.Join(s.StageFlags, ", "))
	}
	if len(s.Assumptions) > 0 {
		printDetail("assumptions: %s", strings.Join(s.Assumptions, ", "))
	}
	if len(s.InlinedMethods) > 0 {
		printDetail("inlined: %s", strings.Join(s.InlinedMethods, ", "))
	}
}
