// Command cfactl is a thin inspection CLI over the dataset package: it
// opens a master file read-only and prints its group/dimension/
// variable tree or a byte summary of a named variable's full extent,
// and lists URIs matching a glob pattern, built with
// github.com/spf13/cobra in the house style of cli/cmd.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cfaio/cfa/dataset"
	"github.com/cfaio/cfa/partition"
	cerrors "github.com/cfaio/cfa/util/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errout("%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cfactl",
		Short: "Inspect aggregation-convention master files",
	}
	root.AddCommand(newInspectCmd(), newReadCmd(), newLsCmd())
	return root
}

func newLsCmd() *cobra.Command {
	var endpoint, region string
	var pathStyle bool
	cmd := &cobra.Command{
		Use:   "ls [PATTERN]",
		Short: "List URIs matching a '*'/'?' glob pattern (read-only enumeration)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := dataset.Enumerate(context.Background(), args[0], dataset.OpenOptions{
				S3Endpoint:  endpoint,
				S3Region:    region,
				S3PathStyle: pathStyle,
			})
			if err != nil {
				return explain(err)
			}
			for _, m := range matches {
				stdout("%s\n", m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "s3-endpoint", "", "S3-compatible endpoint override")
	cmd.Flags().StringVar(&region, "s3-region", "", "S3 region")
	cmd.Flags().BoolVar(&pathStyle, "s3-path-style", false, "use path-style S3 addressing")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "inspect [URI]",
		Short: "Print the group/dimension/variable tree of a master file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.Open(context.Background(), args[0], dataset.ModeRead, dataset.OpenOptions{})
			if err != nil {
				return explain(err)
			}
			defer ds.Close()
			printGroup(ds.Root, "", quiet)
			return nil
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "omit attribute listings")
	return cmd
}

func printGroup(g *dataset.Group, indent string, quiet bool) {
	name := g.Name
	if name == "" {
		name = "/"
	}
	stdout("%sgroup %s\n", indent, name)
	for dname, d := range g.Dimensions {
		stdout("%s  dim %s = %d\n", indent, dname, d.Length)
	}
	for vname, v := range g.Variables {
		kind := "classical"
		shape := fmt.Sprintf("%v", v.DimNames)
		if v.Partitioned != nil {
			kind = "partitioned"
			touched := 0
			for _, p := range v.Partitioned.Matrix().All() {
				if p != nil && p.File != "" {
					touched++
				}
			}
			shape = fmt.Sprintf("shape=%v tiles=%d", v.Partitioned.Shape, touched)
		}
		stdout("%s  var %s %s (%s) %s\n", indent, vname, v.ElemType.String(), kind, shape)
		if !quiet {
			for k, av := range v.Attributes {
				stdout("%s    attr %s = %v\n", indent, k, av.Value)
			}
		}
	}
	for _, child := range g.Groups {
		printGroup(child, indent+"  ", quiet)
	}
}

func newReadCmd() *cobra.Command {
	var groupPath string
	cmd := &cobra.Command{
		Use:   "read [URI] [VARIABLE]",
		Short: "Read the full extent of a variable and print a byte summary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.Open(context.Background(), args[0], dataset.ModeRead, dataset.OpenOptions{})
			if err != nil {
				return explain(err)
			}
			defer ds.Close()

			g := ds.Root
			for _, seg := range splitPath(groupPath) {
				child, ok := g.Groups[seg]
				if !ok {
					return fmt.Errorf("group %q not found", seg)
				}
				g = child
			}
			v, ok := g.Variables[args[1]]
			if !ok {
				return fmt.Errorf("variable %q not found", args[1])
			}
			if v.Partitioned == nil {
				return fmt.Errorf("variable %q is classical; cfactl only reads partitioned variables", args[1])
			}
			slice := make([]partition.Range, len(v.Partitioned.Shape))
			for i, n := range v.Partitioned.Shape {
				slice[i] = partition.Full(n)
			}
			data, shape, err := v.Partitioned.Read(slice)
			if err != nil {
				return explain(err)
			}
			stdout("shape=%v bytes=%d elem_type=%s\n", shape, len(data), v.ElemType.String())
			printHexPreview(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&groupPath, "group", "", "\"/\"-joined group path (default root)")
	return cmd
}

func printHexPreview(data []byte) {
	n := len(data)
	if n > 64 {
		n = 64
	}
	stdout("% x", data[:n])
	if len(data) > n {
		stdout(" ... (%d more bytes)", len(data)-n)
	}
	stdout("\n")
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			segs = append(segs, p[start:i])
			start = i + 1
		}
	}
	segs = append(segs, p[start:])
	return segs
}

func explain(err error) error {
	if kind := cerrors.KindOf(err); kind != cerrors.Unknown {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}

func stdout(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}

func errout(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}
