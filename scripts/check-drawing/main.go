// check-drawing runs the compliance check on local DXF/DWG files without
// starting the API server.
//
// Usage: go run ./scripts/check-drawing [flags] <file>...
//
// Exit status is 1 when a file cannot be analyzed, or when --strict is set
// and a drawing is not compliant.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check-drawing <file>...",
		Short: "Check CAD drawings against GB/T 14665-2012",
		Long: `Parses each drawing, evaluates the drafting rules and prints a scored
compliance report. DWG files need --converter pointing at dwg2dxf or the
ODA File Converter.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.standard, "standard", "s", "", "standard to check against (default GB/T 14665-2012)")
	f.StringVar(&opts.rulesPath, "rules", "", "YAML rule-set file overriding the built-in rules")
	f.StringVarP(&opts.format, "format", "f", "text", "output format: text, json or html")
	f.StringVarP(&opts.output, "output", "o", "", "write json/html reports into this directory instead of stdout")
	f.StringVar(&opts.converterPath, "converter", "", "DWG converter executable")
	f.StringVar(&opts.converterKind, "converter-kind", "dwg2dxf", "DWG converter kind: dwg2dxf or oda")
	f.IntVar(&opts.timeoutSeconds, "timeout", 60, "per-file analysis timeout in seconds")
	f.Int64Var(&opts.maxBytes, "max-bytes", 50<<20, "largest file accepted")
	f.BoolVar(&opts.strict, "strict", false, "exit non-zero when any drawing is not compliant")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline activity to stderr")
	return cmd
}
