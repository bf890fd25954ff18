package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/disco0/usbundle/internal/bundle"
	"github.com/disco0/usbundle/internal/bundler"
	"github.com/disco0/usbundle/internal/logging"
	"github.com/disco0/usbundle/internal/output"
)

type buildOptions struct {
	stdout     bool
	moduleType string
}

func newBuildCommand() *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build <entrypoint> [output-dir]",
		Short: "Bundle a userscript once",
		Long: `Build bundles the entrypoint with its metadata block and writes
<name>.bundle.user.js next to it, or into output-dir when given.`,
		Example: `  usbundle build src/app.user.ts
  usbundle build src/app.user.ts dist
  usbundle build src/app.user.ts --stdout > app.user.js`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completeEntrypoint,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.stdout, "stdout", false, "write the bundle to stdout instead of a file")
	f.StringVar(&opts.moduleType, "module", string(bundler.ModuleClassic), "output module type: classic, module")

	return cmd
}

func runBuild(cmd *cobra.Command, args []string, opts *buildOptions) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	switch bundler.ModuleType(opts.moduleType) {
	case bundler.ModuleClassic, bundler.ModuleESM:
	default:
		return &ExitError{Code: 2, Err: fmt.Errorf("invalid module type %q: must be one of classic, module", opts.moduleType)}
	}

	p := &bundle.Pipeline{
		Bundler:    bundler.NewESBuild(bundler.WithLogger(logger)),
		ModuleType: bundler.ModuleType(opts.moduleType),
		SkipWrite:  opts.stdout,
		Logger:     logger,
	}

	if len(args) > 1 {
		p.OutputDir = args[1]
	}

	a, err := p.Rebuild(ctx, args[0])
	if err != nil {
		return err
	}

	if opts.stdout {
		return output.NewStdoutWriter(cmd.OutOrStdout()).Write([]byte(a.Bundle))
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), a.OutputPath)

	return err
}
