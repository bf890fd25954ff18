package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/disco0/usbundle/internal/bundle"
	"github.com/disco0/usbundle/internal/capability"
	"github.com/disco0/usbundle/internal/config"
	"github.com/disco0/usbundle/internal/dev"
	"github.com/disco0/usbundle/internal/logging"
	"github.com/disco0/usbundle/internal/server"
	"github.com/disco0/usbundle/internal/watch"
)

type devOptions struct {
	port string
}

func newDevCommand() *cobra.Command {
	opts := &devOptions{}

	cmd := &cobra.Command{
		Use:   "dev <entrypoint> [output-dir]",
		Short: "Rebuild on change and serve the live bundle",
		Long: `Dev bundles the entrypoint, then watches its directory and rebuilds
whenever a watched file changes. The current bundle and its metadata block
are served at http://<hostname>:<port>/bundle.user.js and /meta.user.js.

Install the metadata URL in a userscript manager: its @require directive
points at the live bundle, so reloading the page picks up every rebuild.

A rebuild that fails is reported and the previous bundle stays served.
Changes are rate limited by --debounce.`,
		Example: `  usbundle dev src/app.user.ts
  usbundle dev src/app.user.ts dist --port 8080
  usbundle dev src/app.user.ts --require file`,
		Args:              cobra.MaximumNArgs(2),
		ValidArgsFunction: completeEntrypoint,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd, args, opts)
		},
	}

	registerDevFlags(cmd, opts)

	return cmd
}

func runDev(cmd *cobra.Command, args []string, opts *devOptions) error {
	if len(args) == 0 {
		return &ExitError{Code: 1, Err: errors.New("no entrypoint argument provided")}
	}

	port, err := parsePort(opts.port)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	stderr := cmd.ErrOrStderr()

	devOpts := dev.Options{
		Entrypoint: args[0],
		Endpoints:  server.Endpoints{Hostname: cfg.Hostname, Port: port},
		Require:    cfg.Require,
		Filter:     watch.NewFilter(cfg.WatchExtensions, cfg.WatchFiles),
		Debounce:   cfg.Debounce,
		Baseline:   watch.BaselineStart,
		Logger:     logging.FromContext(ctx),
		Status:     logging.NewStatus(stderr).WithColor(logging.ColorEnabled(stderr, cfg.NoColor)),
	}

	if len(args) > 1 {
		devOpts.OutputDir = args[1]
	}

	if err := dev.Run(ctx, devOpts); err != nil {
		if errors.Is(err, bundle.ErrEntrypointNotFound) || errors.Is(err, capability.ErrPermissionDenied) {
			return &ExitError{Code: 1, Err: fmt.Errorf("couldn't bundle script: %w", err)}
		}

		return err
	}

	return nil
}
