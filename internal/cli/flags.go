package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/disco0/usbundle/internal/config"
)

// registerDevFlags adds the dev server and change detection flags. Their
// names match config keys so config.Load picks them up.
func registerDevFlags(cmd *cobra.Command, opts *devOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.port, "port", "p", strconv.Itoa(config.DefaultPort), "dev server port")
	f.String("hostname", config.DefaultHostname, "dev server hostname")
	f.Duration("debounce", config.DefaultDebounce, "minimum interval between rebuilds")
	f.StringSlice("watch-ext", config.DefaultWatchExtensions, "file extensions that trigger a rebuild")
	f.StringSlice("watch-file", config.DefaultWatchFiles, "file names that trigger a rebuild")
	f.String("require", config.RequireHTTP, "URL injected as @require: http (served bundle) or file (bundle on disk)")
}

// parsePort validates a --port value. Non-numeric and out-of-range values
// exit with code 3.
func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port < 0 || port > 65535 {
		return 0, &ExitError{Code: 3, Err: fmt.Errorf("invalid port value: %q", raw)}
	}

	return port, nil
}
