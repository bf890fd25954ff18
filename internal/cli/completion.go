package cli

import (
	"io"
	"slices"

	"github.com/spf13/cobra"
)

var completionShells = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash":       func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) },
	"zsh":        func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
	"fish":       func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
	"powershell": func(root *cobra.Command, w io.Writer) error { return root.GenPowerShellCompletionWithDesc(w) },
}

func newCompletionCommand() *cobra.Command {
	shells := make([]string, 0, len(completionShells))
	for name := range completionShells {
		shells = append(shells, name)
	}

	slices.Sort(shells)

	return &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for usbundle.

Bash:
  $ source <(usbundle completion bash)

Zsh:
  $ usbundle completion zsh > "${fpath[1]}/_usbundle"

Fish:
  $ usbundle completion fish > ~/.config/fish/completions/usbundle.fish

PowerShell:
  PS> usbundle completion powershell | Out-String | Invoke-Expression
`,
		// Needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         shells,
		RunE: func(cmd *cobra.Command, args []string) error {
			return completionShells[args[0]](cmd.Root(), cmd.OutOrStdout())
		},
	}
}

// completeEntrypoint offers script files for the first positional argument
// and directories for the second.
func completeEntrypoint(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return []string{"ts", "js"}, cobra.ShellCompDirectiveFilterFileExt
	}

	if len(args) == 1 {
		return nil, cobra.ShellCompDirectiveFilterDirs
	}

	return nil, cobra.ShellCompDirectiveNoFileComp
}
