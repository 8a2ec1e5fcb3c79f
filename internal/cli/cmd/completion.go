package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `To load completions:

Bash:
	source <(dvtrack completion bash)

Zsh:
	dvtrack completion zsh > "${fpath[1]}/_dvtrack"

Fish:
	dvtrack completion fish | source

PowerShell:
	dvtrack completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.ExactValidArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("unsupported shell %q", args[0])}
			}
		},
	}
	// Completion must work without a config file or log directory.
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	return cmd
}