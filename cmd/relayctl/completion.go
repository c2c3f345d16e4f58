package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardkeep/signal_layer/internal/cli"
)

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "completion <bash|zsh|fish>",
		Short:     "Print a shell completion script",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := completionGenerator(cmd.Root(), args[0])
			if err != nil {
				return err
			}
			return gen(cmd.OutOrStdout())
		},
	}

	var home string
	install := &cobra.Command{
		Use:       "install <bash|zsh|fish>",
		Short:     "Install the completion script into your shell's completion directory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := completionGenerator(cmd.Root(), args[0])
			if err != nil {
				return err
			}
			if home == "" {
				if home, err = os.UserHomeDir(); err != nil {
					return fmt.Errorf("failed to get home directory: %w", err)
				}
			}
			_, err = cli.InstallCompletion(printer(cmd), home, args[0], program, gen)
			return err
		},
	}
	install.Flags().StringVar(&home, "home", "", "home directory to install under (default: current user's)")
	cmd.AddCommand(install)
	return cmd
}

func completionGenerator(root *cobra.Command, shell string) (cli.CompletionGenerator, error) {
	switch shell {
	case "bash":
		return func(w io.Writer) error { return root.GenBashCompletionV2(w, true) }, nil
	case "zsh":
		return root.GenZshCompletion, nil
	case "fish":
		return func(w io.Writer) error { return root.GenFishCompletion(w, true) }, nil
	}
	return nil, fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish)", shell)
}
