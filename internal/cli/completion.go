package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CompletionGenerator writes a completion script for one shell.
type CompletionGenerator func(w io.Writer) error

// CompletionPath returns where a completion script for shell is installed
// under home.
func CompletionPath(home, shell, program string) (string, error) {
	switch shell {
	case "bash":
		return filepath.Join(home, ".bash_completion.d", program), nil
	case "zsh":
		return filepath.Join(home, ".zsh", "completion", "_"+program), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "completions", program+".fish"), nil
	}
	return "", fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish)", shell)
}

// InstallCompletion writes the generated script for shell into the user's
// completion directory and prints how to enable it.
func InstallCompletion(p *Printer, home, shell, program string, generate CompletionGenerator) (string, error) {
	installPath, err := CompletionPath(home, shell, program)
	if err != nil {
		return "", err
	}

	var script bytes.Buffer
	if err := generate(&script); err != nil {
		return "", fmt.Errorf("generate %s completion: %w", shell, err)
	}

	if err := os.MkdirAll(filepath.Dir(installPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(installPath, script.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write completion script: %w", err)
	}

	p.Success("completion script installed to %s", installPath)
	switch shell {
	case "bash":
		p.Info("add to your shell config: source %s", installPath)
	case "zsh":
		p.Info("add to your shell config: fpath=(%s $fpath); autoload -Uz compinit && compinit", filepath.Dir(installPath))
	case "fish":
		p.Info("fish loads completions from %s automatically", filepath.Dir(installPath))
	}
	return installPath, nil
}
