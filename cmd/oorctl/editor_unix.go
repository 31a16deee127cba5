//go:build !windows

package main

import (
	"fmt"
	"os"
	"os/exec"
)

// openEditor edits the config in place; oord reloads it on save
func openEditor(configPath string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		// vi ships with minimal images, vim often does not
		if _, err := exec.LookPath("vi"); err == nil {
			editor = "vi"
		} else {
			editor = "vim"
		}
	}

	var cmd *exec.Cmd
	if os.Geteuid() != 0 {
		fmt.Printf("Opening %s with sudo %s...\n", configPath, editor)
		cmd = exec.Command("sudo", editor, configPath)
	} else {
		fmt.Printf("Opening %s with %s...\n", configPath, editor)
		cmd = exec.Command(editor, configPath)
	}

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}
	return nil
}
