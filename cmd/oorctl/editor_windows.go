//go:build windows

package main

import (
	"fmt"
	"os/exec"
)

// openEditor edits the config in place; oord reloads it on save
func openEditor(configPath string) error {
	fmt.Printf("Opening %s with notepad...\n", configPath)

	if err := exec.Command("notepad", configPath).Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}
	return nil
}
