package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetCoordHome returns the coordination directory root (`<coord>/` in
// CORE SPEC §6). Priority order:
//  1. TASKFORGE_HOME environment variable, if set
//  2. The nearest ancestor directory containing a go.mod for this module
//  3. The current working directory, as a fallback
//
// The directory is created if it doesn't exist.
func GetCoordHome() (string, error) {
	if home := os.Getenv("TASKFORGE_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create coord home directory: %w", err)
		}
		return home, nil
	}

	repoRoot, err := findRepoRoot()
	if err == nil && repoRoot != "" {
		coordHome := filepath.Join(repoRoot, ".taskforge")
		if err := os.MkdirAll(coordHome, 0755); err != nil {
			return "", fmt.Errorf("create coord home directory: %w", err)
		}
		return coordHome, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	coordHome := filepath.Join(cwd, ".taskforge")
	if err := os.MkdirAll(coordHome, 0755); err != nil {
		return "", fmt.Errorf("create coord home directory: %w", err)
	}
	return coordHome, nil
}

// findRepoRoot finds the repository root by walking up from the current
// working directory looking for a go.mod declaring this module, or a
// .taskforge-root marker file.
func findRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		markerPath := filepath.Join(current, ".taskforge-root")
		if _, err := os.Stat(markerPath); err == nil {
			return current, nil
		}

		goModPath := filepath.Join(current, "go.mod")
		if data, err := os.ReadFile(goModPath); err == nil {
			if strings.Contains(string(data), "github.com/taskforge/taskforge") {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("repository root not found (looking for .taskforge-root or go.mod with github.com/taskforge/taskforge)")
}

// GetLedgerPath returns the absolute path to the analytics ledger database
// (`$coord/ledger/taskforge.db`).
func GetLedgerPath() (string, error) {
	home, err := GetCoordHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "ledger", "taskforge.db"), nil
}

// GetLedgerDir returns the ledger directory path, creating it if needed.
func GetLedgerDir() (string, error) {
	home, err := GetCoordHome()
	if err != nil {
		return "", err
	}
	ledgerDir := filepath.Join(home, "ledger")
	if err := os.MkdirAll(ledgerDir, 0755); err != nil {
		return "", fmt.Errorf("create ledger directory: %w", err)
	}
	return ledgerDir, nil
}
