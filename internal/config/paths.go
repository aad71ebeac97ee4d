package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// PlanDirName is the well-known plan directory name searched for in the
// working directory and its parents.
const PlanDirName = ".trellis"

// FindPlanDir locates the plan directory. An explicit plan-dir setting wins;
// otherwise the working directory and its parents are searched for
// PlanDirName.
func FindPlanDir() (string, error) {
	if dir := GetString("plan-dir"); dir != "" {
		return dir, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		planDir := filepath.Join(dir, PlanDirName)
		if info, err := os.Stat(planDir); err == nil && info.IsDir() {
			return planDir, nil
		}
	}

	return "", fmt.Errorf("no %s directory found in current directory or parents (run 'tl init' first)", PlanDirName)
}

// FindConfigYAMLPath walks up from the working directory looking for
// .trellis/config.yaml. This runs before viper is initialized, so it reads
// nothing from config itself.
func FindConfigYAMLPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, PlanDirName, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", fmt.Errorf("no %s/config.yaml found in current directory or parents", PlanDirName)
}
