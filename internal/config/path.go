package config

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the first existing config file in the standard
// locations, or empty when none is present and built-in defaults apply.
func DefaultPath() string {
	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "sqs-orchestrator", "config.json"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "sqs-orchestrator", "config.json"))
	}
	candidates = append(candidates, "/etc/sqs-orchestrator/config.json")

	for _, p := range candidates {
		if isFile(p) {
			return p
		}
	}
	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
