package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultConfigPath returns the default config file path for the given
// file name (e.g. "server.yaml", "producer.yaml").
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	return ResolveConfigPath(runtime.GOOS, home, os.Getenv("ProgramData"), name)
}

// ResolveConfigPath constructs a config file path for the given OS and base
// directories.
func ResolveConfigPath(goos, home, programData, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "feedrelay", name)
	case "windows":
		if programData == "" {
			programData = "C:/ProgramData"
		}
		programData = strings.TrimRight(programData, "\\/")
		return filepath.Join(programData, "feedrelay", name)
	default:
		return filepath.Join("/etc", "feedrelay", name)
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
