package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/compozy/pagerag/engine/rag"
)

// extractCLIFlags copies explicitly set flags into flags, keyed by flag name.
func extractCLIFlags(cmd *cobra.Command, flags map[string]any) {
	addFlag := func(flagName string, getter func(string) (any, error)) {
		if cmd.Flags().Changed(flagName) {
			if value, err := getter(flagName); err == nil {
				flags[flagName] = value
			}
		}
	}
	getString := func(name string) (any, error) { return cmd.Flags().GetString(name) }
	getInt := func(name string) (any, error) { return cmd.Flags().GetInt(name) }
	getBool := func(name string) (any, error) { return cmd.Flags().GetBool(name) }
	getFloat := func(name string) (any, error) { return cmd.Flags().GetFloat64(name) }

	flagDefs := []struct {
		flagName string
		getter   func(string) (any, error)
	}{
		{"log-level", getString},
		{"log-json", getBool},
		{"log-source", getBool},

		{"chunk-size", getInt},
		{"chunk-overlap", getInt},
		{"min-chunk-size", getInt},
		{"top-k", getInt},
		{"min-source-score", getFloat},

		{"embedder-provider", getString},
		{"embedder-model", getString},
		{"embedder-dimension", getInt},
		{"batch-size", getInt},
		{"concurrency", getInt},
		{"max-retries", getInt},

		{"store-provider", getString},
		{"store-path", getString},
		{"store-dsn", getString},
	}
	for _, def := range flagDefs {
		addFlag(def.flagName, def.getter)
	}
}

// readPages decodes a JSON array of {"pageNumber", "text"} objects from path, or from
// stdin when path is "-".
func readPages(cmd *cobra.Command, path string) ([]rag.Page, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(filepath.Clean(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}
	var pages []rag.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	return pages, nil
}

// loadEnvFile loads variables from the --env-file path into the process environment.
// Variables already set are kept. A missing file is not an error.
func loadEnvFile(cmd *cobra.Command) (string, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return "", fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return "", nil
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return "", fmt.Errorf("failed to resolve env file path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat env file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	if err := godotenv.Load(absPath); err != nil {
		return "", fmt.Errorf("failed to load env file %s: %w", absPath, err)
	}
	return absPath, nil
}
