package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compozy/pagerag/pkg/config"
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration diagnostics",
	}
	cmd.AddCommand(configShowCmd())
	return cmd
}

// configShowCmd shows the effective configuration with source information
func configShowCmd() *cobra.Command {
	var (
		format      string
		showSources bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration values and their sources",
		Long: `Display the effective configuration. With --sources the table format shows which
source (cli, yaml, env or default) provided each value. Secrets are redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), format, showSources)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (json, yaml, table)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show configuration sources")
	return cmd
}

func runConfigShow(ctx context.Context, w io.Writer, format string, showSources bool) error {
	cfg := config.FromContext(ctx)
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(configTree(cfg))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(configTree(cfg)); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "table":
		return outputTable(w, cfg, sourcesFromContext(ctx), showSources)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// configPaths lists every configurable key in declaration order.
func configPaths() []string {
	mappings := config.GenerateEnvMappings()
	paths := make([]string, 0, len(mappings))
	for _, m := range mappings {
		paths = append(paths, m.ConfigPath)
	}
	return paths
}

// configTree nests values under their koanf keys so JSON and YAML output mirror the
// configuration file layout. Sensitive values are redacted.
func configTree(cfg *config.Config) map[string]any {
	tree := make(map[string]any)
	for _, path := range configPaths() {
		value, ok := cfg.Lookup(path)
		if !ok {
			continue
		}
		parts := strings.Split(path, ".")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = displayValue(path, value)
	}
	return tree
}

func displayValue(path string, value any) any {
	if config.IsSensitiveConfigPath(path) {
		return fmt.Sprint(value)
	}
	if s, ok := value.(fmt.Stringer); ok {
		return s.String()
	}
	return value
}

func outputTable(w io.Writer, cfg *config.Config, service config.Service, showSources bool) error {
	paths := configPaths()
	sort.Strings(paths)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if showSources {
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	} else {
		fmt.Fprintln(tw, "KEY\tVALUE")
	}
	for _, path := range paths {
		value, ok := cfg.Lookup(path)
		if !ok {
			continue
		}
		if !showSources {
			fmt.Fprintf(tw, "%s\t%v\n", path, displayValue(path, value))
			continue
		}
		source := config.SourceDefault
		if service != nil {
			source = service.GetSource(path)
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\n", path, displayValue(path, value), source)
	}
	return tw.Flush()
}
