package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/pagerag/pkg/config"
	"github.com/compozy/pagerag/pkg/logger"
)

type sourcesCtxKey struct{}

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pagerag",
		Short:         "Page-attributable retrieval over chunked documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	addGlobalFlags(root)
	root.AddCommand(
		IngestCmd(),
		QueryCmd(),
		ContextCmd(),
		SourceCmd(),
		ConfigCmd(),
		VersionCmd(),
	)
	return root
}

func addGlobalFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("config", "", "Path to YAML configuration file")
	flags.String("env-file", ".env", "Path to an environment file loaded before configuration")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source location in logs")

	flags.Int("chunk-size", 0, "Maximum chunk size in characters")
	flags.Int("chunk-overlap", 0, "Characters shared between consecutive chunks")
	flags.Int("min-chunk-size", 0, "Smallest trailing chunk kept on its own")
	flags.Int("top-k", 0, "Number of chunks to retrieve")
	flags.Float64("min-source-score", 0, "Lowest similarity accepted when attributing a claim")

	flags.String("embedder-provider", "", "Embedding provider (openai, vertex, local)")
	flags.String("embedder-model", "", "Embedding model name")
	flags.Int("embedder-dimension", 0, "Expected embedding dimension (0 disables the check)")
	flags.Int("batch-size", 0, "Texts per embedding request")
	flags.Int("concurrency", 0, "Embedding requests in flight")
	flags.Int("max-retries", 0, "Retries for transient embedding failures")

	flags.String("store-provider", "", "Document store (filesystem, redis, postgres)")
	flags.String("store-path", "", "Directory of the filesystem store")
	flags.String("store-dsn", "", "Connection string of the redis or postgres store")
}

// SetupGlobalConfig loads configuration from defaults, the YAML file, explicit flags and
// the environment, configures logging and attaches both to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	envFile, err := loadEnvFile(cmd)
	if err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)
	sources := make([]config.Source, 0, 2)
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	sources = append(sources, config.NewCLIProvider(flags))
	service := config.NewService()
	cfg, err := service.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, cfg.Runtime.LogSource)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	ctx = config.ContextWithConfig(ctx, cfg)
	ctx = context.WithValue(ctx, sourcesCtxKey{}, service)
	cmd.SetContext(ctx)
	logger.FromContext(ctx).Debug(
		"Configuration loaded",
		"config_file", configFile,
		"env_file", envFile,
		"overrides", len(flags),
	)
	return nil
}

func sourcesFromContext(ctx context.Context) config.Service {
	if service, ok := ctx.Value(sourcesCtxKey{}).(config.Service); ok {
		return service
	}
	return nil
}
