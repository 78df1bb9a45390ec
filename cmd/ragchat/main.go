// Command ragchat runs the document chat API and its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/config"
	logpkg "github.com/kailas-cloud/ragchat/internal/logger"
	"github.com/kailas-cloud/ragchat/internal/version"
)

var (
	configPath string // overrides ENV-based lookup
	envName    string
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Chat with your documents",
		Long:          "ragchat indexes uploaded files into a vector store and answers chat questions grounded in them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config (default: config/<env>.yaml)")
	root.PersistentFlags().StringVar(&envName, "env", "", "environment name (default: $ENV or local)")

	root.AddCommand(serveCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadConfig resolves the environment, reads the config and builds the logger.
func loadConfig() (config.Config, *zap.Logger, string, error) {
	env := envName
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, env, nil
}
