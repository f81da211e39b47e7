package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "statehound",
	Short: "Statehound probes social-login integrations for Login-CSRF.",
	Long: `Statehound replays captured OAuth authorization responses with a
mutated state parameter into victim browser sessions and checks whether
the relying party binds the victim to the attacker's account.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			basicLogger, _ := zap.NewDevelopment()
			basicLogger.Error("Failed to initialize configuration", zap.Error(err))
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		if err := config.Load(viper.GetViper()); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg := config.Get()

		if err := cfg.Validate(); err != nil {
			observability.InitializeLogger(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting statehound", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command. The context comes from main and is
// cancelled on SIGINT/SIGTERM for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(checkLoginCmd)
	rootCmd.AddCommand(attackCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cookiesCmd)
}

// initializeConfig reads the config file and environment variables.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("STATEHOUND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The connection string usually arrives through the environment.
	_ = viper.BindEnv("postgres.url", "STATEHOUND_POSTGRES_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults and env carry it.
	}
	return nil
}
