package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/hooks"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "imgconv",
	Short:         "Batch image converter",
	Long:          `imgconv converts images between WebP, AVIF, JPEG, PNG, TIFF, GIF, BMP and ICO, with optional resizing and target file sizes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.imgconv/config.yaml)")
	rootCmd.PersistentFlags().Int("workers", 0, "number of parallel conversions, 1-32 (0 = logical cores)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: json or console")

	_ = viper.BindPFlag("worker_count", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads .env, the config file and environment variables.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".imgconv"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: config: %v\n", err)
		}
	}
}

// loadConfig resolves the effective configuration: defaults, then config
// file, then IMGCONV_* environment variables, then flags.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

func newLogger(cfg config.Config) (*hooks.ZapLogger, func(), error) {
	zl, err := hooks.NewZap(cfg)
	if err != nil {
		return nil, nil, err
	}
	return hooks.NewZapLogger(zl), func() { _ = zl.Sync() }, nil
}
