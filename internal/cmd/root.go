// Package cmd implements the livyctl command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/internal/config"
	apperrors "github.com/3leaps/livyctl/internal/errors"
	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/internal/server/handlers"
)

// VersionInfo is the build metadata injected by main.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var appIdentity *config.Identity

// Persistent flags.
var (
	cfgFile string
	verbose bool
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "livyctl",
	Short: "Submit and follow Spark batch jobs through Livy",
	Long: `livyctl submits Spark batch jobs to Livy endpoints and streams their
driver output back to the terminal.

Clusters come from Azure subscriptions, from Livy URLs linked by hand and
from local emulators started with 'livyctl serve'.

Examples:
  livyctl cluster list
  livyctl submit --manifest submit.yaml
  livyctl job list`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: user config dir, then ./.livyctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for properties and job records (default: app data dir)")
}

// SetVersionInfo records build metadata for version output.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the application identity, or nil before init.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// setDefaults installs the configuration defaults on the global viper
// instance so that flags bound to viper report them.
func setDefaults() {
	for k, v := range config.Defaults() {
		viper.SetDefault(k, v)
	}
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}
	config.SetIdentity(*appIdentity)
	config.SetConfigFile(cfgFile)
	setDefaults()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	observability.InitCLILoggerWithLevel(appIdentity.BinaryName, level, cfg.Logging.Profile)
	return nil
}

// appDataDir resolves --data-dir or the platform app data directory.
func appDataDir() (string, error) {
	if d := strings.TrimSpace(dataDir); d != "" {
		return d, nil
	}
	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive the data directory")
	}
	return gfconfig.GetAppDataDir(identity.ConfigName), nil
}

// Execute runs the root command and exits with the mapped code on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ExitWithCode(observability.CLILogger, apperrors.ExitCode(err), "Command failed", err)
	}
}

// ExitWithCode logs err and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{zap.Int("exit_code", code)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Error(message, fields...)
	if !logger.Core().Enabled(zap.ErrorLevel) {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, err)
	}
	_ = logger.Sync()
	os.Exit(code)
}

// exitError wraps err with the exit code the CLI terminates with.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return apperrors.New(code, message, err)
}
