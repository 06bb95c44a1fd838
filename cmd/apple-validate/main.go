package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bionicotaku/lingo-utils-appleid"
)

var (
	v      = viper.New()
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

var rootCmd = &cobra.Command{
	Use:           "apple-validate",
	Short:         "Verify Sign in with Apple identity tokens",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		envPath := v.GetString("env")
		if err := loadEnvFile(envPath); err != nil {
			logger.Warn("load env file", "path", envPath, "error", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(v.GetString("log-level"))}))
		return nil
	},
}

func init() {
	v.SetEnvPrefix("APPLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.String("env", defaultEnvPath(), "Path to .env file (env APPLE_ENV)")
	flags.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR (env APPLE_LOG_LEVEL)")
	flags.String("client-id", "", "Comma separated client IDs accepted as audience (env APPLE_CLIENT_ID)")
	flags.String("keys-url", appleid.AppleBaseURL+appleid.KeySetPath, "Apple JWKS URL (env APPLE_KEYS_URL)")
	flags.Duration("timeout", 10*time.Second, "Timeout for network calls (env APPLE_TIMEOUT)")
	_ = v.BindPFlags(flags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("apple-validate failed", "error", err)
		os.Exit(1)
	}
}

func verifierConfig() appleid.Config {
	return appleid.Config{
		ClientIDs:   splitList(v.GetString("client-id")),
		KeySetURL:   v.GetString("keys-url"),
		HTTPTimeout: v.GetDuration("timeout"),
		Logger:      logger,
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
