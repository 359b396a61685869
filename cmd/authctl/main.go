package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "authctl",
		Short: "Sign in to an auth backend and call its protected APIs",
		Long: `authctl holds one session against an auth backend.

Tokens are kept in the configured store (file, memory or redis) and every
protected call refreshes an expired access token at most once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if exists (ignore error if not found)
			_ = godotenv.Load()
			setupLogging(config.New())
		},
	}

	rootCmd.AddCommand(
		loginCmd(),
		registerCmd(),
		logoutCmd(),
		whoamiCmd(),
		refreshCmd(),
		statusCmd(),
		forgotPasswordCmd(),
		resetPasswordCmd(),
		getCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%sError:%s %s\n", red, reset, err)
		os.Exit(1)
	}
}

const (
	red   = "\033[31m"
	green = "\033[32m"
	reset = "\033[0m"
)

func setupLogging(cfg config.EnvConfig) {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func success(format string, args ...any) {
	fmt.Printf("%s✓%s %s\n", green, reset, fmt.Sprintf(format, args...))
}
