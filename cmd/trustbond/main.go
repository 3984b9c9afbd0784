package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eigerco/trustbond/pkg/log"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "trustbond",
		Short:         "Vote-escrow ledger with utilization-throttled emissions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			envFile, _ := c.Flags().GetString("env-file")
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "trustbond.yaml", "path to the YAML config file")
	flags.String("env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(serveCommand(), scheduleCommand())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log.Root.Error().Err(err).Msg("trustbond failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
