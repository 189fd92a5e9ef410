package dap

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gni.dev/jsdbg/internal/config"
)

// Command returns the "dap" command serving the Debug Adapter Protocol over
// stdio, or over TCP when a port is given.
func Command() *cobra.Command {
	var (
		port      int
		logLevel  string
		skipFiles []string
	)
	cmd := &cobra.Command{
		Use:   "dap",
		Short: "Serve the Debug Adapter Protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("skip-files") {
				cfg.SkipFiles = skipFiles
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringSliceVar(&skipFiles, "skip-files", nil, "glob patterns of scripts whose caught exceptions are ignored")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	sc := Config{
		SkipFiles:        cfg.SkipFiles,
		SharedConditions: cfg.SharedConditions,
		CallTimeout:      cfg.CallTimeout,
		Log:              log,
	}

	if cfg.Port > 0 {
		return NewServer(cfg.Port, sc).Run(ctx)
	}
	pipe := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	s, err := NewSession(pipe, sc)
	if err != nil {
		return err
	}
	err = s.Serve(ctx)
	if err == io.EOF || ctx.Err() != nil {
		return nil
	}
	return err
}
