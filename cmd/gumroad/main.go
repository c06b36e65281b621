package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gumroad/internal/config"
	applog "gumroad/internal/log"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "gumroad",
		Short:         "Product duplication service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and points the logger at stdout plus the
// optional LOG_FILE. The returned writer is what request logging should use.
func loadConfig() (config.Config, io.Writer, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	applog.SetLevel(cfg.LogLevel)

	var out io.Writer = os.Stdout
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			applog.BackgroundError("log.file.open", err, map[string]any{"path": cfg.LogFile})
		} else {
			out = io.MultiWriter(os.Stdout, f)
			closeLog = func() { _ = f.Close() }
		}
	}
	applog.SetOutput(out)
	return cfg, out, closeLog, nil
}
