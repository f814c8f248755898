// Command sockctl exercises a secured socket stack from the command line:
// it builds a stack from a config file, dials the configured peer and
// reports what happened.
package main

import (
	"io"
	"os"

	"github.com/go-i2p/go-sockstack/internal/config"
	"github.com/go-i2p/go-sockstack/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	confPath   string
	remoteAddr string
	logLevel   string
)

// env is the state shared by subcommands after PersistentPreRunE.
type env struct {
	cfg    *config.Config
	log    *logrus.Logger
	closer io.Closer
}

var current env

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sockctl",
		Short: "Drives a bounded secured-socket stack.",
		Long: `sockctl builds a fixed-size socket stack (TLS or Noise over TCP) from a
YAML or JSON configuration file and uses it to reach a peer.

Environment variables prefixed with SOCKSTACK_ override the file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			return setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if current.closer != nil {
				return current.closer.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&confPath, "config", "c", "sockctl.yaml", "Path to the configuration file.")
	root.PersistentFlags().StringVarP(&remoteAddr, "remote", "r", "", "Remote ip:port, overriding the configuration.")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overriding the configuration.")

	root.AddCommand(newProbeCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// setup loads configuration and the CLI logger.
func setup() error {
	cfg := config.DefaultConfig()
	if confPath != "" {
		if err := config.LoadFromFile(confPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	if remoteAddr != "" {
		cfg.Remote.Address = remoteAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	l, closer, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	if err != nil {
		return err
	}

	current = env{cfg: cfg, log: l, closer: closer}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}
