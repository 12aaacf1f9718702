/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/publicgoods/internal/logger"
)

type Config struct {
	bind             string
	configFile       string
	evictionInterval time.Duration
	logFile          string
	logFormat        string
	playerTimeout    time.Duration
	port             int
	prefix           string
	profile          bool
	sessionTimeout   time.Duration
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.tlsCert != "" {
		if err := checkReadable("tls-cert", c.tlsCert); err != nil {
			return err
		}
		if err := checkReadable("tls-key", c.tlsKey); err != nil {
			return err
		}
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}

	for _, d := range []struct {
		flag  string
		value time.Duration
	}{
		{"session-timeout", c.sessionTimeout},
		{"eviction-interval", c.evictionInterval},
		{"player-timeout", c.playerTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("--%s must be positive: %s", d.flag, d.value)
		}
	}

	switch c.logFormat {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("invalid log format (must be %s or %s): %q", logger.FormatConsole, logger.FormatJSON, c.logFormat)
	}
	if c.logFile != "" {
		if err := checkWritableDir("log-file", c.logFile); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) loggerOptions() logger.Options {
	return logger.Options{
		Verbose:    c.verbose,
		Format:     c.logFormat,
		File:       c.logFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// applyViper fills every flag the user did not set from v.
func applyViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// loadConfigFile merges the --config file beneath flags and environment.
func loadConfigFile(fs *pflag.FlagSet, cfg *Config) error {
	if cfg.configFile == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(cfg.configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading --config: %w", err)
	}

	applyViper(fs, v)

	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PUBLICGOODS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "publicgoods",
		Short:         "A classroom public goods game, served over websockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd.Flags(), cfg); err != nil {
				return err
			}
			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(cfg.loggerOptions())
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return ServePage(cmd.Context(), cfg, log)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PUBLICGOODS_BIND)")
	fs.StringVarP(&cfg.configFile, "config", "c", "", "path to a yaml, toml or json file of flag values (env: PUBLICGOODS_CONFIG)")
	fs.DurationVar(&cfg.evictionInterval, "eviction-interval", time.Hour, "how often idle sessions are looked for (env: PUBLICGOODS_EVICTION_INTERVAL)")
	fs.StringVar(&cfg.logFile, "log-file", "", "also write json logs to this file, rotated by size (env: PUBLICGOODS_LOG_FILE)")
	fs.StringVar(&cfg.logFormat, "log-format", logger.FormatConsole, "log output format: console or json (env: PUBLICGOODS_LOG_FORMAT)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 2*time.Minute, "time before disconnected students forfeit their turns (env: PUBLICGOODS_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PUBLICGOODS_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PUBLICGOODS_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PUBLICGOODS_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 4*time.Hour, "time before idle game sessions are ended (env: PUBLICGOODS_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PUBLICGOODS_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PUBLICGOODS_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PUBLICGOODS_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PUBLICGOODS_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	})
	applyViper(fs, v)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("publicgoods v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
