// Package config is the CLI and environment-variable surface: a cobra root
// command over a pflag flag set, bound to viper for BLACKJACK_*-prefixed
// environment overrides. The shape mirrors the reference server's own
// config wiring, generalized from a single-purpose webapp flag set to this
// server's bind/TLS/timeout/logging knobs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every flag-configurable setting. Fields are exported because,
// unlike the reference webapp (a single package), the value travels from
// cmd/blackjacktable into internal/server and internal/logging.
type Config struct {
	Bind           string
	Hostname       string
	Port           int
	TLSCert        string
	TLSKey         string
	Verbose        bool
	SessionTimeout time.Duration
	PromptLog      bool
	Version        bool
}

// Validate rejects configurations that would otherwise fail at listen time
// or silently misbehave.
func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.SessionTimeout <= 0 {
		return errors.New("--session-timeout must be positive")
	}
	return nil
}

// Scheme reports the URI scheme the server will actually listen with.
func (c *Config) Scheme() string {
	if c.TLSCert != "" && c.TLSKey != "" {
		return "https"
	}
	return "http"
}

// BindAddr resolves the effective address to listen on: --hostname, when
// set, overrides --bind, matching the reference server's alias relationship
// between the two flags.
func (c *Config) BindAddr() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.Bind
}

const envPrefix = "BLACKJACK"

// NewCommand builds the root cobra command. run is invoked once flags are
// parsed and validated; it is the caller's job (wired from
// cmd/blackjacktable) to start the server and block until ctx is done.
func NewCommand(cfg *Config, version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "blackjacktable",
		Short:         "A multiplayer Blackjack table served over WebSocket.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "localhost", "address to bind to (env: BLACKJACK_BIND)")
	fs.StringVar(&cfg.Hostname, "hostname", "", "alias for --bind, takes precedence when set (env: BLACKJACK_HOSTNAME)")
	fs.IntVarP(&cfg.Port, "port", "p", 3000, "port to listen on (env: BLACKJACK_PORT)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to tls certificate (env: BLACKJACK_TLS_CERT)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to tls keyfile (env: BLACKJACK_TLS_KEY)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: BLACKJACK_VERBOSE)")
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", 60*time.Minute, "time before an idle, unidentified connection is dropped (env: BLACKJACK_SESSION_TIMEOUT)")
	fs.BoolVar(&cfg.PromptLog, "prompt-log", false, "log every prompt issued and every response received (env: BLACKJACK_PROMPT_LOG)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("blackjacktable v{{.Version}}\n")

	return cmd
}
