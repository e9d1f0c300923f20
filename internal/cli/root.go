// Package cli wires configuration, logging and the app behind the cobra
// commands of claim4me and c4m.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/observability"
)

// EnvPrefix prefixes every environment override, e.g. CLAIM4ME_DRY_RUN
// or CLAIM4ME_SHOPEE_PASSWORD.
const EnvPrefix = "CLAIM4ME"

// Env holds the state shared by the commands of one process.
type Env struct {
	v   *viper.Viper
	cfg *config.Config
}

// NewEnv returns an Env with its own viper instance.
func NewEnv() *Env {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &Env{v: v}
}

// Config returns the loaded configuration. It is valid after the
// persistent pre-run.
func (e *Env) Config() *config.Config { return e.cfg }

// BindFlags registers the persistent flags shared by both binaries.
func (e *Env) BindFlags(cmd *cobra.Command) error {
	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default is <user config dir>/claim4me/config.toml)")
	pf.Bool("debug", false, "debug logging")
	pf.Bool("trace", false, "trace every browser operation")
	pf.Bool("dry-run", false, "skip clicks and typing")
	pf.Bool("headless", true, "run the browser without a window")
	pf.Bool("no-file-log", false, "disable the log file")
	pf.Bool("interactive", true, "allow manual checkpoints and prompts")
	return e.v.BindPFlags(pf)
}

// Load reads the config file, applies flag and environment overrides and
// initializes logging. A missing file is created with defaults.
func (e *Env) Load() error {
	path := e.v.GetString("config")
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg = cfg.Apply(e.overrides(cfg))
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg

	observability.InitializeLogger(cfg.Logger)
	observability.GetLogger().Debug("Configuration loaded.",
		zap.String("config", path),
		zap.Bool("dry_run", cfg.Debug.DryRun),
		zap.Bool("headless", cfg.Browser.Headless))
	return nil
}

func (e *Env) overrides(cfg *config.Config) config.Overrides {
	o := config.Overrides{
		Debug:       e.v.GetBool("debug"),
		Trace:       e.v.GetBool("trace"),
		DryRun:      e.v.GetBool("dry-run"),
		NoFileLog:   e.v.GetBool("no-file-log"),
		Credentials: map[string]config.Credentials{},
	}
	if e.v.IsSet("headless") {
		h := e.v.GetBool("headless")
		o.Headless = &h
	}
	if e.v.IsSet("interactive") {
		i := e.v.GetBool("interactive")
		o.Interactive = &i
	}
	for site := range cfg.Sites {
		o.Credentials[site] = config.Credentials{
			Username: e.v.GetString(site + ".username"),
			Password: e.v.GetString(site + ".password"),
		}
	}
	return o
}

// NewRootCommand builds the claim4me command tree.
func NewRootCommand() *cobra.Command {
	env := NewEnv()
	root := &cobra.Command{
		Use:   "claim4me",
		Short: "Claim the daily Shopee coins and coupons and the Momo task.",
		Long: "claim4me logs in to the shops with stored cookies, falling back to " +
			"credentials and SMS codes, and runs the daily claiming flows.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlows(cmd.Context(), env)
		},
	}
	cobra.CheckErr(env.BindFlags(root))

	root.AddCommand(
		newShopeeCommand(env),
		newMomoCommand(env),
		newAllCommand(env),
		newLogoutCommand(env),
	)
	return root
}

// Execute runs the claim4me command line.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	return NewRootCommand().ExecuteContext(ctx)
}
