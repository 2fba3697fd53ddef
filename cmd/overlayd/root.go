package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/geotiff-overlay/internal/core/config"
)

const service = "overlayd"

// newRootCmd builds the command tree around its own viper instance. Settings
// resolve flag, then OVERLAYD_* env or the --config file, then the plain env
// defaults of config.FromEnv.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           service,
		Short:         "Render GeoTIFF rasters as geo-anchored map overlays",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
	}
	root.Version = Version

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "settings file (yaml, json or toml)")
	pf.String("catalog", "", "layer catalog file; empty uses the built-in catalog")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.Bool("log-console", false, "human readable log output")
	if err := bindFlags(v, pf, map[string]string{
		"catalog":     "catalog",
		"log-level":   "log_level",
		"log-console": "log_console",
	}); err != nil {
		panic(err)
	}

	root.AddCommand(newServeCmd(v), newRenderCmd(v), newInvalidateCmd(v))
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("OVERLAYD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

// bindFlags maps flag names to viper keys. Subcommands call it from PreRunE
// so that only the running command's flags own a shared key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("no flag --%s for %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// settings overlays whatever viper has explicitly set on the env defaults.
func settings(v *viper.Viper) config.Config {
	cfg := config.FromEnv()
	str := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	str("addr", &cfg.Addr)
	str("log_level", &cfg.LogLevel)
	str("catalog", &cfg.CatalogPath)
	str("redis", &cfg.RedisAddr)
	str("kafka_brokers", &cfg.Invalidation.Brokers)
	str("kafka_topic", &cfg.Invalidation.Topic)
	str("kafka_group", &cfg.Invalidation.GroupID)
	if v.IsSet("log_console") {
		cfg.LogConsole = v.GetBool("log_console")
	}
	if v.IsSet("h3_res") {
		if r := v.GetInt("h3_res"); r >= 0 && r <= 15 {
			cfg.H3Res = r
			if cfg.H3ResMin > r {
				cfg.H3ResMin = r
			}
		}
	}
	if v.IsSet("invalidation") {
		cfg.Invalidation.Enabled = v.GetBool("invalidation")
	}
	return cfg
}
