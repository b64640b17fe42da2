package main

import (
	"os"

	"github.com/go-go-golems/bookchat/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	settings   *config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "bookchat",
	Short:         "bookchat is a conversational book search assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		if err := config.Setup(v, configPath); err != nil {
			return err
		}
		if err := bindFlags(cmd, v); err != nil {
			return err
		}
		s, err := config.FromViper(v)
		if err != nil {
			return err
		}
		if err := config.InitLogger(s.Log); err != nil {
			return err
		}
		settings = s
		return nil
	},
}

// flagKeys maps persistent flags onto settings keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
	"with-caller":    "log.with_caller",
	"store":          "store.driver",
	"store-dsn":      "store.dsn",
	"store-dir":      "store.dir",
	"provider":       "provider.driver",
	"model":          "provider.model",
	"script":         "provider.script",
	"search-url":     "books.search_url",
	"graph-url":      "books.graph_url",
	"failure-policy": "session.tool_failure_policy",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default: bookchat.yaml in ., $HOME/.bookchat or the user config dir)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, text, json)")
	pf.String("log-file", "", "also log to this file, rotated")
	pf.Bool("with-caller", false, "log caller locations")
	pf.String("store", "memory", "session store (memory, sqlite, yaml)")
	pf.String("store-dsn", "", "sqlite data source name")
	pf.String("store-dir", "", "directory of the yaml store")
	pf.String("provider", "openai", "model provider (openai, scripted)")
	pf.String("model", "gpt-3.5-turbo", "openai model")
	pf.String("script", "", "reply script of the scripted provider")
	pf.String("search-url", "", "book search endpoint")
	pf.String("graph-url", "", "book similarity graph endpoint")
	pf.String("failure-policy", "silent", "what a failed book search leaves in the session (silent, surface)")

	rootCmd.AddCommand(newServeCommand(), newChatCommand(), newResumeCommand(), newSessionsCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("bookchat failed")
		os.Exit(1)
	}
}
