package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/obiente/translate/luaspeech/internal/config"
	"github.com/obiente/translate/luaspeech/internal/engine"
	"github.com/obiente/translate/luaspeech/internal/session"
	"github.com/obiente/translate/luaspeech/internal/telemetry"
)

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "luaspeech",
		Short:        "Speech recognition for Lua scripts",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (YAML or JSON); defaults to $"+config.ConfigFileEnv)
	pf.String("backend", engine.DefaultBackend, fmt.Sprintf("recognition backend %v", engine.Backends()))
	pf.String("model-path", "", "acoustic model path")
	pf.String("scorer-path", "", "external scorer path")
	pf.Int("beam-width", 0, "beam width (0 keeps the engine default)")
	pf.String("hot-words-file", "", "YAML file mapping hot words to boosts")
	pf.String("log-level", "info", "log level")

	load := func(cmd *cobra.Command) (config.Config, error) {
		return config.Loader{
			ConfigFile: configFile,
			EnvFiles:   []string{".env"},
			Flags:      cmd.Flags(),
		}.Load()
	}

	root.AddCommand(newRunCmd(load), newTranscribeCmd(load), newListenCmd(load))
	return root
}

type loadFunc func(cmd *cobra.Command) (config.Config, error)

// openSession loads configuration and builds a session on the configured
// backend. When initModel is set the configured model is loaded too.
func openSession(cmd *cobra.Command, load loadFunc, initModel bool) (*session.Session, config.Config, error) {
	cfg, err := load(cmd)
	if err != nil {
		return nil, cfg, err
	}
	log.Logger = log.Level(cfg.Level())

	eng, err := engine.Open(cfg.Backend, engine.Options{
		Threads:  cfg.Threads,
		Language: cfg.Language,
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, cfg, err
	}
	sess := session.New(eng,
		session.WithLogger(log.Logger),
		session.WithRecorder(telemetry.NewRecorder(log.Logger)))
	if !initModel {
		return sess, cfg, nil
	}
	sc, err := cfg.Session()
	if err != nil {
		return nil, cfg, err
	}
	if _, err := sess.Init(sc); err != nil {
		return nil, cfg, err
	}
	return sess, cfg, nil
}
