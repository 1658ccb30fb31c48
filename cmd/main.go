package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

var (
	configFileFlag string
	logLevelFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "faceless",
	Short: "Turn narrated scripts into platform-ready short videos",
	Long: `faceless produces short videos from structured scripts: it optionally
enhances the script with a language model, renders one image per scene and
platform, narrates every scene, assembles the videos with ffmpeg and adds
thumbnails and subtitles. Progress is checkpointed so an interrupted run
resumes where it stopped.

Examples:
  faceless run --script scripts/door_script.json --platforms youtube,tiktok
  faceless run --script scripts/door_script.json --no-thumbnails --music music/ambient.mp3
  faceless status --script scripts/door_script.json
  faceless serve`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFileFlag, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newServeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the configuration with the global flags applied and
// initializes logging from it.
func loadConfig(opts ...config.Option) (*config.Config, error) {
	if configFileFlag != "" {
		if err := os.Setenv("CONFIG_FILE", configFileFlag); err != nil {
			return nil, err
		}
	}
	if logLevelFlag != "" {
		opts = append(opts, func(c *config.Config) { c.Log.Level = logLevelFlag })
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, err
	}
	initLogging(cfg.Log)
	return cfg, nil
}

func initLogging(cfg config.LogConfig) {
	level := log.ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "json") {
		log.InitJSONLogger(level, os.Stdout)
		return
	}
	log.InitLogger(level)
}
