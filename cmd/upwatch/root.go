package main

import (
	"os"
	"strings"

	"upwatch/internal/config"
	logx "upwatch/pkg/logx"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	json       bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "upwatch",
		Short:         "Watch URLs for requesters and report when they come back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	root.PersistentFlags().BoolVarP(&g.json, "json", "j", false, "log in json")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug messages")

	root.AddCommand(
		RunCmd(g),
		EnqueueCmd(g),
		CheckCmd(g),
		JobsCmd(g),
		VersionCmd(),
	)
	return root
}

// manager resolves the config path. Without an explicit path a missing
// file means defaults.
func (g *globalFlags) manager() *config.ConfigManager {
	explicit := strings.TrimSpace(g.configPath) != "" || strings.TrimSpace(os.Getenv(config.EnvPath)) != ""
	m := config.NewConfigManager(config.ResolvePath(g.configPath))
	m.SetAllowMissing(!explicit)
	return m
}

func (g *globalFlags) load() (*config.Config, error) {
	return g.manager().Load()
}

func (g *globalFlags) tweakLogging(lc *logx.Config) {
	if g.json {
		lc.JSON = true
	}
	if g.verbose {
		lc.Level = "debug"
	}
	if !lc.JSON && !lc.File.Enabled {
		lc.Console = true
	}
}

// cliLogger is the logger of one-shot commands: quiet unless --verbose.
func (g *globalFlags) cliLogger() logx.Logger {
	level := "warn"
	if g.verbose {
		level = "debug"
	}
	return logx.NewWriter(os.Stderr, level)
}
