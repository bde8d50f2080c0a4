package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	relay "github.com/oarkflow/llmrelay"
)

func main() {
	configFlag := flag.String("config", "", "Path to YAML or JSON configuration file")
	portFlag := flag.Int("port", 0, "Relay listen port (overrides config)")
	workDirFlag := flag.String("workdir", "", "Preferred base directory for the relay script (overrides config)")
	envFlag := flag.String("env", "", "Dotenv file holding the upstream credential (added to config envFiles)")
	controlFlag := flag.String("control", "", "Control/metrics listen address (overrides config)")
	timeoutFlag := flag.Duration("startup_timeout", 0, "Relay startup confirmation timeout (overrides config)")
	enableRestartFlag := flag.Bool("enable_restart", true, "Relaunch the relay after unexpected exits")
	logLevelFlag := flag.String("log_level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg := relay.DefaultConfig()
	if *configFlag != "" {
		loaded, err := relay.LoadConfig(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	override := func(c *relay.Config) {
		if *portFlag != 0 {
			c.Port = *portFlag
		}
		if *workDirFlag != "" {
			c.WorkDir = *workDirFlag
		}
		if *envFlag != "" {
			c.EnvFiles = append(c.EnvFiles, *envFlag)
		}
		if *controlFlag != "" {
			c.ControlAddr = *controlFlag
		}
		if *timeoutFlag > 0 {
			c.StartupTimeout = relay.Duration(*timeoutFlag)
		}
		if *logLevelFlag != "" {
			c.LogLevel = *logLevelFlag
		}
		restart := *enableRestartFlag
		c.EnableRestart = &restart
	}
	override(cfg)

	logger, err := relay.SetupLogging(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
	logger.Info("relayctl: starting", slog.Int("port", cfg.Port), slog.String("control", cfg.ControlAddr),
		slog.Duration("startup_timeout", time.Duration(cfg.StartupTimeout)))

	d := relay.NewDaemon(*configFlag, cfg, logger)
	d.Override = override
	if err := d.Run(); err != nil {
		if errors.Is(err, relay.ErrExecutableNotFound) {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		} else {
			logger.Error("relayctl: exiting", slog.String("err", err.Error()))
		}
		os.Exit(1)
	}
}
