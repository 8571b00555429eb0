package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v2"

	"github.com/aiperf/aiperf/cmd/aiperf/app"
	"github.com/aiperf/aiperf/pkg/util/log"
)

const (
	exitOK = iota
	exitRunError
	exitConfigError
)

func main() {
	os.Exit(run())
}

func run() int {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		return exitConfigError
	}

	logger := log.InitLogger(config.LogFormat, config.LogLevel)

	if err := config.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		return exitConfigError
	}

	a, err := app.New(*config)
	if err != nil {
		level.Error(logger).Log("msg", "error initialising aiperf", "err", err)
		return exitRunError
	}

	level.Info(logger).Log("msg", "starting aiperf", "target", config.Target)
	if err := a.Run(); err != nil {
		level.Error(logger).Log("msg", "error running aiperf", "err", err)
		return exitRunError
	}
	return exitOK
}

func loadConfig() (*app.Config, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
	)

	var (
		configFile      string
		configExpandEnv bool
	)

	args := os.Args[1:]
	config := &app.Config{}

	// Find -config.file and -config.expand-env first. Parsing stops on the
	// first unknown flag, so retry from every position.
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// Load config defaults and register flags.
	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	// Overlay with the config file if provided.
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buff = []byte(s)
		}
		if err := yaml.UnmarshalStrict(buff, config); err != nil {
			return nil, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	// Overlay with the command line.
	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flag.Parse()

	config.ApplyRuntimeDefaults()
	return config, nil
}
