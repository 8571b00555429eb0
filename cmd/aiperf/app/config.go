package app

import (
	"flag"
	"fmt"

	dslog "github.com/grafana/dskit/log"
	"github.com/google/uuid"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/transport"
)

// Config is the root config for the aiperf binary.
type Config struct {
	Target    string      `yaml:"target,omitempty"`
	LogFormat string      `yaml:"log_format,omitempty"`
	LogLevel  dslog.Level `yaml:"log_level,omitempty"`
	// OutputPath is where the controller writes the profile results JSON.
	OutputPath string `yaml:"output_path,omitempty"`

	Comms     comms.Config         `yaml:"comms,omitempty"`
	Service   config.ServiceConfig `yaml:"service,omitempty"`
	Benchmark config.UserConfig    `yaml:"benchmark,omitempty"`
	Transport transport.Config     `yaml:"transport,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Target, "target", Controller, "Module to run. Use "+Controller+" to run a full benchmark, "+All+" to run every service in-process.")
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Log format: logfmt or json.")
	_ = c.LogLevel.Set("info")
	c.LogLevel.RegisterFlags(f)
	f.StringVar(&c.OutputPath, "output-path", "profile_results.json", "File the profile results JSON is written to.")

	c.Comms.RegisterFlagsAndApplyDefaults("comms", f)
	c.Service.RegisterFlagsAndApplyDefaults("service", f)
	c.Benchmark.RegisterFlagsAndApplyDefaults("benchmark", f)
	c.Transport.RegisterFlagsAndApplyDefaults("transport", f)
}

// ApplyRuntimeDefaults fills in values that depend on the chosen target. The
// run id namespaces bus endpoints; the controller generates one and hands it
// to every child process.
func (c *Config) ApplyRuntimeDefaults() {
	if c.Target == All {
		c.Comms.Protocol = "inproc"
	}
	if c.Comms.RunID == "" {
		c.Comms.RunID = uuid.NewString()[:8]
	}
}

// Validate rejects configurations no run could honor.
func (c *Config) Validate() error {
	if _, ok := moduleTargets[c.Target]; !ok {
		return fmt.Errorf("unknown target %q", c.Target)
	}
	// Only run-driving targets need a coherent benchmark definition.
	if c.Target == Controller || c.Target == All || c.Target == TimingManager {
		if err := c.Benchmark.Validate(); err != nil {
			return err
		}
	}
	return nil
}
