package comms

import (
	"flag"
	"fmt"
	"path/filepath"
	"time"
)

// PushChannel names one load-balanced work queue. Each channel gets its own
// PULL/PUSH proxy pair so that every message type reaches exactly one
// consumer pool.
type PushChannel string

const (
	ChannelCreditDrop       PushChannel = "credit_drop"
	ChannelCreditReturn     PushChannel = "credit_return"
	ChannelInferenceResults PushChannel = "inference_results"
	ChannelRecords          PushChannel = "records"
)

// PushChannels lists every work queue the broker proxies.
var PushChannels = []PushChannel{
	ChannelCreditDrop,
	ChannelCreditReturn,
	ChannelInferenceResults,
	ChannelRecords,
}

// Port offsets from BasePort for TCP endpoints. Push channels use two ports
// each, starting at pushPortBase.
const (
	pubsubFrontendOffset = 0
	pubsubBackendOffset  = 1
	dealerFrontendOffset = 2
	dealerBackendOffset  = 3
	pushPortBase         = 4
)

var pushChannelIndex = map[PushChannel]int{
	ChannelCreditDrop:       0,
	ChannelCreditReturn:     1,
	ChannelInferenceResults: 2,
	ChannelRecords:          3,
}

// Config locates the broker's proxy endpoints. The broker binds every
// endpoint; all clients connect.
type Config struct {
	// Protocol is ipc (single host, default), tcp (multi host) or inproc
	// (all-in-one target and tests).
	Protocol string `yaml:"protocol"`
	IPCDir   string `yaml:"ipc_dir"`
	RunID    string `yaml:"run_id"`
	TCPHost  string `yaml:"tcp_host"`
	BasePort int    `yaml:"base_port"`

	SendTimeout time.Duration `yaml:"send_timeout"`
	RecvTimeout time.Duration `yaml:"recv_timeout"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Protocol, prefix+".protocol", "ipc", "Bus transport: ipc, tcp or inproc.")
	f.StringVar(&c.IPCDir, prefix+".ipc-dir", "/tmp", "Directory for ipc endpoints.")
	f.StringVar(&c.RunID, prefix+".run-id", "", "Unique id namespacing this run's endpoints.")
	f.StringVar(&c.TCPHost, prefix+".tcp-host", "127.0.0.1", "Host for tcp endpoints.")
	f.IntVar(&c.BasePort, prefix+".base-port", 5661, "First port for tcp endpoints.")
	c.SendTimeout = 5 * time.Minute
	c.RecvTimeout = 5 * time.Minute
}

func (c *Config) endpoint(name string, portOffset int) string {
	switch c.Protocol {
	case "tcp":
		return fmt.Sprintf("tcp://%s:%d", c.TCPHost, c.BasePort+portOffset)
	case "inproc":
		return fmt.Sprintf("inproc://aiperf_%s_%s", c.RunID, name)
	default:
		return "ipc://" + filepath.Join(c.IPCDir, fmt.Sprintf("aiperf_%s_%s.sock", c.RunID, name))
	}
}

// PubSubFrontend is where publishers connect (broker side: XSUB).
func (c *Config) PubSubFrontend() string {
	return c.endpoint("pubsub_frontend", pubsubFrontendOffset)
}

// PubSubBackend is where subscribers connect (broker side: XPUB).
func (c *Config) PubSubBackend() string {
	return c.endpoint("pubsub_backend", pubsubBackendOffset)
}

// DealerFrontend is where requesters connect as DEALER (broker side: ROUTER).
func (c *Config) DealerFrontend() string {
	return c.endpoint("dealer_frontend", dealerFrontendOffset)
}

// DealerBackend is where responders connect as ROUTER (broker side: DEALER).
func (c *Config) DealerBackend() string {
	return c.endpoint("dealer_backend", dealerBackendOffset)
}

// PushFrontend is where producers connect as PUSH (broker side: PULL).
func (c *Config) PushFrontend(channel PushChannel) string {
	return c.endpoint("push_frontend_"+string(channel), pushPortBase+2*pushChannelIndex[channel])
}

// PushBackend is where the worker pool connects as PULL (broker side: PUSH).
func (c *Config) PushBackend(channel PushChannel) string {
	return c.endpoint("push_backend_"+string(channel), pushPortBase+2*pushChannelIndex[channel]+1)
}
