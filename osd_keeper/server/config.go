package server

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/goccy/go-yaml"
)

var (
	flagZkHosts        utils.StrlistFlag
	flagConfigFile     = flag.String("config", "", "yaml config file, flags set on the command line override it")
	flagHttpPort       = flag.Int("http_port", 30200, "bind port of osd_keeper http server")
	flagMgrUrl         = flag.String("mgr_url", "http://127.0.0.1:8003", "base url of the mgr api")
	flagMgrToken       = flag.String("mgr_token", "", "bearer token of the mgr api")
	flagCallTimeout    = flag.Duration("call_timeout", 10*time.Second, "timeout of a single mgr call")
	flagMaxInflight    = flag.Int("max_inflight_calls", 16, "max concurrent mgr calls of a bulk run")
	flagZkPrefix       = flag.String("zk_prefix", "/osd_keeper", "zk prefix")
	flagRefreshEvery   = flag.Duration("snapshot_refresh_interval", 30*time.Second, "osd snapshot poll interval")
	flagJournalKeep    = flag.Int("journal_retention", 100, "bulk runs kept in zk")
	flagRequireUpForRm = flag.Bool("removal_requires_up", true, "refuse destroy/purge of osds which are not up")
)

func init() {
	flag.Var(&flagZkHosts, "zk_hosts", "zk hosts with format <ip:port>,<ip:port>..., journal is off if empty")
}

type Config struct {
	HttpPort                int
	MgrUrl                  string
	MgrToken                string
	CallTimeout             time.Duration
	MaxInflightCalls        int
	ZkHosts                 []string
	ZkPrefix                string
	SnapshotRefreshInterval time.Duration
	JournalRetention        int
	RemovalRequiresUp       bool
}

// fileConfig mirrors Config, nil fields are absent from the file.
type fileConfig struct {
	HttpPort                *int     `yaml:"http_port"`
	MgrUrl                  *string  `yaml:"mgr_url"`
	MgrToken                *string  `yaml:"mgr_token"`
	CallTimeout             *string  `yaml:"call_timeout"`
	MaxInflightCalls        *int     `yaml:"max_inflight_calls"`
	ZkHosts                 []string `yaml:"zk_hosts"`
	ZkPrefix                *string  `yaml:"zk_prefix"`
	SnapshotRefreshInterval *string  `yaml:"snapshot_refresh_interval"`
	JournalRetention        *int     `yaml:"journal_retention"`
	RemovalRequiresUp       *bool    `yaml:"removal_requires_up"`
}

func ConfigFromFlags() *Config {
	return &Config{
		HttpPort:                *flagHttpPort,
		MgrUrl:                  *flagMgrUrl,
		MgrToken:                *flagMgrToken,
		CallTimeout:             *flagCallTimeout,
		MaxInflightCalls:        *flagMaxInflight,
		ZkHosts:                 append([]string(nil), flagZkHosts...),
		ZkPrefix:                *flagZkPrefix,
		SnapshotRefreshInterval: *flagRefreshEvery,
		JournalRetention:        *flagJournalKeep,
		RemovalRequiresUp:       *flagRequireUpForRm,
	}
}

// LoadConfig reads -config if given and merges it under the command line
// flags. Call it after flag.Parse.
func LoadConfig() (*Config, error) {
	cfg := ConfigFromFlags()
	if *flagConfigFile == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(*flagConfigFile)
	if err != nil {
		return nil, err
	}
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	if err := cfg.mergeYaml(data, explicit); err != nil {
		return nil, fmt.Errorf("parse %s: %w", *flagConfigFile, err)
	}
	return cfg, cfg.Validate()
}

func parseDuration(name string, value *string, target *time.Duration) error {
	d, err := time.ParseDuration(*value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*target = d
	return nil
}

// mergeYaml overrides cfg with the values present in data, except for the
// names in explicit.
func (c *Config) mergeYaml(data []byte, explicit map[string]bool) error {
	file := &fileConfig{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return err
	}
	use := func(name string, present bool) bool {
		return present && !explicit[name]
	}
	if use("http_port", file.HttpPort != nil) {
		c.HttpPort = *file.HttpPort
	}
	if use("mgr_url", file.MgrUrl != nil) {
		c.MgrUrl = *file.MgrUrl
	}
	if use("mgr_token", file.MgrToken != nil) {
		c.MgrToken = *file.MgrToken
	}
	if use("call_timeout", file.CallTimeout != nil) {
		if err := parseDuration("call_timeout", file.CallTimeout, &c.CallTimeout); err != nil {
			return err
		}
	}
	if use("max_inflight_calls", file.MaxInflightCalls != nil) {
		c.MaxInflightCalls = *file.MaxInflightCalls
	}
	if use("zk_hosts", len(file.ZkHosts) > 0) {
		c.ZkHosts = file.ZkHosts
	}
	if use("zk_prefix", file.ZkPrefix != nil) {
		c.ZkPrefix = *file.ZkPrefix
	}
	if use("snapshot_refresh_interval", file.SnapshotRefreshInterval != nil) {
		err := parseDuration("snapshot_refresh_interval", file.SnapshotRefreshInterval, &c.SnapshotRefreshInterval)
		if err != nil {
			return err
		}
	}
	if use("journal_retention", file.JournalRetention != nil) {
		c.JournalRetention = *file.JournalRetention
	}
	if use("removal_requires_up", file.RemovalRequiresUp != nil) {
		c.RemovalRequiresUp = *file.RemovalRequiresUp
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.CallTimeout <= 0:
		return fmt.Errorf("call_timeout should be positive, got %v", c.CallTimeout)
	case c.MaxInflightCalls <= 0:
		return fmt.Errorf("max_inflight_calls should be positive, got %d", c.MaxInflightCalls)
	case c.SnapshotRefreshInterval <= 0:
		return fmt.Errorf("snapshot_refresh_interval should be positive, got %v", c.SnapshotRefreshInterval)
	case c.JournalRetention <= 0:
		return fmt.Errorf("journal_retention should be positive, got %d", c.JournalRetention)
	}
	return nil
}
