package servermaster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rescloud/rescloud/lib/config"
	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/clock"
	"github.com/rescloud/rescloud/pkg/errors"
	"github.com/rescloud/rescloud/pkg/resource"
	"github.com/rescloud/rescloud/pkg/resourcegroup"
	"github.com/rescloud/rescloud/servermaster/rescmgr"
	"github.com/rescloud/rescloud/servermaster/scheduler"
)

const (
	defaultStatusAddr = "127.0.0.1:10240"
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
)

// Config is the configuration of a resource manager server.
type Config struct {
	LogLevel  string `toml:"log-level" json:"log-level" yaml:"log-level"`
	LogFile   string `toml:"log-file" json:"log-file" yaml:"log-file"`
	LogFormat string `toml:"log-format" json:"log-format" yaml:"log-format"`

	// StatusAddr serves the prometheus metrics.
	StatusAddr string `toml:"status-addr" json:"status-addr" yaml:"status-addr"`

	MaxRetainedRequests int `toml:"max-retained-requests" json:"max-retained-requests" yaml:"max-retained-requests"`

	Timeouts config.TimeoutConfig `toml:"timeouts" json:"timeouts" yaml:"timeouts"`

	Types          []*TypeConfig          `toml:"types" json:"types" yaml:"types"`
	Groups         []*GroupConfig         `toml:"groups" json:"groups" yaml:"groups"`
	Authorizations []*AuthorizationConfig `toml:"authorizations" json:"authorizations" yaml:"authorizations"`
}

// TypeConfig declares a resource type and how its resources are selected.
type TypeConfig struct {
	Name        string `toml:"name" json:"name" yaml:"name"`
	DisplayName string `toml:"display-name" json:"display-name" yaml:"display-name"`
	Policy      string `toml:"policy" json:"policy" yaml:"policy"`
}

// GroupConfig declares a static group of hosts.
type GroupConfig struct {
	Name       string        `toml:"name" json:"name" yaml:"name"`
	Type       string        `toml:"type" json:"type" yaml:"type"`
	LimitUsers bool          `toml:"limit-users" json:"limit-users" yaml:"limit-users"`
	Users      []model.User  `toml:"users" json:"users" yaml:"users"`
	Hosts      []*HostConfig `toml:"hosts" json:"hosts" yaml:"hosts"`
}

// HostConfig declares one host of a group, in preference order.
type HostConfig struct {
	ID              string `toml:"id" json:"id" yaml:"id"`
	Addr            string `toml:"addr" json:"addr" yaml:"addr"`
	ReinitOnRelease bool   `toml:"reinit-on-release" json:"reinit-on-release" yaml:"reinit-on-release"`
}

// AuthorizationConfig grants a user access to a resource type.
type AuthorizationConfig struct {
	Type         string `toml:"type" json:"type" yaml:"type"`
	User         string `toml:"user" json:"user" yaml:"user"`
	Source       string `toml:"source" json:"source" yaml:"source"`
	MaxResources int    `toml:"max-resources" json:"max-resources" yaml:"max-resources"`
	NiceLevel    int    `toml:"nice-level" json:"nice-level" yaml:"nice-level"`
}

// NewConfig creates a config with the defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel:   defaultLogLevel,
		LogFormat:  defaultLogFormat,
		StatusAddr: defaultStatusAddr,
		Timeouts:   config.DefaultTimeoutConfig(),
	}
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("server config", c), zap.Error(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer

	err := toml.NewEncoder(&b).Encode(c)
	if err != nil {
		log.L().Error("fail to marshal config to toml", zap.Error(err))
		return "", errors.ErrConfigInvalid.Wrap(err).GenWithStackByArgs("can not be encoded")
	}

	return b.String(), nil
}

// ConfigFromFile loads config from a TOML file, or a YAML one if the file
// ends with .yaml or .yml. Unknown keys are rejected.
func (c *Config) ConfigFromFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return c.configFromYAML(path)
	default:
		return c.configFromTOML(path)
	}
}

func (c *Config) configFromTOML(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.ErrConfigDecode.Wrap(err).GenWithStackByArgs(path)
	}
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return errors.ErrConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}

func (c *Config) configFromYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.ErrConfigDecode.Wrap(err).GenWithStackByArgs(path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if strings.Contains(err.Error(), "not found in type") {
			return errors.ErrConfigUnknownItem.GenWithStackByArgs(err.Error())
		}
		return errors.ErrConfigDecode.Wrap(err).GenWithStackByArgs(path)
	}
	return nil
}

// Adjust fills the defaults of unset items.
func (c *Config) Adjust() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.StatusAddr == "" {
		c.StatusAddr = defaultStatusAddr
	}
	c.Timeouts = c.Timeouts.Adjust()

	for _, tc := range c.Types {
		if tc.DisplayName == "" {
			tc.DisplayName = tc.Name
		}
		if tc.Policy == "" {
			tc.Policy = scheduler.PolicyDefault
		}
	}
	for i, gc := range c.Groups {
		if gc.Name == "" {
			gc.Name = fmt.Sprintf("group-%d", i+1)
		}
	}
}

// Validate reports every problem of the config at once.
func (c *Config) Validate() error {
	var errs error
	invalid := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, errors.ErrConfigInvalid.GenWithStackByArgs(fmt.Sprintf(format, args...)))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		invalid("log-format must be text or json, got %q", c.LogFormat)
	}
	if c.MaxRetainedRequests < 0 {
		invalid("max-retained-requests must not be negative")
	}

	types := make(map[string]struct{}, len(c.Types))
	for _, tc := range c.Types {
		if tc.Name == "" {
			invalid("resource type without a name")
			continue
		}
		if _, ok := types[tc.Name]; ok {
			invalid("resource type %s declared twice", tc.Name)
		}
		types[tc.Name] = struct{}{}
		if _, err := scheduler.NewPolicyByName(tc.Policy); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	hosts := make(map[string]struct{})
	for _, gc := range c.Groups {
		if _, ok := types[gc.Type]; !ok {
			errs = multierr.Append(errs, errors.ErrUnknownResourceType.GenWithStackByArgs(gc.Type))
		}
		if !gc.LimitUsers && len(gc.Users) > 0 {
			invalid("group %s lists users but does not limit them", gc.Name)
		}
		for _, u := range gc.Users {
			if u.Name == "" {
				invalid("group %s has a user without a name", gc.Name)
			}
		}
		for _, hc := range gc.Hosts {
			if hc.ID == "" {
				invalid("group %s has a host without an id", gc.Name)
				continue
			}
			if _, ok := hosts[hc.ID]; ok {
				invalid("host %s declared twice", hc.ID)
			}
			hosts[hc.ID] = struct{}{}
		}
	}

	for _, ac := range c.Authorizations {
		if _, ok := types[ac.Type]; !ok {
			errs = multierr.Append(errs, errors.ErrUnknownResourceType.GenWithStackByArgs(ac.Type))
		}
		if ac.User == "" {
			invalid("authorization for %s without a user", ac.Type)
		}
		if ac.MaxResources < 0 {
			invalid("authorization of %s on %s has a negative max-resources", ac.User, ac.Type)
		}
		if ac.NiceLevel < model.MinNiceLevel || ac.NiceLevel > model.MaxNiceLevel {
			invalid("authorization of %s on %s has nice level %d out of range [%d, %d]",
				ac.User, ac.Type, ac.NiceLevel, model.MinNiceLevel, model.MaxNiceLevel)
		}
	}
	return errs
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() *log.Config {
	return &log.Config{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		File: log.FileLogConfig{
			Filename: c.LogFile,
		},
	}
}

// Runtime is what a config materializes into.
type Runtime struct {
	Groups   *resourcegroup.MemoryManager
	Registry *scheduler.Registry
	// Authz is nil when no authorization is configured.
	Authz   *rescmgr.MemoryAuthorizationStore
	Hosts   []*resource.WatchedHost
	Watcher *resource.OrphanWatcher
}

// Build creates the groups, hosts and registries the config describes.
// Hosts start READY and report themselves orphaned after the configured
// timeout.
func (c *Config) Build(clk clock.Clock) (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Groups:   resourcegroup.NewMemoryManager(),
		Registry: scheduler.NewRegistry(),
		Watcher:  resource.NewOrphanWatcher(clk, c.Timeouts.OrphanCheckInterval),
	}
	for _, tc := range c.Types {
		policy, err := scheduler.NewPolicyByName(tc.Policy)
		if err != nil {
			return nil, err
		}
		rt.Registry.Register(model.NewResourceType(tc.Name), tc.DisplayName, policy)
	}

	for _, gc := range c.Groups {
		tp := model.NewResourceType(gc.Type)
		g := resourcegroup.NewStaticGroup(tp)
		g.SetLimitingUsers(gc.LimitUsers)
		for _, u := range gc.Users {
			g.AddAuthorizedUser(u)
		}
		for _, hc := range gc.Hosts {
			h := resource.NewWatchedHost(hc.ID, tp, hc.Addr, hc.ReinitOnRelease, clk, c.Timeouts.ResourceOrphanTimeout)
			h.SetState(model.ResourceReady)
			g.AddResource(h)
			rt.Hosts = append(rt.Hosts, h)
			rt.Watcher.Watch(h)
		}
		rt.Groups.AddGroup(gc.Name, g)
	}

	if len(c.Authorizations) > 0 {
		rt.Authz = rescmgr.NewMemoryAuthorizationStore()
		for _, ac := range c.Authorizations {
			rt.Authz.Grant(
				model.User{Name: ac.User, Source: ac.Source},
				model.NewResourceType(ac.Type),
				rescmgr.Authorization{MaxResources: ac.MaxResources, NiceLevel: ac.NiceLevel})
		}
	}
	return rt, nil
}

// ManagerOptions returns the manager options matching the config and rt.
func (c *Config) ManagerOptions(rt *Runtime, clk clock.Clock) []rescmgr.Option {
	opts := []rescmgr.Option{
		rescmgr.WithClock(clk),
		rescmgr.WithRegistry(rt.Registry),
		rescmgr.WithTimeoutConfig(c.Timeouts),
		rescmgr.WithMaxRetainedRequests(c.MaxRetainedRequests),
	}
	if rt.Authz != nil {
		opts = append(opts, rescmgr.WithAuthorizationStore(rt.Authz))
	}
	return opts
}
