// Package config loads the node's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emis-air/airnode/internal/timeutil"
)

// DefaultConfigPath is the config file path relative to the node root.
const DefaultConfigPath = "config/node.yaml"

// Defaults for unset fields.
const (
	DefaultNodeID        = "NodeX"
	DefaultTimezone      = "UTC"
	DefaultTickSeconds   = 1.0
	DefaultPolicy        = PolicyDaily
	DefaultWindowSeconds = 300
	DefaultWindowBasis   = BasisUTC
	DefaultI2CBus        = 1
	DefaultBMEAddress    = 0x76
	DefaultSO2Address    = 0x74
	DefaultReadBudgetMS  = 400
)

// Writer policies and window time bases.
const (
	PolicyDaily  = "daily"
	PolicyWindow = "window"

	BasisUTC   = "utc"
	BasisLocal = "local"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// NodeConfig is the root of config/node.yaml. Zero fields take the defaults
// returned by the Get* methods.
type NodeConfig struct {
	NodeID      string        `yaml:"node_id"`
	Timezone    string        `yaml:"timezone"`
	TickSeconds *float64      `yaml:"tick_seconds"`
	Output      OutputConfig  `yaml:"output"`
	Ledger      LedgerConfig  `yaml:"ledger"`
	Admin       AdminConfig   `yaml:"admin"`
	Sensors     SensorsConfig `yaml:"sensors"`
}

// OutputConfig selects where and how rows are written.
type OutputConfig struct {
	Root          string `yaml:"root"`
	Policy        string `yaml:"policy"`
	WindowSeconds *int   `yaml:"window_seconds"`
	WindowBasis   string `yaml:"window_basis"`
	Fsync         *bool  `yaml:"fsync"`
}

// LedgerConfig points at the sqlite file ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// AdminConfig configures the debug HTTP listener. Empty disables it.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// SensorsConfig groups the per-sensor sections.
type SensorsConfig struct {
	PMS1 PMSConfig `yaml:"pms1"`
	PMS2 PMSConfig `yaml:"pms2"`
	BME  I2CConfig `yaml:"bme"`
	SO2  I2CConfig `yaml:"so2"`
}

// PMSConfig is one particulate sensor on a serial port.
type PMSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         string `yaml:"port"`
	BaudRate     int    `yaml:"baud_rate"`
	ReadBudgetMS *int   `yaml:"read_budget_ms"`
}

// I2CConfig is one sensor on an I2C bus.
type I2CConfig struct {
	Enabled bool    `yaml:"enabled"`
	Bus     *int    `yaml:"i2c_bus"`
	Address Address `yaml:"address"`
}

// Address is an I2C address given as a YAML int or a string such as
// "0x74". An unparsable value is kept as Raw and treated as unset.
type Address struct {
	Value uint16
	Set   bool
	Raw   string
}

// UnmarshalYAML accepts ints and numeric strings in any Go base prefix.
func (a *Address) UnmarshalYAML(node *yaml.Node) error {
	*a = Address{Raw: node.Value}
	if node.Kind != yaml.ScalarNode {
		return nil
	}
	s := strings.TrimSpace(node.Value)
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return nil
	}
	a.Value, a.Set = uint16(v), true
	return nil
}

// Load reads and validates a YAML config file.
// The file must have a .yaml or .yml extension and be under 1MB.
func Load(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *NodeConfig) Validate() error {
	if !validNodeID(c.GetNodeID()) {
		return fmt.Errorf("node_id %q may only contain letters, digits, '.', '_' and '-'", c.NodeID)
	}
	if !timeutil.IsTimezoneValid(c.GetTimezone()) {
		return fmt.Errorf("unknown timezone %q", c.Timezone)
	}
	if c.TickSeconds != nil && *c.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive, got %v", *c.TickSeconds)
	}

	switch c.Output.GetPolicy() {
	case PolicyDaily, PolicyWindow:
	default:
		return fmt.Errorf("output.policy must be %q or %q, got %q", PolicyDaily, PolicyWindow, c.Output.Policy)
	}
	if w := c.Output.WindowSeconds; w != nil && (*w < 1 || *w > 3600) {
		return fmt.Errorf("output.window_seconds must be between 1 and 3600, got %d", *w)
	}
	switch c.Output.GetWindowBasis() {
	case BasisUTC, BasisLocal:
	default:
		return fmt.Errorf("output.window_basis must be %q or %q, got %q", BasisUTC, BasisLocal, c.Output.WindowBasis)
	}

	for name, p := range map[string]PMSConfig{"pms1": c.Sensors.PMS1, "pms2": c.Sensors.PMS2} {
		if p.BaudRate < 0 {
			return fmt.Errorf("sensors.%s.baud_rate must be positive, got %d", name, p.BaudRate)
		}
		if p.ReadBudgetMS != nil && *p.ReadBudgetMS <= 0 {
			return fmt.Errorf("sensors.%s.read_budget_ms must be positive, got %d", name, *p.ReadBudgetMS)
		}
	}
	for name, s := range map[string]I2CConfig{"bme": c.Sensors.BME, "so2": c.Sensors.SO2} {
		if s.Bus != nil && *s.Bus < 0 {
			return fmt.Errorf("sensors.%s.i2c_bus must not be negative, got %d", name, *s.Bus)
		}
	}
	return nil
}

// validNodeID reports whether id is safe to embed in an output file name.
func validNodeID(id string) bool {
	if len(id) > 64 || strings.Trim(id, "._") == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// GetNodeID returns the node identifier or DefaultNodeID.
func (c *NodeConfig) GetNodeID() string {
	if c.NodeID == "" {
		return DefaultNodeID
	}
	return c.NodeID
}

// GetTimezone returns the IANA zone name or DefaultTimezone.
func (c *NodeConfig) GetTimezone() string {
	if c.Timezone == "" {
		return DefaultTimezone
	}
	return c.Timezone
}

// GetLocation loads the configured zone.
func (c *NodeConfig) GetLocation() (*time.Location, error) {
	return timeutil.LoadLocation(c.GetTimezone())
}

// GetTick returns the acquisition interval.
func (c *NodeConfig) GetTick() time.Duration {
	s := DefaultTickSeconds
	if c.TickSeconds != nil {
		s = *c.TickSeconds
	}
	return time.Duration(s * float64(time.Second))
}

// GetRoot returns the data root directory, "." when unset.
func (o OutputConfig) GetRoot() string {
	if o.Root == "" {
		return "."
	}
	return o.Root
}

// GetPolicy returns the writer policy, lower-cased.
func (o OutputConfig) GetPolicy() string {
	if o.Policy == "" {
		return DefaultPolicy
	}
	return strings.ToLower(o.Policy)
}

// GetWindow returns the fixed window length.
func (o OutputConfig) GetWindow() time.Duration {
	if o.WindowSeconds == nil {
		return DefaultWindowSeconds * time.Second
	}
	return time.Duration(*o.WindowSeconds) * time.Second
}

// GetWindowBasis returns "utc" or "local".
func (o OutputConfig) GetWindowBasis() string {
	if o.WindowBasis == "" {
		return DefaultWindowBasis
	}
	return strings.ToLower(o.WindowBasis)
}

// GetFsync reports whether rows are synced after every write (default on).
func (o OutputConfig) GetFsync() bool {
	if o.Fsync == nil {
		return true
	}
	return *o.Fsync
}

// Active reports whether the channel is enabled and has a port.
func (p PMSConfig) Active() bool {
	return p.Enabled && p.Port != ""
}

// GetReadBudget returns the per-tick frame read budget.
func (p PMSConfig) GetReadBudget() time.Duration {
	ms := DefaultReadBudgetMS
	if p.ReadBudgetMS != nil {
		ms = *p.ReadBudgetMS
	}
	return time.Duration(ms) * time.Millisecond
}

// GetBus returns the I2C bus number or DefaultI2CBus.
func (s I2CConfig) GetBus() int {
	if s.Bus == nil {
		return DefaultI2CBus
	}
	return *s.Bus
}

// GetAddress returns the configured address or def.
func (s I2CConfig) GetAddress(def uint16) uint16 {
	if !s.Address.Set {
		return def
	}
	return s.Address.Value
}
