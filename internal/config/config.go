package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/gesture.control/internal/dispatch"
	"github.com/banshee-data/gesture.control/internal/features"
	"github.com/banshee-data/gesture.control/internal/pipeline"
	"github.com/banshee-data/gesture.control/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/gesture.defaults.json"

// Config is the on-disk configuration of the gesture service. Every field
// is optional; the Get* methods supply the default for anything omitted, so
// partial configs are safe.
type Config struct {
	// Windowing and classification
	WindowSize          *int     `json:"window_size,omitempty"`
	OverlapFraction     *float64 `json:"overlap_fraction,omitempty"`
	FeatureSet          *string  `json:"feature_set,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	Cooldown            *string  `json:"cooldown,omitempty"` // duration string like "500ms"
	QueueSize           *int     `json:"queue_size,omitempty"`
	QueuePolicy         *string  `json:"queue_policy,omitempty"`

	// Command channel
	CommandAddr    *string           `json:"command_addr,omitempty"`
	ConnectBackoff *string           `json:"connect_backoff,omitempty"`
	SendTimeout    *string           `json:"send_timeout,omitempty"`
	Commands       map[string]string `json:"commands,omitempty"`
	DefaultCommand *string           `json:"default_command,omitempty"`

	// Sensor board
	Serial *SerialConfig `json:"serial,omitempty"`
}

// SerialConfig selects the sensor device and its line settings.
type SerialConfig struct {
	Port string `json:"port"`
	serialmux.PortOptions
}

func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// Default returns a Config with every field populated with its default.
func Default() *Config {
	cmds := make(map[string]string)
	for label, cmd := range dispatch.DefaultTable().Entries() {
		cmds[label] = string(cmd)
	}
	p := pipeline.DefaultConfig()
	return &Config{
		WindowSize:          ptrInt(p.WindowSize),
		OverlapFraction:     ptrFloat64(p.Overlap),
		FeatureSet:          ptrString(string(p.FeatureSet)),
		ConfidenceThreshold: ptrFloat64(p.ConfidenceThreshold),
		Cooldown:            ptrString(p.Cooldown.String()),
		QueueSize:           ptrInt(p.QueueSize),
		QueuePolicy:         ptrString(string(p.QueuePolicy)),
		CommandAddr:         ptrString(dispatch.DefaultAddress),
		ConnectBackoff:      ptrString(dispatch.DefaultBackoff.String()),
		SendTimeout:         ptrString(dispatch.DefaultSendTimeout.String()),
		Commands:            cmds,
		DefaultCommand:      ptrString(""),
		Serial:              &SerialConfig{Port: "/dev/ttyUSB0"},
	}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every field that is set.
func (c *Config) Validate() error {
	if c.FeatureSet != nil {
		if _, err := features.ParseSet(*c.FeatureSet); err != nil {
			return fmt.Errorf("feature_set: %w", err)
		}
	}
	for name, v := range map[string]*string{
		"cooldown":        c.Cooldown,
		"connect_backoff": c.ConnectBackoff,
		"send_timeout":    c.SendTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	if _, err := c.CommandTable(); err != nil {
		return err
	}
	if c.Serial != nil {
		if _, err := c.Serial.PortOptions.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if err := c.PipelineConfig().Validate(); err != nil {
		return err
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetWindowSize returns the window_size value or the default.
func (c *Config) GetWindowSize() int {
	if c.WindowSize == nil {
		return pipeline.DefaultConfig().WindowSize
	}
	return *c.WindowSize
}

// GetOverlapFraction returns the overlap_fraction value or the default.
func (c *Config) GetOverlapFraction() float64 {
	if c.OverlapFraction == nil {
		return pipeline.DefaultConfig().Overlap
	}
	return *c.OverlapFraction
}

// GetFeatureSet returns the feature_set value or the default.
func (c *Config) GetFeatureSet() features.Set {
	if c.FeatureSet == nil {
		return pipeline.DefaultConfig().FeatureSet
	}
	set, err := features.ParseSet(*c.FeatureSet)
	if err != nil {
		return features.Set(*c.FeatureSet)
	}
	return set
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return pipeline.DefaultConfig().ConfidenceThreshold
	}
	return *c.ConfidenceThreshold
}

// GetCooldown returns the cooldown as a time.Duration.
func (c *Config) GetCooldown() time.Duration {
	return durationOr(c.Cooldown, pipeline.DefaultConfig().Cooldown)
}

// GetQueueSize returns the queue_size value or the default.
func (c *Config) GetQueueSize() int {
	if c.QueueSize == nil {
		return pipeline.DefaultConfig().QueueSize
	}
	return *c.QueueSize
}

// GetQueuePolicy returns the queue_policy value or the default.
func (c *Config) GetQueuePolicy() pipeline.QueuePolicy {
	if c.QueuePolicy == nil || *c.QueuePolicy == "" {
		return pipeline.DefaultConfig().QueuePolicy
	}
	return pipeline.QueuePolicy(*c.QueuePolicy)
}

// GetCommandAddr returns the command_addr value or the default.
func (c *Config) GetCommandAddr() string {
	if c.CommandAddr == nil || *c.CommandAddr == "" {
		return dispatch.DefaultAddress
	}
	return *c.CommandAddr
}

// GetConnectBackoff returns the connect_backoff as a time.Duration.
func (c *Config) GetConnectBackoff() time.Duration {
	return durationOr(c.ConnectBackoff, dispatch.DefaultBackoff)
}

// GetSendTimeout returns the send_timeout as a time.Duration.
func (c *Config) GetSendTimeout() time.Duration {
	return durationOr(c.SendTimeout, dispatch.DefaultSendTimeout)
}

// GetSerial returns the serial settings, defaulted.
func (c *Config) GetSerial() SerialConfig {
	sc := SerialConfig{Port: "/dev/ttyUSB0"}
	if c.Serial != nil {
		sc = *c.Serial
	}
	if sc.Port == "" {
		sc.Port = "/dev/ttyUSB0"
	}
	if opts, err := sc.PortOptions.Normalise(); err == nil {
		sc.PortOptions = opts
	}
	return sc
}

// PipelineConfig assembles the pipeline tunables.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		WindowSize:          c.GetWindowSize(),
		Overlap:             c.GetOverlapFraction(),
		FeatureSet:          c.GetFeatureSet(),
		ConfidenceThreshold: c.GetConfidenceThreshold(),
		Cooldown:            c.GetCooldown(),
		QueueSize:           c.GetQueueSize(),
		QueuePolicy:         c.GetQueuePolicy(),
	}
}

// CommandTable builds the label→command table. Without a commands map the
// stock table is used.
func (c *Config) CommandTable() (dispatch.Table, error) {
	fallback := dispatch.CommandNone
	if c.DefaultCommand != nil {
		fallback = dispatch.Command(*c.DefaultCommand)
	}
	if c.Commands == nil && fallback == dispatch.CommandNone {
		return dispatch.DefaultTable(), nil
	}
	entries := make(map[string]dispatch.Command, len(c.Commands))
	if c.Commands == nil {
		entries = dispatch.DefaultTable().Entries()
	}
	for label, cmd := range c.Commands {
		entries[label] = dispatch.Command(cmd)
	}
	t, err := dispatch.NewTable(entries, fallback)
	if err != nil {
		return dispatch.Table{}, fmt.Errorf("commands: %w", err)
	}
	return t, nil
}

// DispatchOptions assembles the dispatcher settings.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		Address:     c.GetCommandAddr(),
		Backoff:     c.GetConnectBackoff(),
		SendTimeout: c.GetSendTimeout(),
	}
}
