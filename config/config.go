// Package config handles garnet.toml engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "garnet.toml"

// Library names accepted in [engine] libraries. "base" is the Lua base
// library.
var Libraries = []string{
	"base", "package", "table", "io", "os", "string", "math", "debug", "channel", "coroutine",
}

// DefaultLibraries are opened when the configuration does not list any. io,
// os and debug reach outside the VM and must be asked for.
var DefaultLibraries = []string{"base", "package", "table", "string", "math", "coroutine"}

// Config represents a garnet.toml configuration.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Log     Log     `toml:"log"`
	Scripts Scripts `toml:"scripts"`

	// Dir is the directory containing the garnet.toml file (set at load
	// time, empty for defaults).
	Dir string `toml:"-"`
}

// Engine configures the VM of each engine.
type Engine struct {
	CallStackSize       int      `toml:"call-stack-size"`
	RegistrySize        int      `toml:"registry-size"`
	Libraries           []string `toml:"libraries"`
	IncludeGoStackTrace bool     `toml:"include-go-stack-trace"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Scripts lists scripts evaluated by every new engine before any host code.
type Scripts struct {
	Preload []string `toml:"preload"`
}

// Default returns the configuration used when no garnet.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a garnet.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes and validates configuration text.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a garnet.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.Engine.CallStackSize == 0 {
		c.Engine.CallStackSize = 256
	}
	if c.Engine.RegistrySize == 0 {
		c.Engine.RegistrySize = 256 * 20
	}
	if c.Engine.Libraries == nil {
		c.Engine.Libraries = append([]string(nil), DefaultLibraries...)
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.CallStackSize < 0 {
		errs = append(errs, fmt.Errorf("engine.call-stack-size must be positive, got %d", c.Engine.CallStackSize))
	}
	if c.Engine.RegistrySize < 0 {
		errs = append(errs, fmt.Errorf("engine.registry-size must be positive, got %d", c.Engine.RegistrySize))
	}
	for _, lib := range c.Engine.Libraries {
		if !knownLibrary(lib) {
			errs = append(errs, fmt.Errorf("engine.libraries: unknown library %q", lib))
		}
	}
	if c.Log.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity))
	}
	return errors.Join(errs...)
}

func knownLibrary(name string) bool {
	for _, lib := range Libraries {
		if lib == name {
			return true
		}
	}
	return false
}

// PreloadPaths returns the preload scripts resolved against the
// configuration directory.
func (c *Config) PreloadPaths() []string {
	var paths []string
	for _, p := range c.Scripts.Preload {
		if !filepath.IsAbs(p) && c.Dir != "" {
			p = filepath.Join(c.Dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}

// LogPath returns the log file path, or nil to log to stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	p := c.Log.Path
	if !filepath.IsAbs(p) && c.Dir != "" {
		p = filepath.Join(c.Dir, p)
	}
	return &p
}
