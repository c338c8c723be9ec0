package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"multikobo/cmdbuf"
	"multikobo/coord"
	"multikobo/session"
	"multikobo/spotter"
)

const (
	SETTINGS_VERSION = 1

	settingsName     = "settings"
	settingsType     = "toml"
	settingsFile     = settingsName + "." + settingsType
	settingsTempFile = ".settings-*.toml.tmp"
	envPrefix        = "KOBO"
)

type settings struct {
	Version int `mapstructure:"version"`

	// Host skips discovery when set.
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DiscoveryPort int    `mapstructure:"discovery_port"`

	Revision    string `mapstructure:"revision"`
	WorldWidth  int    `mapstructure:"world_width"`
	WorldHeight int    `mapstructure:"world_height"`
	ChunkSize   int    `mapstructure:"chunk_size"`

	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`

	Fullscreen    bool   `mapstructure:"fullscreen"`
	Notifications bool   `mapstructure:"notifications"`
	DebugAddr     string `mapstructure:"debug_addr"`
}

// The zero world and chunk size defer to the protocol revision.
var gsdef = settings{
	Version:         SETTINGS_VERSION,
	Port:            session.DefaultPort,
	DiscoveryPort:   spotter.DefaultPort,
	Revision:        cmdbuf.RevisionFinal.String(),
	LivenessTimeout: 4 * time.Second,
	SweepInterval:   500 * time.Millisecond,
	TickInterval:    time.Second / 60,
	Notifications:   true,
}

// settingsFileSchema is the on-disk form. Durations are written as strings
// so the file stays hand editable.
type settingsFileSchema struct {
	Version         int    `toml:"version"`
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	DiscoveryPort   int    `toml:"discovery_port"`
	Revision        string `toml:"revision"`
	WorldWidth      int    `toml:"world_width"`
	WorldHeight     int    `toml:"world_height"`
	ChunkSize       int    `toml:"chunk_size"`
	LivenessTimeout string `toml:"liveness_timeout"`
	SweepInterval   string `toml:"sweep_interval"`
	TickInterval    string `toml:"tick_interval"`
	Fullscreen      bool   `toml:"fullscreen"`
	Notifications   bool   `toml:"notifications"`
	DebugAddr       string `toml:"debug_addr,omitempty"`
}

func (s settings) schema() settingsFileSchema {
	return settingsFileSchema{
		Version:         s.Version,
		Host:            s.Host,
		Port:            s.Port,
		DiscoveryPort:   s.DiscoveryPort,
		Revision:        s.Revision,
		WorldWidth:      s.WorldWidth,
		WorldHeight:     s.WorldHeight,
		ChunkSize:       s.ChunkSize,
		LivenessTimeout: s.LivenessTimeout.String(),
		SweepInterval:   s.SweepInterval.String(),
		TickInterval:    s.TickInterval.String(),
		Fullscreen:      s.Fullscreen,
		Notifications:   s.Notifications,
		DebugAddr:       s.DebugAddr,
	}
}

// dataDirPath holds settings. It defaults to a data directory beside the
// executable and can be moved with --data.
var dataDirPath = func() string {
	if exe, err := os.Executable(); err == nil {
		if dir, err := filepath.Abs(filepath.Dir(exe)); err == nil {
			return filepath.Join(dir, "data")
		}
	}
	return "data"
}()

func setDefaults(v *viper.Viper) {
	d := gsdef
	v.SetDefault("version", d.Version)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("discovery_port", d.DiscoveryPort)
	v.SetDefault("revision", d.Revision)
	v.SetDefault("world_width", d.WorldWidth)
	v.SetDefault("world_height", d.WorldHeight)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("liveness_timeout", d.LivenessTimeout)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("tick_interval", d.TickInterval)
	v.SetDefault("fullscreen", d.Fullscreen)
	v.SetDefault("notifications", d.Notifications)
	v.SetDefault("debug_addr", d.DebugAddr)
}

// loadSettings reads settings.toml from dir, then KOBO_* environment
// variables, then any flags that were set. A file written by a different
// settings version is ignored. It reports whether the file was used.
func loadSettings(dir string, flags *pflag.FlagSet) (settings, bool, error) {
	v := viper.New()
	v.SetConfigName(settingsName)
	v.SetConfigType(settingsType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	loaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return gsdef, false, fmt.Errorf("read settings: %w", err)
		}
		loaded = false
	}
	if loaded && v.GetInt("version") != SETTINGS_VERSION {
		logWarn("settings: %s has version %d, want %d; using defaults",
			v.ConfigFileUsed(), v.GetInt("version"), SETTINGS_VERSION)
		v = viper.New()
		v.SetEnvPrefix(envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()
		setDefaults(v)
		loaded = false
	}
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return gsdef, false, err
		}
	}

	s := gsdef
	if err := v.Unmarshal(&s); err != nil {
		return gsdef, false, fmt.Errorf("decode settings: %w", err)
	}
	s.Version = SETTINGS_VERSION
	if err := s.validate(); err != nil {
		return gsdef, false, err
	}
	return s, loaded, nil
}

// bindFlags maps --world-width style flags onto world_width keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isSettingKey(key) {
			return
		}
		if e := v.BindPFlag(key, f); e != nil && err == nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, e)
		}
	})
	return err
}

func isSettingKey(key string) bool {
	switch key {
	case "host", "port", "discovery_port", "revision", "world_width", "world_height",
		"chunk_size", "liveness_timeout", "sweep_interval", "tick_interval",
		"fullscreen", "notifications", "debug_addr":
		return true
	}
	return false
}

func (s settings) validate() error {
	if _, err := cmdbuf.ParseRevision(s.Revision); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if _, err := s.world(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if s.Port <= 0 || s.Port > 0xffff {
		return fmt.Errorf("settings: port %d out of range", s.Port)
	}
	if s.DiscoveryPort <= 0 || s.DiscoveryPort > 0xffff {
		return fmt.Errorf("settings: discovery_port %d out of range", s.DiscoveryPort)
	}
	if s.ChunkSize < 0 {
		return fmt.Errorf("settings: chunk_size %d is negative", s.ChunkSize)
	}
	return nil
}

func (s settings) revision() cmdbuf.Revision {
	rev, err := cmdbuf.ParseRevision(s.Revision)
	if err != nil {
		return cmdbuf.RevisionFinal
	}
	return rev
}

// world is the configured world, or the revision's when unset.
func (s settings) world() (coord.World, error) {
	w, h := s.WorldWidth, s.WorldHeight
	if w == 0 && h == 0 {
		n := s.revision().WorldSize()
		w, h = n, n
	}
	return coord.NewWorld(w, h)
}

func (s settings) chunkSize() int {
	if s.ChunkSize > 0 {
		return s.ChunkSize
	}
	return s.revision().ChunkSize()
}

func (s settings) serverAddr(host string) string {
	return fmt.Sprintf("%s:%d", host, s.Port)
}

func encodeSettings(s settings) ([]byte, error) {
	data, err := toml.Marshal(s.schema())
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return data, nil
}

// saveSettings writes s to dir through a temp file and rename.
func saveSettings(dir string, s settings) error {
	data, err := encodeSettings(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, settingsTempFile)
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, settingsFile)); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	cleanup = false
	return nil
}
