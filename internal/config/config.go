package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/andywolf/skillctx/internal/pins"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/spf13/viper"
)

// Config represents the full skillctx configuration
type Config struct {
	Roots         []RootConfig  `mapstructure:"roots"`
	Manifest      string        `mapstructure:"manifest"`
	ExtraDirs     []string      `mapstructure:"extra_dirs"`
	Cache         CacheConfig   `mapstructure:"cache"`
	Budget        BudgetConfig  `mapstructure:"budget"`
	Match         MatchConfig   `mapstructure:"match"`
	Pins          PinsConfig    `mapstructure:"pins"`
	History       HistoryConfig `mapstructure:"history"`
	State         StateConfig   `mapstructure:"state"`
	Watch         WatchConfig   `mapstructure:"watch"`
	IncludeMirror bool          `mapstructure:"include_mirror"`
	Diagnose      bool          `mapstructure:"diagnose"`
	EventsFile    string        `mapstructure:"events_file"`
}

// RootConfig describes one skill root
type RootConfig struct {
	ID       string   `mapstructure:"id"`
	Name     string   `mapstructure:"name"`
	Path     string   `mapstructure:"path"`
	Rank     int      `mapstructure:"rank"`
	Mirror   bool     `mapstructure:"mirror"`
	Optional bool     `mapstructure:"optional"`
	FoldCase bool     `mapstructure:"fold_case"`
	Ignore   []string `mapstructure:"ignore"`
}

// CacheConfig controls the discovery cache
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"` // 0 disables caching
}

// BudgetConfig controls the default byte budget
type BudgetConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"` // 0 means unbounded
}

// MatchConfig controls prompt matching
type MatchConfig struct {
	PrefixWindow int `mapstructure:"prefix_window"`
	MinTokenLen  int `mapstructure:"min_token_len"`
}

// PinsConfig controls default pins and auto-pinning
type PinsConfig struct {
	Defaults       []string `mapstructure:"defaults"`
	AutoPin        bool     `mapstructure:"auto_pin"`
	AutoPinCount   int      `mapstructure:"auto_pin_count"`
	AutoPinWindow  int      `mapstructure:"auto_pin_window"`
	AutoPinMinHits int      `mapstructure:"auto_pin_min_hits"`
}

// HistoryConfig controls the served-skill history
type HistoryConfig struct {
	Cap int `mapstructure:"cap"`
}

// StateConfig selects where pins and history persist
type StateConfig struct {
	Backend string `mapstructure:"backend"` // file or sqlite
	Dir     string `mapstructure:"dir"`
}

// WatchConfig controls the root watcher
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	// SQLiteFile is the database name used inside the state directory.
	SQLiteFile = "state.db"
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("match.prefix_window", 4096)
	v.SetDefault("match.min_token_len", 3)
	v.SetDefault("pins.auto_pin_count", pins.DefaultAutoPinCount)
	v.SetDefault("pins.auto_pin_window", pins.DefaultAutoPinWindow)
	v.SetDefault("pins.auto_pin_min_hits", pins.DefaultAutoPinMinHits)
	v.SetDefault("history.cap", pins.DefaultHistoryCap)
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.dir", "~/.skillctx")
	v.SetDefault("watch.debounce", "250ms")
}

// Load loads configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	cfg := &Config{}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// DefaultRoots are used when no roots are configured.
func DefaultRoots() []RootConfig {
	return []RootConfig{
		{ID: "codex", Name: "Codex skills", Path: "~/.codex/skills", Rank: 10},
		{ID: "mirror", Name: "Codex mirror", Path: "~/.codex/skills-mirror", Rank: 20, Mirror: true},
		{ID: "claude", Name: "Claude skills", Path: "~/.claude/skills", Rank: 30, Mirror: true},
	}
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if len(cfg.Roots) == 0 && cfg.Manifest == "" {
		cfg.Roots = DefaultRoots()
	}

	if cfg.Match.PrefixWindow == 0 {
		cfg.Match.PrefixWindow = 4096
	}

	if cfg.Match.MinTokenLen == 0 {
		cfg.Match.MinTokenLen = 3
	}

	if cfg.Pins.AutoPinCount == 0 {
		cfg.Pins.AutoPinCount = pins.DefaultAutoPinCount
	}

	if cfg.History.Cap == 0 {
		cfg.History.Cap = pins.DefaultHistoryCap
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendFile
	}

	if cfg.State.Dir == "" {
		cfg.State.Dir = "~/.skillctx"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 250 * time.Millisecond
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, r := range c.Roots {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("roots[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate root id: %s", id)
		}
		seen[id] = true
		if strings.TrimSpace(r.Path) == "" {
			return fmt.Errorf("root %s: path is required", id)
		}
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache.ttl: %s (must not be negative)", c.Cache.TTL)
	}

	if c.Budget.MaxBytes < 0 {
		return fmt.Errorf("invalid budget.max_bytes: %d (must not be negative)", c.Budget.MaxBytes)
	}

	if c.Match.PrefixWindow < 0 {
		return fmt.Errorf("invalid match.prefix_window: %d", c.Match.PrefixWindow)
	}

	if c.Match.MinTokenLen < 0 {
		return fmt.Errorf("invalid match.min_token_len: %d", c.Match.MinTokenLen)
	}

	if c.Pins.AutoPinCount < 0 || c.Pins.AutoPinWindow < 0 || c.Pins.AutoPinMinHits < 0 {
		return fmt.Errorf("auto-pin settings must not be negative")
	}

	if c.History.Cap < 0 {
		return fmt.Errorf("invalid history.cap: %d", c.History.Cap)
	}

	validBackends := map[string]bool{BackendFile: true, BackendSQLite: true}
	if !validBackends[c.State.Backend] {
		return fmt.Errorf("invalid state backend: %s (must be file or sqlite)", c.State.Backend)
	}

	return nil
}

// SkillRoots returns every root: extra dirs first (outranking all others in
// listed order), then configured roots, then roots from the manifest.
func (c *Config) SkillRoots() ([]skills.Root, error) {
	var configured []skills.Root
	for _, r := range c.Roots {
		configured = append(configured, skills.Root{
			ID:       strings.TrimSpace(r.ID),
			Name:     r.Name,
			Path:     skills.ExpandHome(r.Path),
			Rank:     r.Rank,
			Mirror:   r.Mirror,
			Optional: r.Optional,
			FoldCase: r.FoldCase,
			Ignore:   r.Ignore,
		})
	}

	if c.Manifest != "" {
		m, err := skills.LoadManifest(skills.ExpandHome(c.Manifest))
		if err != nil {
			return nil, err
		}
		fromManifest, err := m.SkillRoots()
		if err != nil {
			return nil, err
		}
		configured = append(configured, fromManifest...)
	}

	var extra []skills.Root
	if len(c.ExtraDirs) > 0 {
		base := 0
		for i, r := range configured {
			if i == 0 || r.Rank < base {
				base = r.Rank
			}
		}
		n := len(c.ExtraDirs)
		for i, dir := range c.ExtraDirs {
			extra = append(extra, skills.Root{
				ID:   fmt.Sprintf("extra%d", i+1),
				Name: filepath.Base(dir),
				Path: skills.ExpandHome(dir),
				Rank: base - n + i,
			})
		}
	}

	out := append(extra, configured...)
	seen := make(map[string]bool, len(out))
	for _, r := range out {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate root id: %s", r.ID)
		}
		seen[r.ID] = true
	}
	return out, nil
}

// PinConfig converts the pin and history settings.
func (c *Config) PinConfig() pins.Config {
	return pins.Config{
		HistoryCap:     c.History.Cap,
		AutoPinDefault: c.Pins.AutoPin,
		Defaults:       c.Pins.Defaults,
		AutoPin: pins.AutoPinOptions{
			Count:   c.Pins.AutoPinCount,
			Window:  c.Pins.AutoPinWindow,
			MinHits: c.Pins.AutoPinMinHits,
		},
	}
}

// StateDir returns the expanded state directory.
func (c *Config) StateDir() string {
	return skills.ExpandHome(c.State.Dir)
}

// OpenStore opens the configured persisted-state backend.
func (c *Config) OpenStore() (pins.Store, error) {
	switch c.State.Backend {
	case BackendSQLite:
		return pins.OpenSQLite(filepath.Join(c.StateDir(), SQLiteFile))
	case BackendFile, "":
		return pins.NewFileStore(c.StateDir()), nil
	default:
		return nil, fmt.Errorf("invalid state backend: %s", c.State.Backend)
	}
}
