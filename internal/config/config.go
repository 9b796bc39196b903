// Package config loads the pipeline configuration (YAML) and the XP/rank
// configuration (JSON, an external contract shared with the bot and
// website).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the pipeline configuration file.
type Config struct {
	// StatsDirs are scanned for match workbooks (*.xlsx, excluding
	// *_identity.xlsx). Later directories do not shadow earlier ones; the
	// first occurrence of a filename wins.
	StatsDirs []string `yaml:"stats_dirs"`
	// IdentityDir holds the per-session identity manifests. Defaults to the
	// first stats dir.
	IdentityDir string `yaml:"identity_dir"`
	// OutputDir receives all JSON snapshot outputs.
	OutputDir string `yaml:"output_dir"`
	// RegistryFile is the persistent player registry (players.json).
	RegistryFile string `yaml:"registry_file"`
	// ArchivePath is the sqlite archive database.
	ArchivePath string `yaml:"archive_path"`

	// ClassifierStrategy is "structural" (default) or "session".
	ClassifierStrategy string `yaml:"classifier_strategy"`
	// SessionsFile holds scheduler session records for the session strategy.
	SessionsFile string `yaml:"sessions_file"`
	// SessionUTCOffsetHours converts scheduler UTC timestamps to the match
	// files' local wall-clock time (e.g. -5 for EST).
	SessionUTCOffsetHours int `yaml:"session_utc_offset_hours"`

	ManualPlaylistsFile string `yaml:"manual_playlists_file"`
	ManualUnrankedFile  string `yaml:"manual_unranked_file"`
	XPConfigFile        string `yaml:"xp_config_file"`

	// LegacyNameFallback enables the profile-alias and display-name
	// resolution strategies in addition to the address path.
	LegacyNameFallback bool `yaml:"legacy_name_fallback"`
}

// Load reads and validates the pipeline config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if len(cfg.StatsDirs) == 0 {
		return nil, fmt.Errorf("config: stats_dirs is required")
	}
	switch cfg.ClassifierStrategy {
	case "structural", "session":
	default:
		return nil, fmt.Errorf("config: unknown classifier_strategy %q", cfg.ClassifierStrategy)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.OutputDir == "" {
		c.OutputDir = baseDir
	}
	if c.IdentityDir == "" && len(c.StatsDirs) > 0 {
		c.IdentityDir = c.StatsDirs[0]
	}
	if c.RegistryFile == "" {
		c.RegistryFile = filepath.Join(c.OutputDir, "players.json")
	}
	if c.ArchivePath == "" {
		c.ArchivePath = filepath.Join(c.OutputDir, "archive.db")
	}
	if c.ClassifierStrategy == "" {
		c.ClassifierStrategy = "structural"
	}
	if c.ManualPlaylistsFile == "" {
		c.ManualPlaylistsFile = filepath.Join(c.OutputDir, "manual_playlists.json")
	}
	if c.ManualUnrankedFile == "" {
		c.ManualUnrankedFile = filepath.Join(c.OutputDir, "manual_unranked.json")
	}
	if c.XPConfigFile == "" {
		c.XPConfigFile = filepath.Join(c.OutputDir, "xp_config.json")
	}
}

// XPConfig drives the ranking replay: base XP amounts, the 50-tier
// threshold table, and the per-rank damping factor tables.
type XPConfig struct {
	// GameWin is the base XP for a win (positive).
	GameWin int `json:"game_win"`
	// GameLoss is the base XP for a loss (negative).
	GameLoss int `json:"game_loss"`
	// RankThresholds maps rank tier ("1".."50") to its inclusive [min, max]
	// XP band.
	RankThresholds map[string][2]int `json:"rank_thresholds"`
	// WinFactors damp win XP above rank 40 (keyed by rank).
	WinFactors map[string]float64 `json:"win_factors"`
	// LossFactors damp loss XP below rank 30 (keyed by rank).
	LossFactors map[string]float64 `json:"loss_factors"`
}

// LoadXP reads and validates the XP config. A missing or structurally
// invalid XP config aborts the run: XP math cannot degrade to defaults.
func LoadXP(path string) (*XPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xp config: %w", err)
	}
	var cfg XPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse xp config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("xp config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the structural invariants the replay engine depends on.
func (c *XPConfig) Validate() error {
	if c.GameWin <= 0 {
		return fmt.Errorf("game_win must be positive, got %d", c.GameWin)
	}
	if c.GameLoss >= 0 {
		return fmt.Errorf("game_loss must be negative, got %d", c.GameLoss)
	}
	if len(c.RankThresholds) == 0 {
		return fmt.Errorf("rank_thresholds is empty")
	}
	prevMax := -1
	for rank := 1; rank <= 50; rank++ {
		band, ok := c.RankThresholds[fmt.Sprintf("%d", rank)]
		if !ok {
			continue
		}
		if band[0] > band[1] {
			return fmt.Errorf("rank %d: min %d > max %d", rank, band[0], band[1])
		}
		if band[0] <= prevMax {
			return fmt.Errorf("rank %d: band overlaps previous tier", rank)
		}
		prevMax = band[1]
	}
	return nil
}
