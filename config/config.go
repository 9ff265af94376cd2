package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		URI string `yaml:"uri"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Gemini struct {
		ApiKey string `yaml:"apiKey"`
	} `yaml:"gemini"`

	JWT struct {
		Secret string `yaml:"secret"`
		Expiry int    `yaml:"expiry"` // minutes
	} `yaml:"jwt"`

	Judge JudgeConfig `yaml:"judge"`

	Duel DuelConfig `yaml:"duel"`
}

// JudgeConfig points at the external code execution service.
type JudgeConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// DuelConfig tunes session timing and the AI opponent.
type DuelConfig struct {
	TimeLimitMinutes   map[string]int `yaml:"timeLimitMinutes"` // per difficulty
	AISolveSeconds     map[string]int `yaml:"aiSolveSeconds"`   // per difficulty
	MaxScoringAttempts int            `yaml:"maxScoringAttempts"`
	WaitingGraceSecs   int            `yaml:"waitingGraceSeconds"`
	TestRunsPerMinute  int            `yaml:"testRunsPerMinute"`
}

// LoadConfig reads the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	cfg.Duel.applyDefaults()
	return &cfg, nil
}

func (d *DuelConfig) applyDefaults() {
	if d.TimeLimitMinutes == nil {
		d.TimeLimitMinutes = map[string]int{"easy": 20, "medium": 30, "hard": 45}
	}
	if d.AISolveSeconds == nil {
		d.AISolveSeconds = map[string]int{"easy": 240, "medium": 420, "hard": 600}
	}
	if d.MaxScoringAttempts == 0 {
		d.MaxScoringAttempts = 5
	}
	if d.WaitingGraceSecs == 0 {
		d.WaitingGraceSecs = 60
	}
	if d.TestRunsPerMinute == 0 {
		d.TestRunsPerMinute = 10
	}
}

// TimeLimitFor returns the duel clock for a difficulty, defaulting to 30m.
func (d *DuelConfig) TimeLimitFor(difficulty string) time.Duration {
	if mins, ok := d.TimeLimitMinutes[difficulty]; ok && mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return 30 * time.Minute
}

// AISolveDurationFor returns how long the synthetic opponent takes to reach
// full progress for a difficulty, defaulting to 7m.
func (d *DuelConfig) AISolveDurationFor(difficulty string) time.Duration {
	if secs, ok := d.AISolveSeconds[difficulty]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 7 * time.Minute
}
