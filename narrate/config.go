package narrate

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains narration and queue behavior options.
type Config struct {
	// Voice settings carried on every narration request.
	Voice  string  `yaml:"voice" env:"READALOUD_VOICE" envDefault:"default"`
	Rate   float64 `yaml:"rate" env:"READALOUD_RATE" envDefault:"1.0"`
	Pitch  float64 `yaml:"pitch" env:"READALOUD_PITCH" envDefault:"1.0"`
	Volume float64 `yaml:"volume" env:"READALOUD_VOLUME" envDefault:"1.0"`

	// AutoProgress advances across section boundaries without user action.
	AutoProgress bool `yaml:"auto_progress" env:"READALOUD_AUTO_PROGRESS" envDefault:"true"`

	// LoopMode wraps from the last element back to the first.
	LoopMode bool `yaml:"loop_mode" env:"READALOUD_LOOP_MODE" envDefault:"false"`

	// ScrollSettleDelay is how long auto-progression waits after asking
	// the host to scroll before continuing. This is a fixed wait, not an
	// event signal: if the scroll animation outlasts it, narration of the
	// next section starts before the scroll has settled.
	ScrollSettleDelay time.Duration `yaml:"scroll_settle_delay" env:"READALOUD_SCROLL_SETTLE_DELAY" envDefault:"400ms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Voice:             "default",
		Rate:              1.0,
		Pitch:             1.0,
		Volume:            1.0,
		AutoProgress:      true,
		LoopMode:          false,
		ScrollSettleDelay: 400 * time.Millisecond,
	}
}

// LoadConfig builds a Config from defaults overridden by environment
// variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges. It is the only place configuration
// problems surface synchronously.
func (c Config) Validate() error {
	if c.Rate <= 0 || c.Rate > 4.0 {
		return fmt.Errorf("%w: rate %.2f out of range (0, 4]", ErrInvalidConfig, c.Rate)
	}
	if c.Pitch <= 0 || c.Pitch > 2.0 {
		return fmt.Errorf("%w: pitch %.2f out of range (0, 2]", ErrInvalidConfig, c.Pitch)
	}
	if c.Volume < 0 || c.Volume > 1.0 {
		return fmt.Errorf("%w: volume %.2f out of range [0, 1]", ErrInvalidConfig, c.Volume)
	}
	if c.ScrollSettleDelay < 0 {
		return fmt.Errorf("%w: negative scroll settle delay", ErrInvalidConfig)
	}
	return nil
}

// EngineConfig derives engine voice parameters from the config.
func (c Config) EngineConfig() EngineConfig {
	return EngineConfig{
		Voice:  c.Voice,
		Rate:   c.Rate,
		Pitch:  c.Pitch,
		Volume: c.Volume,
	}
}

// ConfigPatch is a partial configuration update. Nil fields keep their
// current values. Patches affect subsequent narration requests, not the
// one in flight.
type ConfigPatch struct {
	Voice             *string
	Rate              *float64
	Pitch             *float64
	Volume            *float64
	AutoProgress      *bool
	LoopMode          *bool
	ScrollSettleDelay *time.Duration
}

// apply merges the patch into a config.
func (p ConfigPatch) apply(c *Config) {
	if p.Voice != nil {
		c.Voice = *p.Voice
	}
	if p.Rate != nil {
		c.Rate = *p.Rate
	}
	if p.Pitch != nil {
		c.Pitch = *p.Pitch
	}
	if p.Volume != nil {
		c.Volume = *p.Volume
	}
	if p.AutoProgress != nil {
		c.AutoProgress = *p.AutoProgress
	}
	if p.LoopMode != nil {
		c.LoopMode = *p.LoopMode
	}
	if p.ScrollSettleDelay != nil {
		c.ScrollSettleDelay = *p.ScrollSettleDelay
	}
}
