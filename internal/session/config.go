package session

import (
	"math"
	"strings"
)

// DefaultMaxCandidates bounds decode-with-metadata calls that do not pass a limit.
const DefaultMaxCandidates = 3

// Config enumerates every option accepted by Session.Init.
type Config struct {
	// Model is the path of the acoustic model. Required.
	Model string `mapstructure:"model" yaml:"model" json:"model"`
	// Scorer is the path of an optional external scorer.
	Scorer string `mapstructure:"scorer" yaml:"scorer" json:"scorer,omitempty"`
	// BeamWidth overrides the engine default when positive.
	BeamWidth int `mapstructure:"beam_width" yaml:"beam_width" json:"beamWidth,omitempty"`
	// Alpha and Beta are the scorer weights, applied only if at least one is non-zero.
	Alpha float32 `mapstructure:"alpha" yaml:"alpha" json:"alpha,omitempty"`
	Beta  float32 `mapstructure:"beta" yaml:"beta" json:"beta,omitempty"`
	// HotWords are boosted right after the model loads.
	HotWords map[string]float32 `mapstructure:"hot_words" yaml:"hot_words" json:"hotWords,omitempty"`
}

// Validate checks the shape of the configuration without touching the engine.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return &ConfigError{Field: "model", Reason: "should be a non-empty path"}
	}
	if c.BeamWidth < 0 {
		return &ConfigError{Field: "beamWidth", Reason: "should be a positive integer"}
	}
	if !finite(c.Alpha) {
		return &ConfigError{Field: "alpha", Reason: "should be a finite number"}
	}
	if !finite(c.Beta) {
		return &ConfigError{Field: "beta", Reason: "should be a finite number"}
	}
	for word, boost := range c.HotWords {
		if strings.TrimSpace(word) == "" {
			return &ConfigError{Field: "hotWords", Reason: "should not contain blank words"}
		}
		if !finite(boost) {
			return &ConfigError{Field: "hotWords." + word, Reason: "should be a finite number"}
		}
	}
	return nil
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func (c Config) scorerWeights() bool { return c.Alpha != 0 || c.Beta != 0 }
