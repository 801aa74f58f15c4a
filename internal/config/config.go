package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/obiente/translate/luaspeech/internal/session"
)

// EnvPrefix namespaces every environment variable, e.g. LUASPEECH_MODEL_PATH.
const EnvPrefix = "LUASPEECH"

// ConfigFileEnv names the variable holding an optional YAML or JSON config file.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

type Config struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`

	Backend  string `mapstructure:"backend"`
	Threads  int    `mapstructure:"threads"`
	Language string `mapstructure:"language"`

	ModelPath     string             `mapstructure:"model_path"`
	ScorerPath    string             `mapstructure:"scorer_path"`
	BeamWidth     int                `mapstructure:"beam_width"`
	LMAlpha       float32            `mapstructure:"lm_alpha"`
	LMBeta        float32            `mapstructure:"lm_beta"`
	HotWords      map[string]float32 `mapstructure:"hot_words"`
	HotWordsFile  string             `mapstructure:"hot_words_file"`
	MaxCandidates int                `mapstructure:"max_candidates"`

	TranslationBaseURL    string `mapstructure:"translation_base_url"`
	TranslationEnabled    bool   `mapstructure:"translation_enabled"`
	TranslationTimeoutSec int    `mapstructure:"translation_timeout"`
}

var defaults = map[string]any{
	"addr":                 ":8080",
	"log_level":            "info",
	"backend":              "reference",
	"threads":              0,
	"language":             "",
	"model_path":           "./models/model.pbmm",
	"scorer_path":          "",
	"beam_width":           0,
	"lm_alpha":             0,
	"lm_beta":              0,
	"hot_words":            map[string]float32{},
	"hot_words_file":       "",
	"max_candidates":       session.DefaultMaxCandidates,
	"translation_base_url": "https://libretranslate.obiente.cloud",
	"translation_enabled":  false,
	"translation_timeout":  8,
}

// Loader resolves configuration from defaults, an optional config file, the
// environment and command line flags, in increasing order of precedence.
type Loader struct {
	// ConfigFile overrides LUASPEECH_CONFIG.
	ConfigFile string
	// EnvFiles are loaded into the environment first. Missing files are
	// skipped and variables already set are kept.
	EnvFiles []string
	// Flags whose names match a key (dashes for underscores) override it
	// when set on the command line.
	Flags *pflag.FlagSet
}

// Load reads the configuration with default sources: .env in the working
// directory and the process environment.
func Load() (Config, error) {
	return Loader{EnvFiles: []string{".env"}}.Load()
}

func (l Loader) Load() (Config, error) {
	for _, f := range l.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := l.ConfigFile
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if l.Flags != nil {
		var bindErr error
		l.Flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; known && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the commands cannot run with and fills in zero
// values that have a sensible default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = "reference"
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0 (got %d)", c.Threads)
	}
	if c.BeamWidth < 0 {
		return fmt.Errorf("config: beam_width must be >= 0 (got %d)", c.BeamWidth)
	}
	if c.MaxCandidates < 0 {
		return fmt.Errorf("config: max_candidates must be >= 0 (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = session.DefaultMaxCandidates
	}
	if c.TranslationTimeoutSec <= 0 {
		c.TranslationTimeoutSec = 8
	}
	return nil
}

// Level is the parsed log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Session builds the session configuration, merging hot words from
// HotWordsFile over those set inline.
func (c Config) Session() (session.Config, error) {
	cfg := session.Config{
		Model:     c.ModelPath,
		Scorer:    c.ScorerPath,
		BeamWidth: c.BeamWidth,
		Alpha:     c.LMAlpha,
		Beta:      c.LMBeta,
	}
	words := make(map[string]float32, len(c.HotWords))
	for w, b := range c.HotWords {
		words[w] = b
	}
	if c.HotWordsFile != "" {
		fromFile, err := LoadHotWords(c.HotWordsFile)
		if err != nil {
			return session.Config{}, err
		}
		for w, b := range fromFile {
			words[w] = b
		}
	}
	if len(words) > 0 {
		cfg.HotWords = words
	}
	return cfg, cfg.Validate()
}

// LoadHotWords reads a YAML mapping of word to boost.
func LoadHotWords(path string) (map[string]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: hot words: %w", err)
	}
	var words map[string]float32
	if err := yaml.Unmarshal(raw, &words); err != nil {
		return nil, fmt.Errorf("config: hot words %s: %w", path, err)
	}
	return words, nil
}
