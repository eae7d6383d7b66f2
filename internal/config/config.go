// Package config holds the decoder configuration file format.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config describes a decoder: its models, feature weights and search beam.
type Config struct {
	Threads         int  `yaml:"threads" validate:"min=1"`
	TopN            int  `yaml:"top_n" validate:"min=1"`
	Unique          bool `yaml:"unique"`
	IncludeFeatures bool `yaml:"include_features"`
	IncludeTree     bool `yaml:"include_tree"`
	LegacyNegate    bool `yaml:"legacy_negate"`
	TrueOOVsOnly    bool `yaml:"true_oovs_only"`
	Lowercase       bool `yaml:"lowercase"`
	Glue            bool `yaml:"glue"`

	Search   Search    `yaml:"search"`
	Grammars []Grammar `yaml:"grammars" validate:"unique=Name,dive"`
	LMs      []LM      `yaml:"lms" validate:"unique=Name,dive"`

	Weights     map[string]float64 `yaml:"weights"`
	WeightsFile string             `yaml:"weights_file"`

	Server Server `yaml:"server"`

	// Dir is the directory relative paths resolve against; the config
	// file's directory when loaded from disk.
	Dir string `yaml:"-"`
}

// Search bounds the chart search. Zero disables a bound.
type Search struct {
	MaxItems              int     `yaml:"max_items" validate:"min=0"`
	RelativeThreshold     float64 `yaml:"relative_threshold" validate:"min=0"`
	MaxRules              int     `yaml:"max_rules" validate:"min=0"`
	RuleRelativeThreshold float64 `yaml:"rule_relative_threshold" validate:"min=0"`
	GoalSymbol            string  `yaml:"goal_symbol" validate:"required,startswith=[,endswith=]"`
	DefaultNonterminal    string  `yaml:"default_nonterminal" validate:"required,startswith=[,endswith=]"`
}

// Grammar is one rule file. Its dense features are named tm_<Name>_<i>.
type Grammar struct {
	Name      string `yaml:"name" validate:"required"`
	Path      string `yaml:"path" validate:"required"`
	SpanLimit int    `yaml:"span_limit" validate:"min=0"`
}

// LM is one n-gram language model, read from an ARPA file or opened from a
// store built with "werger lm build".
type LM struct {
	Name  string `yaml:"name" validate:"required"`
	Path  string `yaml:"path" validate:"required_without=Store"`
	Store string `yaml:"store" validate:"required_without=Path"`
	// Order truncates the model when positive.
	Order int `yaml:"order" validate:"min=0"`
}

// Server configures "werger serve".
type Server struct {
	Addr     string  `yaml:"addr" validate:"required"`
	MaxConns int     `yaml:"max_conns" validate:"min=0"`
	Rate     float64 `yaml:"rate" validate:"min=0"`
	Burst    int     `yaml:"burst" validate:"min=0"`
}

// Default returns a configuration with no models and the usual beam.
func Default() *Config {
	return &Config{
		Threads:      1,
		TopN:         1,
		Unique:       true,
		TrueOOVsOnly: true,
		Glue:         true,
		Search: Search{
			MaxItems:              100,
			RelativeThreshold:     10,
			MaxRules:              50,
			RuleRelativeThreshold: 10,
			GoalSymbol:            "[S]",
			DefaultNonterminal:    "[X]",
		},
		Weights: map[string]float64{},
		Server: Server{
			Addr:     ":5674",
			MaxConns: 64,
			Rate:     50,
			Burst:    100,
		},
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML config text over the defaults. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Weights == nil {
		cfg.Weights = map[string]float64{}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WERGER_THREADS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Threads = i
		}
	}
	if v := os.Getenv("WERGER_TOP_N"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.TopN = i
		}
	}
	if v := os.Getenv("WERGER_MAX_ITEMS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxItems = i
		}
	}
	if v := os.Getenv("WERGER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
