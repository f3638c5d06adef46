/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"fmt"
	"os"
	"strings"

	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
	"gopkg.in/yaml.v3"
)

// Names are the display names used when an event carries neither a name nor
// a serialized component id.
type Names struct {
	Chain      string `yaml:"chain"`
	Generation string `yaml:"generation"`
	Tool       string `yaml:"tool"`
	Retriever  string `yaml:"retriever"`
}

// Config tunes how events are shaped into spans.
type Config struct {
	// NoiseFilter lists lowercase substrings of chain names that are never traced.
	NoiseFilter []string `yaml:"noise_filter"`
	// ModelParameters lists the invocation parameters recorded on generation spans.
	ModelParameters []string `yaml:"model_parameters"`
	Names           Names    `yaml:"names"`
	// DuplicatePolicy is "overwrite" or "reject".
	DuplicatePolicy string `yaml:"duplicate_policy"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		NoiseFilter: []string{"runnablelambda", "runnablemap", "toolcallingagentoutputparser"},
		ModelParameters: []string{
			"temperature", "max_tokens", "top_p",
			"frequency_penalty", "presence_penalty", "request_timeout",
		},
		Names: Names{
			Chain:      "Langchain Run",
			Generation: "Langchain Generation",
			Tool:       "Tool execution",
			Retriever:  "Retriever",
		},
		DuplicatePolicy: agenttrace.Overwrite.String(),
	}
}

// ParseConfig overlays YAML onto DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing handler config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML handler configuration from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading handler config: %w", err)
	}
	return ParseConfig(data)
}

func (c *Config) normalize() error {
	for i, f := range c.NoiseFilter {
		c.NoiseFilter[i] = strings.ToLower(f)
	}
	def := DefaultConfig().Names
	if c.Names.Chain == "" {
		c.Names.Chain = def.Chain
	}
	if c.Names.Generation == "" {
		c.Names.Generation = def.Generation
	}
	if c.Names.Tool == "" {
		c.Names.Tool = def.Tool
	}
	if c.Names.Retriever == "" {
		c.Names.Retriever = def.Retriever
	}
	if _, err := c.duplicatePolicy(); err != nil {
		return err
	}
	return nil
}

func (c Config) duplicatePolicy() (agenttrace.DuplicatePolicy, error) {
	switch strings.ToLower(c.DuplicatePolicy) {
	case "", "overwrite":
		return agenttrace.Overwrite, nil
	case "reject":
		return agenttrace.Reject, nil
	default:
		return 0, fmt.Errorf("unknown duplicate_policy %q", c.DuplicatePolicy)
	}
}

// filtered reports whether a chain with this name is internal plumbing.
func (c Config) filtered(name string) bool {
	lower := strings.ToLower(name)
	for _, f := range c.NoiseFilter {
		if f != "" && strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
