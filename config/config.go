// Package config holds the user-tunable options of the analyzer, loaded from
// an optional mpirace.yml file.
package config

import (
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

type Config struct {
	// SafeExternals extends the built-in list of external functions assumed
	// to neither message nor synchronize.
	SafeExternals []string `yaml:"safeExternals"`
	// ReportFile, when set, receives a markdown (or HTML) conflict report.
	ReportFile string `yaml:"reportFile"`
	// HTMLReport renders ReportFile as HTML instead of markdown.
	HTMLReport bool `yaml:"htmlReport"`
}

func Default() *Config {
	return &Config{}
}

func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
