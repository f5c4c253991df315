// Package session runs the probe, observe, decide experiment loop: it
// wires the probe library, baseline calibrator, response analyzer,
// selection policy and sequential test around a transmit/receive
// channel and records every iteration.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of an experiment session. Validation is
// strict: out-of-range values fail instead of being clamped, so a typo
// in a config file cannot silently run a different experiment.
type Config struct {
	SPRTAlpha             float64 `json:"sprt_alpha" yaml:"sprt_alpha"`
	SPRTBeta              float64 `json:"sprt_beta" yaml:"sprt_beta"`
	MaxIterations         int     `json:"max_iterations" yaml:"max_iterations"`
	ProbeDuration         float64 `json:"probe_duration_sec" yaml:"probe_duration_sec"`
	ListenDuration        float64 `json:"listen_duration_sec" yaml:"listen_duration_sec"`
	InterProbeDelay       float64 `json:"inter_probe_delay_sec" yaml:"inter_probe_delay_sec"`
	CarrierFreq           float64 `json:"carrier_freq_hz" yaml:"carrier_freq_hz"`
	CenterFreqOffset      float64 `json:"center_freq_offset_hz" yaml:"center_freq_offset_hz"`
	SampleRate            int     `json:"sample_rate" yaml:"sample_rate"`
	TxGain                int     `json:"tx_gain" yaml:"tx_gain"`
	RxGain                int     `json:"rx_gain" yaml:"rx_gain"`
	AnomalyThresholdSigma float64 `json:"anomaly_threshold_sigma" yaml:"anomaly_threshold_sigma"`
	BaselineSampleCount   int     `json:"baseline_sample_count" yaml:"baseline_sample_count"`
	ProbeLibrarySeed      int64   `json:"probe_library_seed" yaml:"probe_library_seed"`
}

func DefaultConfig() Config {
	return Config{
		SPRTAlpha:             0.01,
		SPRTBeta:              0.01,
		MaxIterations:         100,
		ProbeDuration:         5.0,
		ListenDuration:        15.0,
		InterProbeDelay:       10.0,
		CarrierFreq:           433.92e6,
		SampleRate:            2_000_000,
		TxGain:                30,
		RxGain:                40,
		AnomalyThresholdSigma: 3.0,
		BaselineSampleCount:   5,
	}
}

// LoadConfig reads a yaml or json config file over the defaults. An
// empty path returns defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SPRTAlpha <= 0 || c.SPRTAlpha >= 1 {
		return fmt.Errorf("sprt_alpha must be in (0,1), got %v", c.SPRTAlpha)
	}
	if c.SPRTBeta <= 0 || c.SPRTBeta >= 1 {
		return fmt.Errorf("sprt_beta must be in (0,1), got %v", c.SPRTBeta)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ProbeDuration <= 0 {
		return fmt.Errorf("probe_duration_sec must be positive, got %v", c.ProbeDuration)
	}
	if c.ListenDuration <= 0 {
		return fmt.Errorf("listen_duration_sec must be positive, got %v", c.ListenDuration)
	}
	if c.InterProbeDelay < 0 {
		return fmt.Errorf("inter_probe_delay_sec must not be negative, got %v", c.InterProbeDelay)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.AnomalyThresholdSigma <= 0 {
		return fmt.Errorf("anomaly_threshold_sigma must be positive, got %v", c.AnomalyThresholdSigma)
	}
	if c.BaselineSampleCount < 2 {
		return fmt.Errorf("baseline_sample_count must be at least 2, got %d", c.BaselineSampleCount)
	}
	return nil
}
