package config

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ayusman/tipstream/internal/tracking"
)

// setters maps a stored setting key to the field it overrides.
var setters = map[string]func(c *Config, value string) error{
	"tracking.mode": func(c *Config, v string) error {
		c.Tracking.Mode = tracking.Mode(v)
		return nil
	},
	"tracking.layout": func(c *Config, v string) error {
		c.Tracking.Layout = tracking.Layout(v)
		return nil
	},
	"tracking.process_noise":     floatSetter(func(c *Config) *float64 { return &c.Tracking.ProcessNoise }),
	"tracking.measurement_noise": floatSetter(func(c *Config) *float64 { return &c.Tracking.MeasurementNoise }),
	"tracking.padding":           intSetter(func(c *Config) *int { return &c.Tracking.Padding }),
	"tracking.seed_from_first": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Tracking.SeedFromFirst = b
		return nil
	},
	"detector.max_hands":      intSetter(func(c *Config) *int { return &c.Detector.MaxHands }),
	"detector.min_confidence": floatSetter(func(c *Config) *float64 { return &c.Detector.MinConfidence }),
	"transport.kind": func(c *Config, v string) error {
		c.Transport.Kind = v
		return nil
	},
	"transport.address": func(c *Config, v string) error {
		c.Transport.Address = v
		return nil
	},
	"transport.write_timeout": func(c *Config, v string) error {
		c.Transport.WriteTimeout = v
		return nil
	},
}

func floatSetter(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// SettingKeys returns the keys accepted by ApplySettings, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateSetting checks that key is known and that value, applied alone to
// the defaults, yields a valid configuration.
func ValidateSetting(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
	}
	cfg := Default()
	if err := set(cfg, value); err != nil {
		return fmt.Errorf("%w: setting %s: %w", ErrInvalid, key, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// ApplySettings overrides fields from stored settings and revalidates.
// Unknown keys are reported as errors and nothing is applied.
func (c *Config) ApplySettings(settings map[string]string) error {
	next := *c
	for key, value := range settings {
		set, ok := setters[key]
		if !ok {
			return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
		}
		if err := set(&next, value); err != nil {
			return fmt.Errorf("%w: setting %s: %w", ErrInvalid, key, err)
		}
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
