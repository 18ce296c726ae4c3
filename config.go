/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-appkit/config"
)

// DefaultCfgKeyPrefix is the default key prefix under which the configuration
// parameters are expected by config.Loader.
const DefaultCfgKeyPrefix = "rateLimit"

// LimitValue represents a request budget in the "N/<window>" form,
// for example "5/15m", "30/s", "3/24h", "10/900s".
type LimitValue struct {
	Count  int
	Window time.Duration
}

// String returns a string representation of the limit value.
// Implements fmt.Stringer interface.
func (lv LimitValue) String() string {
	if lv.Count == 0 && lv.Window == 0 {
		return ""
	}
	var w string
	switch lv.Window {
	case time.Second:
		w = "s"
	case time.Minute:
		w = "m"
	case time.Hour:
		w = "h"
	default:
		w = lv.Window.String()
	}
	return fmt.Sprintf("%d/%s", lv.Count, w)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (lv *LimitValue) UnmarshalText(text []byte) error {
	return lv.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (lv *LimitValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return lv.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (lv *LimitValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return lv.unmarshal(text)
}

func (lv *LimitValue) unmarshal(limit string) error {
	if limit == "" {
		*lv = LimitValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for limit %q, should be N/<window>, for example 10/s, 100/m, 5/15m, 3/24h", limit)
	parts := strings.SplitN(limit, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return incorrectFormatErr
	}
	var window time.Duration
	switch w := strings.TrimSpace(parts[1]); strings.ToLower(w) {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		if window, err = time.ParseDuration(w); err != nil {
			return incorrectFormatErr
		}
	}
	*lv = LimitValue{Count: count, Window: window}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (lv LimitValue) MarshalText() ([]byte, error) {
	return []byte(lv.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (lv LimitValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(lv.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (lv LimitValue) MarshalYAML() (interface{}, error) {
	return lv.String(), nil
}

// ProfileConfig represents a configuration of a single throttling profile.
type ProfileConfig struct {
	// Limit is the request budget in the "N/<window>" form.
	Limit LimitValue `mapstructure:"limit" yaml:"limit" json:"limit"`

	// KeyPrefix namespaces the profile's buckets in the store.
	// Must be non-empty and unique across profiles.
	KeyPrefix string `mapstructure:"keyPrefix" yaml:"keyPrefix" json:"keyPrefix"`

	// IdentifiedBy determines how clients are bucketed: "ip" (default) or "session".
	IdentifiedBy Mode `mapstructure:"identifiedBy" yaml:"identifiedBy" json:"identifiedBy"`
}

// Config represents a set of configuration parameters for rate limiting profiles.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Profiles contains throttling profiles.
	// Key is a profile's name, and value is a profile's configuration.
	Profiles map[string]ProfileConfig `mapstructure:"profiles" yaml:"profiles" json:"profiles"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: DefaultCfgKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return DefaultCfgKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(_ config.DataProvider) {
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := dp.Unmarshal(c, func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.DecodeHook = MapstructureDecodeHook()
	}); err != nil {
		return err
	}
	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	_, err := c.Registry()
	return err
}

// Registry builds an immutable profile Registry from the configuration.
// Profile names are taken from the map keys; an unset identification mode
// defaults to ModeIP.
func (c *Config) Registry() (*Registry, error) {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]Profile, 0, len(names))
	for _, name := range names {
		pc := c.Profiles[name]
		mode := pc.IdentifiedBy
		if mode == "" {
			mode = ModeIP
		}
		profiles = append(profiles, Profile{
			Name:           name,
			MaxRequests:    pc.Limit.Count,
			Window:         pc.Limit.Window,
			KeyPrefix:      pc.KeyPrefix,
			Identification: mode,
		})
	}
	reg, err := NewRegistry(profiles...)
	if err != nil {
		return nil, fmt.Errorf("validate rate limit profiles: %w", err)
	}
	return reg, nil
}

// MapstructureDecodeHook returns a DecodeHookFunc for mapstructure to handle custom types.
func MapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructureTrimSpaceStringsHookFunc(),
	)
}

func mapstructureTrimSpaceStringsHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Kind,
		t reflect.Kind,
		data interface{}) (interface{}, error) {
		if f != reflect.Slice || t != reflect.Slice {
			return data, nil
		}
		switch dt := data.(type) {
		case []string:
			res := make([]string, 0, len(dt))
			for _, s := range dt {
				res = append(res, strings.TrimSpace(s))
			}
			return res, nil
		}
		return data, nil
	}
}
