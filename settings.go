package assetlock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/n8lab/assetlock/client"
)

// Setting keys consumed from the key/value settings collaborator.
const (
	SettingEndpointURL = "endpoint_url"
	SettingLockName    = "lock_name"
	SettingTTL         = "ttl"
	SettingWaitTime    = "wait_time"
	SettingWaitTimeout = "wait_timeout"
	SettingStatusURI   = "status_uri"
)

const (
	// DefaultWaitTime is the poll interval applied when wait_time is unset.
	DefaultWaitTime = 5000 * time.Millisecond
)

// Settings is the flat key/value configuration view the allocator and lock
// client consume. Durations are expressed in milliseconds, matching the
// settings rows of the test environments this library coordinates.
type Settings map[string]string

// SettingsFromMap copies m into a Settings value with trimmed keys.
func SettingsFromMap(m map[string]string) Settings {
	s := make(Settings, len(m))
	for k, v := range m {
		s[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return s
}

// LoadSettings reads a settings file (yaml, json, toml or properties as
// understood by viper) plus ASSETLOCK_-prefixed environment overrides into a
// flat Settings view.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ASSETLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	s := make(Settings)
	for _, key := range v.AllKeys() {
		s[key] = v.GetString(key)
	}
	return s, nil
}

func (s Settings) value(key string) string {
	return strings.TrimSpace(s[key])
}

func (s Settings) millis(key string, def time.Duration) time.Duration {
	raw := s.value(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// EndpointURL returns the lock service base URL. Required; empty means the
// settings source is incomplete and client construction will fail.
func (s Settings) EndpointURL() string {
	return s.value(SettingEndpointURL)
}

// DefaultLockName returns the lock claimed when no name can be derived.
func (s Settings) DefaultLockName() string {
	if v := s.value(SettingLockName); v != "" {
		return v
	}
	return client.DefaultLockName
}

// TTL returns the automatic-unreserve deadline; zero disables it.
func (s Settings) TTL() time.Duration {
	return s.millis(SettingTTL, 0)
}

// WaitInterval returns the poll interval for wait-for-free loops.
func (s Settings) WaitInterval() time.Duration {
	return s.millis(SettingWaitTime, DefaultWaitTime)
}

// WaitTimeout returns the overall wait bound; zero waits indefinitely.
func (s Settings) WaitTimeout() time.Duration {
	return s.millis(SettingWaitTimeout, 0)
}

// StatusURI returns the status listing path override, when configured.
func (s Settings) StatusURI() string {
	return s.value(SettingStatusURI)
}

// ClientConfig maps the settings into a lock client configuration.
func (s Settings) ClientConfig() client.Config {
	return client.Config{
		EndpointURL:  s.EndpointURL(),
		LockName:     s.DefaultLockName(),
		StatusPath:   s.StatusURI(),
		TTL:          s.TTL(),
		WaitInterval: s.WaitInterval(),
		WaitTimeout:  s.WaitTimeout(),
	}
}
