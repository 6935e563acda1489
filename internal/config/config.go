// Package config loads service configuration from the environment.
// Every key is WEBTRX_ prefixed; defaults make a bare start on a LAN
// workable.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"webtrx/internal/audio"
	"webtrx/internal/server"
)

// Logging holds the log sink configuration.
type Logging struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config is everything the process reads from the environment.
type Config struct {
	Server  server.Config
	Logging Logging
}

// Load reads WEBTRX_* environment variables over the defaults.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("webtrx")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("recordings_dir", "recordings")
	v.SetDefault("capture_source", "")
	v.SetDefault("capture_disabled", false)
	v.SetDefault("sample_rate", audio.DefaultSampleRate)
	v.SetDefault("max_transmit_time", "30s")

	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("turn_url", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")

	v.SetDefault("vox_enabled", false)
	v.SetDefault("vox_threshold", 0.0020)
	v.SetDefault("vox_hold_count", 3)
	v.SetDefault("vox_hold_time", "1500ms")
	v.SetDefault("vox_save_delay", "10s")
	v.SetDefault("vox_gain", 10.0)

	v.SetDefault("tls_self_signed", false)
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 14)

	return Config{
		Server: server.Config{
			Addr:              v.GetString("addr"),
			RecordingsDir:     v.GetString("recordings_dir"),
			CaptureSourceName: v.GetString("capture_source"),
			CaptureDisabled:   v.GetBool("capture_disabled"),
			SampleRate:        v.GetInt("sample_rate"),
			MaxTransmitTime:   durationOr(v, "max_transmit_time", 30*time.Second),
			STUNURL:           v.GetString("stun_url"),
			TURNURL:           v.GetString("turn_url"),
			TURNUsername:      v.GetString("turn_username"),
			TURNCredential:    v.GetString("turn_credential"),
			VoxEnabled:        v.GetBool("vox_enabled"),
			Vox: audio.VoxConfig{
				Threshold: v.GetFloat64("vox_threshold"),
				HoldCount: v.GetInt("vox_hold_count"),
				HoldTime:  durationOr(v, "vox_hold_time", 1500*time.Millisecond),
				SaveDelay: durationOr(v, "vox_save_delay", 10*time.Second),
				Gain:      v.GetFloat64("vox_gain"),
			},
			SelfSignedTLS: v.GetBool("tls_self_signed"),
			TLSCert:       v.GetString("tls_cert"),
			TLSKey:        v.GetString("tls_key"),
		},
		Logging: Logging{
			Level:      v.GetString("log_level"),
			File:       v.GetString("log_file"),
			MaxSizeMB:  v.GetInt("log_max_size_mb"),
			MaxBackups: v.GetInt("log_max_backups"),
			MaxAgeDays: v.GetInt("log_max_age_days"),
		},
	}
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}
