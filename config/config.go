// cliptrim/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Quality is a named set of compression overrides. Blank fields and a nil CRF
// leave the base preset value in place.
type Quality struct {
	VideoBitrate string `mapstructure:"VIDEO_BITRATE"`
	AudioBitrate string `mapstructure:"AUDIO_BITRATE"`
	Preset       string `mapstructure:"PRESET"`
	CRF          *int   `mapstructure:"CRF"`
	ExtraArgs    string `mapstructure:"EXTRA_ARGS"` // split like a command line
}

type Config struct {
	FFBin               string             `mapstructure:"FF_BIN"`
	Workspace           string             `mapstructure:"WORKSPACE"`
	OutputPrefix        string             `mapstructure:"OUTPUT_PREFIX"`
	LockEditedOutputs   bool               `mapstructure:"LOCK_EDITED_OUTPUTS"`
	DefaultStrategy     string             `mapstructure:"DEFAULT_STRATEGY"`
	DefaultQuality      string             `mapstructure:"DEFAULT_QUALITY"`
	Qualities           map[string]Quality `mapstructure:"QUALITIES"`
	OutputLocalLifetime time.Duration      `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	MaxConcurrency      int                `mapstructure:"MAX_CONCURRENCY"`
	QueueSize           int                `mapstructure:"QUEUE_SIZE"`
	ThrottleCPU         float64            `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem     int64              `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk    int64              `mapstructure:"THROTTLE_FREEDISK"`
	MaxLogLine          int64              `mapstructure:"MAX_LOG_LINE"`
	CancelGrace         time.Duration      `mapstructure:"CANCEL_GRACE"`
	AuthEnable          bool               `mapstructure:"AUTH_ENABLE"`
	AuthKey             string             `mapstructure:"AUTH_KEY"`
	Port                string             `mapstructure:"PORT"`
	BaseURL             string             `mapstructure:"BASE"`
	LogLevel            string             `mapstructure:"LOG_LEVEL"`
	TempDir             string             `mapstructure:"TEMP_DIR"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func defaultQualities() map[string]interface{} {
	return map[string]interface{}{
		"low":    map[string]interface{}{"VIDEO_BITRATE": "1500k", "AUDIO_BITRATE": "96k", "PRESET": "veryfast", "CRF": 28},
		"medium": map[string]interface{}{"VIDEO_BITRATE": "3500k", "AUDIO_BITRATE": "128k", "PRESET": "medium", "CRF": 23},
		"high":   map[string]interface{}{"VIDEO_BITRATE": "6000k", "AUDIO_BITRATE": "192k", "PRESET": "slow", "CRF": 20},
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("WORKSPACE", ".")
	vp.SetDefault("OUTPUT_PREFIX", "TRIM_")
	vp.SetDefault("LOCK_EDITED_OUTPUTS", true)
	vp.SetDefault("DEFAULT_STRATEGY", "concat")
	vp.SetDefault("DEFAULT_QUALITY", "medium")
	vp.SetDefault("QUALITIES", defaultQualities())
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "24h")
	vp.SetDefault("MAX_CONCURRENCY", 1)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "1GB")
	vp.SetDefault("MAX_LOG_LINE", "1MB")
	vp.SetDefault("CANCEL_GRACE", "5s")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("TEMP_DIR", "")

	// Load from config file
	vp.SetConfigName("cliptrim_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/cliptrim/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("CLIPTRIM")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
