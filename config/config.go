// ffedit/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin              string        `mapstructure:"FF_BIN"`
	FFProbeBin         string        `mapstructure:"FF_PROBE_BIN"`
	FFTimeout          time.Duration `mapstructure:"FF_TIMEOUT"`
	TaskRetention      time.Duration `mapstructure:"TASK_RETENTION"`
	MaxConcurrency     int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize          int           `mapstructure:"QUEUE_SIZE"`
	ThrottleCPU        float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem    int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk   int64         `mapstructure:"THROTTLE_FREEDISK"`
	ProbeCacheSize     int           `mapstructure:"PROBE_CACHE_SIZE"`
	LogTailSize        int64         `mapstructure:"LOG_TAIL_SIZE"`
	AuthEnable         bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey            string        `mapstructure:"AUTH_KEY"`
	Port               string        `mapstructure:"PORT"`
	DefaultDestination string        `mapstructure:"DEFAULT_DESTINATION"`
}

// stringToDurationHookFunc parses Go duration strings ("12m3s") into time.Duration fields.
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

// stringToByteSizeHookFunc parses human-readable sizes ("200MB") into int64 byte counts.
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
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, leave it to the default decoders.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_PROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "1h")
	vp.SetDefault("TASK_RETENTION", "1h23m")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("QUEUE_SIZE", 100)
	// CPU and memory throttles are off by default.
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", 0)
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("PROBE_CACHE_SIZE", 64)
	vp.SetDefault("LOG_TAIL_SIZE", "64KB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("PORT", "9080")
	vp.SetDefault("DEFAULT_DESTINATION", "~/Movies/ffedit")

	vp.SetConfigName("ffedit_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ffedit/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("FFEDIT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts a value wins.
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
