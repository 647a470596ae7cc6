// Package config loads process configuration from environment
// variables (and an optional .env file) with viper, validating the
// result with validator.
package config

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every tunable the voice pipeline needs at startup.
type Config struct {
	DiscordToken string `mapstructure:"discord_token" validate:"required"`
	LogLevel     string `mapstructure:"log_level" validate:"required"`
	LogFilePath  string `mapstructure:"log_file_path"`

	// External subprocess binaries. Overridable so tests can point at
	// stub executables.
	DecoderBinary  string `mapstructure:"decoder_binary" validate:"required"`
	MetadataBinary string `mapstructure:"metadata_binary" validate:"required"`

	// Decoder/HTTP tunables, see internal/audio.
	FetchChunkBytes    int `mapstructure:"fetch_chunk_bytes" validate:"required"`
	FetchChannelDepth  int `mapstructure:"fetch_channel_depth" validate:"required"`
	FrameChannelDepth  int `mapstructure:"frame_channel_depth" validate:"required"`
}

// Load reads configuration from the environment (and ENV_PATH/.env if
// present), applies defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows; the token has
	// no default, so bind it to its environment variable explicitly.
	if err := v.BindEnv("DISCORD_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind DISCORD_TOKEN: %w", err)
	}

	setDefaults(v)
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("reading configuration from environment variables only: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE_PATH", "")
	v.SetDefault("DECODER_BINARY", "ffmpeg")
	v.SetDefault("METADATA_BINARY", "yt-dlp")
	v.SetDefault("FETCH_CHUNK_BYTES", 256*1024)
	v.SetDefault("FETCH_CHANNEL_DEPTH", 64)
	v.SetDefault("FRAME_CHANNEL_DEPTH", 100)
}
