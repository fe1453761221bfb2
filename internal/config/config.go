package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mux       MuxConfig       `mapstructure:"mux"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

// MuxConfig holds the video-hosting platform credentials and endpoints.
type MuxConfig struct {
	TokenID       string `mapstructure:"token_id"`
	TokenSecret   string `mapstructure:"token_secret"`
	BaseURL       string `mapstructure:"base_url"`        // API endpoint, overridable for tests
	StreamBaseURL string `mapstructure:"stream_base_url"` // Public HLS host, playback URLs hang off this
	UploadOrigin  string `mapstructure:"upload_origin"`   // CORS origin direct uploads are scoped to
}

// OpenAIConfig holds speech-recognition and language-model settings. Both
// capabilities live behind the same credential in the current deployment.
type OpenAIConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	WhisperModel string `mapstructure:"whisper_model"`
	ChatModel    string `mapstructure:"chat_model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// ArtifactsConfig configures the optional S3-compatible archive for extracted
// audio. Leaving the bucket empty disables archiving entirely.
type ArtifactsConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
}

// Enabled reports whether an artifact bucket is configured.
func (c ArtifactsConfig) Enabled() bool {
	return c.BucketName != ""
}

// PipelineConfig bounds the orchestrator's polling and timeouts.
type PipelineConfig struct {
	ResolveAttempts      int           `mapstructure:"resolve_attempts"`      // Asset-ID lookup retries
	ResolveInterval      time.Duration `mapstructure:"resolve_interval"`      // Sleep between asset-ID lookups
	PollAttempts         int           `mapstructure:"poll_attempts"`         // Readiness poll budget
	PollInterval         time.Duration `mapstructure:"poll_interval"`         // Fixed readiness poll interval
	RunDeadline          time.Duration `mapstructure:"run_deadline"`          // Hard ceiling on one readiness check end to end
	TranscriptionTimeout time.Duration `mapstructure:"transcription_timeout"` // Generous, audio can run minutes
	FFmpegBinary         string        `mapstructure:"ffmpeg_binary"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Env override for nested keys, e.g. mux.token_id -> MUX_TOKEN_ID
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "frictionlog")
	viper.SetDefault("mux.base_url", "https://api.mux.com")
	viper.SetDefault("mux.stream_base_url", "https://stream.mux.com")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.whisper_model", "whisper-1")
	viper.SetDefault("openai.chat_model", "gpt-4o")
	viper.SetDefault("openai.max_tokens", 500)
	viper.SetDefault("pipeline.resolve_attempts", 5)
	viper.SetDefault("pipeline.resolve_interval", "2s")
	viper.SetDefault("pipeline.poll_attempts", 10)
	viper.SetDefault("pipeline.poll_interval", "3s")
	viper.SetDefault("pipeline.run_deadline", "10m")
	viper.SetDefault("pipeline.transcription_timeout", "3m")
	viper.SetDefault("pipeline.ffmpeg_binary", "ffmpeg")

	err = viper.ReadInConfig()
	// Config file is optional; env vars plus defaults are a valid deployment.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
