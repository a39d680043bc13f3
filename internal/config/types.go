package config

import "time"

type Config struct {
	Log           LogConfig           `toml:"log"`
	Database      DatabaseConfig      `toml:"database"`
	Storage       StorageConfig       `toml:"storage"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Queue         QueueConfig         `toml:"queue"`
	Notifications NotificationsConfig `toml:"notifications"`
	Events        EventsConfig        `toml:"events"`
	API           APIConfig           `toml:"api"`
	Keywords      []string            `toml:"keywords"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "auto", "console", "json"
}

type DatabaseConfig struct {
	Path string `toml:"path"` // empty = ~/.local/share/segscribe/segscribe.db
}

type StorageConfig struct {
	Backend  string      `toml:"backend"`   // "local" or "minio"
	LocalDir string      `toml:"local_dir"` // root for segment audio when backend = "local"
	MinIO    MinIOConfig `toml:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Secure    bool   `toml:"secure"`
}

type TranscriptionConfig struct {
	BaseURL        string        `toml:"base_url"`
	Model          string        `toml:"model"`
	Language       string        `toml:"language"` // hint sent to the cloud API, empty = auto
	RequestTimeout time.Duration `toml:"request_timeout"`

	Locale        string `toml:"locale"` // local recognizer locale, empty = $LANG
	WhisperBinary string `toml:"whisper_binary"`
	WhisperModel  string `toml:"whisper_model"` // preferred local model, empty = best installed
	Threads       int    `toml:"threads"`       // CPU threads for local transcription (0 = auto)
}

type QueueConfig struct {
	TickInterval  time.Duration `toml:"tick_interval"`
	MinAudioBytes int64         `toml:"min_audio_bytes"`
	MaxRetries    int           `toml:"max_retries"`
	BaseDelay     time.Duration `toml:"base_delay"`
	RetryFactor   float64       `toml:"retry_factor"`
	MaxDelay      time.Duration `toml:"max_delay"`
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "desktop", "log", "none"
}

type EventsConfig struct {
	AMQP AMQPConfig `toml:"amqp"`
}

type AMQPConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}
