package config

import (
	"os"
	"path/filepath"

	"golang.org/x/text/language"

	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/queue"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/transcriber"
)

func (c *Config) ToQueueConfig() queue.Config {
	return queue.Config{
		TickInterval:  c.Queue.TickInterval,
		MinAudioBytes: c.Queue.MinAudioBytes,
		MaxRetries:    c.Queue.MaxRetries,
		BaseDelay:     c.Queue.BaseDelay,
		RetryFactor:   c.Queue.RetryFactor,
		MaxDelay:      c.Queue.MaxDelay,
	}
}

func (c *Config) ToOpenAIConfig() transcriber.OpenAIConfig {
	return transcriber.OpenAIConfig{
		BaseURL:  c.Transcription.BaseURL,
		Model:    c.Transcription.Model,
		Language: c.Transcription.Language,
		Timeout:  c.Transcription.RequestTimeout,
	}
}

func (c *Config) ToLocalConfig() transcriber.LocalConfig {
	locale := transcriber.CurrentLocale()
	if c.Transcription.Locale != "" {
		if tag, err := language.Parse(c.Transcription.Locale); err == nil {
			locale = tag
		}
	}
	return transcriber.LocalConfig{
		Locale:   locale,
		Keywords: c.Keywords,
	}
}

func (c *Config) ToWhisperCppConfig() transcriber.WhisperCppConfig {
	return transcriber.WhisperCppConfig{
		Binary:  c.Transcription.WhisperBinary,
		Model:   c.Transcription.WhisperModel,
		Threads: c.Transcription.Threads,
	}
}

func (c *Config) ToMinIOConfig() storage.MinIOConfig {
	m := c.Storage.MinIO
	return storage.MinIOConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		Prefix:    m.Prefix,
		Secure:    m.Secure,
	}
}

func (c *Config) ToAMQPConfig() notify.AMQPConfig {
	return notify.AMQPConfig{
		URL:      c.Events.AMQP.URL,
		Exchange: c.Events.AMQP.Exchange,
	}
}

// AudioDir returns the local storage root, defaulting to
// ~/.local/share/segscribe/audio.
func (c *Config) AudioDir() (string, error) {
	if c.Storage.LocalDir != "" {
		return c.Storage.LocalDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "segscribe", "audio"), nil
}
