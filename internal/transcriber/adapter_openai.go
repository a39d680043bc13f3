package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/leonardotrapani/segscribe/internal/secret"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "whisper-1"

	// used when the response carries no per-segment log probabilities
	defaultCloudConfidence = 0.95
)

// OpenAIConfig configures the cloud adapter.
type OpenAIConfig struct {
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// OpenAIAdapter uploads a segment to the OpenAI transcription endpoint.
type OpenAIAdapter struct {
	config OpenAIConfig
	keys   secret.Store
	files  storage.FileStorage
	client *http.Client
	logger zerolog.Logger
}

func NewOpenAIAdapter(config OpenAIConfig, keys secret.Store, files storage.FileStorage, logger zerolog.Logger) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &OpenAIAdapter{
		config: config,
		keys:   keys,
		files:  files,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "openai-adapter").Logger(),
	}
}

func (a *OpenAIAdapter) Name() string {
	return BackendOpenAI
}

func (a *OpenAIAdapter) Transcribe(ctx context.Context, seg store.Segment) (Result, error) {
	apiKey, ok := a.keys.Get()
	if !ok {
		return Result{}, fail(ReasonUnavailable, errors.New("no API key configured"))
	}

	data, err := a.files.ReadBytes(ctx, seg.AudioPath)
	if err != nil {
		return Result{}, fail(ReasonAudio, err)
	}
	name, payload := prepareAudio(seg.AudioPath, data)

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = a.config.BaseURL
	clientConfig.HTTPClient = a.client
	client := openai.NewClientWithConfig(clientConfig)

	req := openai.AudioRequest{
		Model:    a.config.Model,
		Reader:   bytes.NewReader(payload),
		FilePath: name,
		Language: a.config.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	start := time.Now()
	resp, err := client.CreateTranscription(ctx, req)
	duration := time.Since(start)

	if err != nil {
		reason := classifyOpenAIError(err)
		a.logger.Warn().Err(err).Str("segment", seg.ID).Str("reason", string(reason)).
			Dur("elapsed", duration).Msg("API call failed")
		return Result{}, fail(reason, err)
	}
	if resp.Text == "" {
		a.logger.Warn().Str("segment", seg.ID).Msg("response has no text")
		return Result{}, fail(ReasonEmpty, errors.New("response text missing"))
	}

	logprobs := make([]float64, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		logprobs = append(logprobs, s.AvgLogprob)
	}
	confidence := cloudConfidence(logprobs)

	a.logger.Debug().Str("segment", seg.ID).Int("bytes", len(payload)).Dur("elapsed", duration).
		Float64("confidence", confidence).Msg("transcribed")
	return Result{Text: resp.Text, Confidence: confidence}, nil
}

func classifyOpenAIError(err error) FailureReason {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &apiErr), errors.As(err, &reqErr):
		return ReasonStatus
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ReasonBody
	default:
		return ReasonTransport
	}
}

// cloudConfidence maps mean average log-probability onto [0,1].
func cloudConfidence(avgLogprobs []float64) float64 {
	if len(avgLogprobs) == 0 {
		return defaultCloudConfidence
	}
	var sum float64
	for _, lp := range avgLogprobs {
		sum += lp
	}
	mean := sum / float64(len(avgLogprobs))
	return clamp((mean+1)/2, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
