package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	whisperlang "github.com/leonardotrapani/segscribe/internal/language"
	"github.com/leonardotrapani/segscribe/internal/models/whisper"
)

// DefaultWhisperBinary is looked up on PATH when no binary is configured.
const DefaultWhisperBinary = "whisper-cli"

// WhisperCppConfig configures recognizers backed by whisper.cpp.
type WhisperCppConfig struct {
	Binary  string // path or name of whisper-cli
	Model   string // preferred model ID, optional
	Threads int    // 0 lets whisper-cli decide
}

// WhisperCppSource builds whisper-cli recognizers from installed models.
type WhisperCppSource struct {
	config   WhisperCppConfig
	registry *whisper.Registry
	logger   zerolog.Logger
}

func NewWhisperCppSource(config WhisperCppConfig, registry *whisper.Registry, logger zerolog.Logger) *WhisperCppSource {
	if config.Binary == "" {
		config.Binary = DefaultWhisperBinary
	}
	return &WhisperCppSource{
		config:   config,
		registry: registry,
		logger:   logger.With().Str("component", "whisper-cpp").Logger(),
	}
}

func (s *WhisperCppSource) binary() (string, bool) {
	path, err := exec.LookPath(s.config.Binary)
	if err != nil {
		return "", false
	}
	return path, true
}

func (s *WhisperCppSource) ForLocale(tag language.Tag) (Recognizer, bool) {
	bin, ok := s.binary()
	if !ok {
		return nil, false
	}
	lang := whisperlang.FromTag(tag)
	if lang.Code == "" {
		return nil, false
	}
	model, ok := s.registry.InstalledFor(lang.Code, s.config.Model)
	if !ok {
		return nil, false
	}
	return &whisperCppRecognizer{
		binary:    bin,
		modelPath: s.registry.Path(model.ID),
		language:  whisperlang.WhisperArg(lang.Code),
		locale:    tag,
		threads:   s.config.Threads,
		logger:    s.logger,
	}, true
}

// Any returns a recognizer for whatever model is installed, with language
// detection left to whisper.
func (s *WhisperCppSource) Any() (Recognizer, bool) {
	bin, ok := s.binary()
	if !ok {
		return nil, false
	}
	installed := s.registry.ListInstalled()
	if len(installed) == 0 {
		return nil, false
	}
	model := installed[0]
	lang, locale := whisperlang.WhisperArg(""), language.Und
	if !model.Multilingual {
		lang, locale = "en", language.English
	}
	return &whisperCppRecognizer{
		binary:    bin,
		modelPath: s.registry.Path(model.ID),
		language:  lang,
		locale:    locale,
		threads:   s.config.Threads,
		logger:    s.logger,
	}, true
}

type whisperCppRecognizer struct {
	binary    string
	modelPath string
	language  string
	locale    language.Tag
	threads   int
	logger    zerolog.Logger
}

func (r *whisperCppRecognizer) Locale() language.Tag {
	return r.locale
}

// Recognize runs whisper-cli once and reads its full JSON output. whisper-cli
// never streams partial results and never touches the network, so both
// options are satisfied by construction.
func (r *whisperCppRecognizer) Recognize(ctx context.Context, audioPath string, opts RecognitionOptions) (*Recognition, error) {
	outDir, err := os.MkdirTemp("", "segscribe-whisper-")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outPrefix := filepath.Join(outDir, "out")

	args := []string{
		"-m", r.modelPath,
		"-l", r.language,
		"-np",  // no progress
		"-ojf", // full json with token probabilities
		"-of", outPrefix,
		"-f", audioPath,
	}
	if r.threads > 0 {
		args = append(args, "-t", strconv.Itoa(r.threads))
	}
	if len(opts.ContextualStrings) > 0 {
		args = append(args, "--prompt", strings.Join(opts.ContextualStrings, ", "))
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Debug().Str("stderr", stderr.String()).Msg("whisper-cli failed")
		return nil, fmt.Errorf("whisper-cli failed: %w", err)
	}

	raw, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return parseWhisperJSON(raw)
}

type whisperOutput struct {
	Transcription []struct {
		Text   string `json:"text"`
		Tokens []struct {
			Text string  `json:"text"`
			P    float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

// parseWhisperJSON extracts text and token confidences from whisper-cli's
// full JSON output. Special tokens such as [_BEG_] are skipped.
func parseWhisperJSON(raw []byte) (*Recognition, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}
	if len(out.Transcription) == 0 {
		return nil, nil
	}

	var text strings.Builder
	var tokens []Token
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
		for _, tok := range seg.Tokens {
			if strings.HasPrefix(tok.Text, "[_") {
				continue
			}
			tokens = append(tokens, Token{Text: strings.TrimSpace(tok.Text), Confidence: clamp(tok.P, 0, 1)})
		}
	}
	return &Recognition{Text: strings.TrimSpace(text.String()), Tokens: tokens}, nil
}
