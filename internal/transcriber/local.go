package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
)

// DefaultLocale is tried when no recognizer serves the current locale.
var DefaultLocale = language.AmericanEnglish

// RecognitionOptions controls a single recognition request.
type RecognitionOptions struct {
	OfflineOnly       bool
	PartialResults    bool
	ContextualStrings []string
}

// Recognition is the final result of a recognizer run.
type Recognition struct {
	Text   string
	Tokens []Token
}

// Recognizer runs on-device speech recognition over an audio file.
// A nil Recognition with a nil error means the recognizer produced nothing.
type Recognizer interface {
	Locale() language.Tag
	Recognize(ctx context.Context, audioPath string, opts RecognitionOptions) (*Recognition, error)
}

// RecognizerSource hands out recognizers by locale.
type RecognizerSource interface {
	ForLocale(tag language.Tag) (Recognizer, bool)
	Any() (Recognizer, bool)
}

// LocalConfig configures the local adapter.
type LocalConfig struct {
	Locale   language.Tag
	Keywords []string
}

// LocalAdapter transcribes segments with an on-device recognizer.
type LocalAdapter struct {
	config  LocalConfig
	source  RecognizerSource
	files   storage.FileStorage
	tempDir string
	logger  zerolog.Logger
}

func NewLocalAdapter(config LocalConfig, source RecognizerSource, files storage.FileStorage, logger zerolog.Logger) *LocalAdapter {
	if config.Locale == language.Und {
		config.Locale = CurrentLocale()
	}
	return &LocalAdapter{
		config:  config,
		source:  source,
		files:   files,
		tempDir: os.TempDir(),
		logger:  logger.With().Str("component", "local-adapter").Logger(),
	}
}

func (a *LocalAdapter) Name() string {
	return BackendWhisperCpp
}

// recognizer picks the current locale, then the default locale, then anything.
func (a *LocalAdapter) recognizer() (Recognizer, bool) {
	if r, ok := a.source.ForLocale(a.config.Locale); ok {
		return r, true
	}
	if r, ok := a.source.ForLocale(DefaultLocale); ok {
		a.logger.Debug().Str("locale", a.config.Locale.String()).Msg("no recognizer for locale, using default")
		return r, true
	}
	return a.source.Any()
}

func (a *LocalAdapter) Transcribe(ctx context.Context, seg store.Segment) (Result, error) {
	rec, ok := a.recognizer()
	if !ok {
		return Result{}, fail(ReasonUnavailable, ErrUnavailable)
	}

	data, err := a.files.ReadBytes(ctx, seg.AudioPath)
	if err != nil {
		return Result{}, fail(ReasonAudio, err)
	}
	name, payload := prepareAudio(seg.AudioPath, data)

	tmpFile := filepath.Join(a.tempDir, fmt.Sprintf("segscribe-%s%s", seg.ID, filepath.Ext(name)))
	if err := os.WriteFile(tmpFile, payload, 0600); err != nil {
		return Result{}, fail(ReasonAudio, fmt.Errorf("write temp file: %w", err))
	}
	defer os.Remove(tmpFile)

	opts := RecognitionOptions{
		OfflineOnly:       true,
		PartialResults:    false,
		ContextualStrings: a.config.Keywords,
	}

	start := time.Now()
	out, err := rec.Recognize(ctx, tmpFile, opts)
	duration := time.Since(start)

	if err != nil {
		a.logger.Warn().Err(err).Str("segment", seg.ID).Dur("elapsed", duration).Msg("recognition failed")
		return Result{}, fail(ReasonRecognition, err)
	}
	if out == nil {
		a.logger.Warn().Str("segment", seg.ID).Msg("recognizer returned no result")
		return Result{}, fail(ReasonRecognition, errors.New("no recognition result"))
	}

	text := CleanText(out.Text)
	confidence := localConfidence(text, out.Tokens)

	a.logger.Debug().Str("segment", seg.ID).Str("locale", rec.Locale().String()).
		Dur("elapsed", duration).Float64("confidence", confidence).Msg("transcribed")
	return Result{Text: text, Confidence: confidence}, nil
}

// CurrentLocale derives the user's locale from LC_ALL, LC_MESSAGES or LANG.
// Unset or unparsable values yield DefaultLocale.
func CurrentLocale() language.Tag {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if tag, ok := parsePOSIXLocale(os.Getenv(env)); ok {
			return tag
		}
	}
	return DefaultLocale
}

// parsePOSIXLocale turns values like "de_DE.UTF-8" into a BCP 47 tag.
func parsePOSIXLocale(v string) (language.Tag, bool) {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	if v == "" || v == "C" || v == "POSIX" {
		return language.Und, false
	}
	tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
	if err != nil {
		return language.Und, false
	}
	return tag, true
}
