package transcriber

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/leonardotrapani/segscribe/internal/models/whisper"
)

const sampleWhisperJSON = `{
  "result": {"language": "en"},
  "transcription": [
    {
      "text": " Hello there,",
      "tokens": [
        {"text": "[_BEG_]", "p": 0.99},
        {"text": " Hello", "p": 0.9},
        {"text": " there", "p": 0.7},
        {"text": ",", "p": 0.5}
      ]
    },
    {
      "text": " general Kenobi.",
      "tokens": [
        {"text": " general", "p": 0.8},
        {"text": " Kenobi", "p": 0.6},
        {"text": "[_TT_150]", "p": 0.2}
      ]
    }
  ]
}`

func TestParseWhisperJSON(t *testing.T) {
	rec, err := parseWhisperJSON([]byte(sampleWhisperJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a recognition")
	}
	if rec.Text != "Hello there, general Kenobi." {
		t.Errorf("text = %q", rec.Text)
	}
	if len(rec.Tokens) != 5 {
		t.Fatalf("tokens = %+v, want 5 without special tokens", rec.Tokens)
	}
	if rec.Tokens[0].Text != "Hello" || rec.Tokens[0].Confidence != 0.9 {
		t.Errorf("first token = %+v", rec.Tokens[0])
	}
}

func TestParseWhisperJSON_Empty(t *testing.T) {
	rec, err := parseWhisperJSON([]byte(`{"transcription": []}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil recognition, got %+v", rec)
	}

	if _, err := parseWhisperJSON([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

// fakeWhisperCli writes a shell script that mimics whisper-cli: it records its
// arguments and writes the canned JSON to the -of prefix.
func fakeWhisperCli(t *testing.T, output string, exitCode int) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a unix shell")
	}

	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	jsonFile := filepath.Join(dir, "canned.json")
	if err := os.WriteFile(jsonFile, []byte(output), 0o644); err != nil {
		t.Fatal(err)
	}

	script := `#!/bin/sh
printf '%s\n' "$@" > "` + argsFile + `"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-of" ]; then out="$2"; fi
  shift
done
cp "` + jsonFile + `" "$out.json"
exit ` + string(rune('0'+exitCode)) + `
`
	bin = filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

func newTestSource(t *testing.T, bin string, models ...string) *WhisperCppSource {
	t.Helper()
	registry := whisper.NewRegistry(t.TempDir())
	if err := os.MkdirAll(registry.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, id := range models {
		if err := os.WriteFile(registry.Path(id), []byte("ggml"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewWhisperCppSource(WhisperCppConfig{Binary: bin, Threads: 2}, registry, zerolog.Nop())
}

func TestWhisperCppSource_LocaleSelection(t *testing.T) {
	bin, _ := fakeWhisperCli(t, sampleWhisperJSON, 0)

	src := newTestSource(t, bin, "base.en")
	if _, ok := src.ForLocale(language.German); ok {
		t.Error("english-only model must not serve German")
	}
	r, ok := src.ForLocale(language.AmericanEnglish)
	if !ok {
		t.Fatal("expected an English recognizer")
	}
	if r.Locale() != language.AmericanEnglish {
		t.Errorf("locale = %v", r.Locale())
	}

	fallback, ok := src.Any()
	if !ok || fallback.Locale() != language.English {
		t.Errorf("Any() = %v, %v", fallback, ok)
	}

	src = newTestSource(t, bin, "small")
	if _, ok := src.ForLocale(language.German); !ok {
		t.Error("multilingual model should serve German")
	}
	if _, ok := src.ForLocale(language.MustParse("haw")); ok {
		t.Error("a language whisper does not know must fall through to Any")
	}
}

func TestWhisperCppSource_Unavailable(t *testing.T) {
	src := newTestSource(t, filepath.Join(t.TempDir(), "missing-whisper-cli"), "base")
	if _, ok := src.ForLocale(language.English); ok {
		t.Error("missing binary should yield no recognizer")
	}
	if _, ok := src.Any(); ok {
		t.Error("missing binary should yield no recognizer")
	}

	bin, _ := fakeWhisperCli(t, sampleWhisperJSON, 0)
	src = newTestSource(t, bin)
	if _, ok := src.Any(); ok {
		t.Error("no installed models should yield no recognizer")
	}
}

func TestWhisperCppRecognizer_Recognize(t *testing.T) {
	bin, argsFile := fakeWhisperCli(t, sampleWhisperJSON, 0)
	src := newTestSource(t, bin, "base")

	r, ok := src.ForLocale(language.German)
	if !ok {
		t.Fatal("expected recognizer")
	}

	audio := filepath.Join(t.TempDir(), "seg.wav")
	os.WriteFile(audio, []byte("RIFF"), 0o644)

	rec, err := r.Recognize(context.Background(), audio, RecognitionOptions{
		OfflineOnly:       true,
		ContextualStrings: []string{"Kubernetes", "gRPC"},
	})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if rec == nil || rec.Text != "Hello there, general Kenobi." {
		t.Fatalf("recognition = %+v", rec)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := string(raw)
	for _, want := range []string{"-ojf", "-l\nde\n", "-t\n2\n", "--prompt\nKubernetes, gRPC\n", "-f\n" + audio} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
}

func TestWhisperCppRecognizer_CommandFails(t *testing.T) {
	bin, _ := fakeWhisperCli(t, sampleWhisperJSON, 1)
	src := newTestSource(t, bin, "base")

	r, _ := src.ForLocale(language.English)
	if _, err := r.Recognize(context.Background(), "seg.wav", RecognitionOptions{}); err == nil {
		t.Error("expected error from failing whisper-cli")
	}
}
