package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/leonardotrapani/segscribe/internal/models/whisper"
	"github.com/leonardotrapani/segscribe/internal/store"
)

func statusStyle(s store.Status) lipgloss.Style {
	switch s {
	case store.StatusCompleted, store.StatusLocalCompleted:
		return StyleSuccess
	case store.StatusFailed:
		return StyleError
	case store.StatusProcessing, store.StatusLocalProcessing:
		return StyleHighlight
	default:
		return StyleMuted
	}
}

// SessionList prints one line per session, ages relative to now.
func SessionList(w io.Writer, sessions []store.Session, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, StyleMuted.Render("no sessions"))
		return
	}
	for _, s := range sessions {
		state := StyleWarning.Render("recording")
		if s.Completed {
			state = StyleSuccess.Render("done")
		}
		fmt.Fprintf(w, "%s  %-24s %s  %d/%d (%3.0f%%)  %s\n",
			StyleHighlight.Render(s.ID),
			truncate(s.Title, 24),
			StyleMuted.Render(humanize.RelTime(s.CreatedAt, now, "ago", "from now")),
			s.TranscribedSegments, s.TotalSegments, s.Progress()*100,
			state,
		)
	}
}

// SessionDetail prints a session header, its segments and the transcript.
func SessionDetail(w io.Writer, s *store.Session) {
	header := []string{
		StyleHeader.Render(s.Title),
		fmt.Sprintf("%s %s", StyleLabel.Render("id:"), s.ID),
		fmt.Sprintf("%s %s", StyleLabel.Render("created:"), s.CreatedAt.Format(time.RFC3339)),
		fmt.Sprintf("%s %d/%d segments transcribed", StyleLabel.Render("progress:"), s.TranscribedSegments, s.TotalSegments),
	}
	if s.Completed {
		header = append(header, fmt.Sprintf("%s %s", StyleLabel.Render("duration:"), s.Duration.Round(time.Second)))
	}
	fmt.Fprintln(w, StyleBox.Render(strings.Join(header, "\n")))

	for _, seg := range s.Segments {
		line := fmt.Sprintf("  #%-3d %6.1fs-%6.1fs  %s", seg.Index, seg.Start, seg.End, statusStyle(seg.Status).Render(string(seg.Status)))
		if seg.RetryCount > 0 {
			line += StyleMuted.Render(fmt.Sprintf("  retries=%d", seg.RetryCount))
		}
		if r := seg.Result; r != nil {
			line += StyleMuted.Render(fmt.Sprintf("  %s %.2f", r.Backend, r.Confidence))
		}
		fmt.Fprintln(w, line)
	}

	if transcript := s.Transcript(); transcript != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, transcript)
	}
}

// ModelList prints the catalog with installed models checked.
func ModelList(w io.Writer, models []whisper.ModelInfo, installed func(id string) bool) {
	for _, m := range models {
		mark := "[ ]"
		if installed(m.ID) {
			mark = StyleSuccess.Render("[x]")
		}
		lang := "english"
		if m.Multilingual {
			lang = "multilingual"
		}
		fmt.Fprintf(w, "  %s %-10s %s %s\n", mark, m.ID, m.Name,
			StyleMuted.Render(fmt.Sprintf("[%s, %s]", lang, humanize.Bytes(uint64(m.SizeBytes)))))
	}
}

// Check prints one doctor line.
func Check(w io.Writer, name string, ok bool, detail string) {
	mark := StyleSuccess.Render("✓")
	if !ok {
		mark = StyleError.Render("✗")
	}
	fmt.Fprintf(w, "%s %-14s %s\n", mark, name, StyleMuted.Render(detail))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
