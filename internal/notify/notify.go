package notify

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Desktop raises a notify-send popup when a segment fails for good.
// Completions are too frequent to surface on the desktop.
type Desktop struct {
	Logger zerolog.Logger
}

func (d Desktop) HandleEvent(evt Event) {
	if evt.Type != SegmentFailed {
		return
	}
	cmd := exec.Command("notify-send", "-a", "segscribe", "-u", "critical",
		"segscribe: transcription failed",
		fmt.Sprintf("Segment %s could not be transcribed", evt.SegmentID))
	if err := cmd.Run(); err != nil {
		d.Logger.Warn().Err(err).Msg("failed to send notification")
	}
}

// Log writes every event to the logger. Status steps go to debug.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) HandleEvent(evt Event) {
	e := l.Logger.Info()
	switch evt.Type {
	case SegmentFailed:
		e = l.Logger.Warn()
	case SegmentStatusChanged:
		e = l.Logger.Debug()
	}
	e.Str("event", string(evt.Type)).
		Str("segment", evt.SegmentID).
		Str("session", evt.SessionID).
		Str("status", evt.Status).
		Str("backend", evt.Backend).
		Msg("segment event")
}

// Nop is a Subscriber that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) HandleEvent(Event) {}
