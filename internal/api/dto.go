package api

import (
	"time"

	"github.com/leonardotrapani/segscribe/internal/store"
)

type createSessionRequest struct {
	Title     string `json:"title" binding:"required"`
	AudioPath string `json:"audioPath"`
}

type createSegmentRequest struct {
	Index     *int    `json:"index" binding:"required,min=0"`
	Start     float64 `json:"start" binding:"min=0"`
	End       float64 `json:"end" binding:"gtfield=Start"`
	AudioPath string  `json:"audioPath" binding:"required"`
}

type completeSessionRequest struct {
	Duration float64 `json:"duration" binding:"min=0"` // seconds
}

type sessionResponse struct {
	ID                  string            `json:"id"`
	Title               string            `json:"title"`
	AudioPath           string            `json:"audioPath"`
	CreatedAt           time.Time         `json:"createdAt"`
	Duration            float64           `json:"duration"`
	Completed           bool              `json:"completed"`
	TotalSegments       int               `json:"totalSegments"`
	TranscribedSegments int               `json:"transcribedSegments"`
	Progress            float64           `json:"progress"`
	Segments            []segmentResponse `json:"segments,omitempty"`
}

type segmentResponse struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	Index      int             `json:"index"`
	Start      float64         `json:"start"`
	End        float64         `json:"end"`
	AudioPath  string          `json:"audioPath"`
	Status     store.Status    `json:"status"`
	RetryCount int             `json:"retryCount"`
	CreatedAt  time.Time       `json:"createdAt"`
	Result     *resultResponse `json:"result,omitempty"`
}

type resultResponse struct {
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	ProcessingTime int64     `json:"processingMs"`
	Backend        string    `json:"backend"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toSession(s *store.Session, withSegments bool) sessionResponse {
	resp := sessionResponse{
		ID:                  s.ID,
		Title:               s.Title,
		AudioPath:           s.AudioPath,
		CreatedAt:           s.CreatedAt,
		Duration:            s.Duration.Seconds(),
		Completed:           s.Completed,
		TotalSegments:       s.TotalSegments,
		TranscribedSegments: s.TranscribedSegments,
		Progress:            s.Progress(),
	}
	if withSegments {
		resp.Segments = make([]segmentResponse, 0, len(s.Segments))
		for i := range s.Segments {
			resp.Segments = append(resp.Segments, toSegment(&s.Segments[i]))
		}
	}
	return resp
}

func toSegment(seg *store.Segment) segmentResponse {
	resp := segmentResponse{
		ID:         seg.ID,
		SessionID:  seg.SessionID,
		Index:      seg.Index,
		Start:      seg.Start,
		End:        seg.End,
		AudioPath:  seg.AudioPath,
		Status:     seg.Status,
		RetryCount: seg.RetryCount,
		CreatedAt:  seg.CreatedAt,
	}
	if r := seg.Result; r != nil {
		resp.Result = &resultResponse{
			Text:           r.Text,
			Confidence:     r.Confidence,
			ProcessingTime: r.ProcessingTime.Milliseconds(),
			Backend:        r.Backend,
			CreatedAt:      r.CreatedAt,
		}
	}
	return resp
}
