package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"faceattend/internal/attendance"
	"faceattend/internal/capture"
	"faceattend/internal/events"
	"faceattend/internal/faceclient"
	"faceattend/internal/liveness"
	"faceattend/internal/metrics"
	"faceattend/internal/recognition"
)

// FaceService is what the pipeline asks of the face-biometrics service.
type FaceService interface {
	DetectFaces(ctx context.Context, image []byte, opts faceclient.DetectOptions) ([]faceclient.BoundingBox, error)
	ComputeEmbedding(ctx context.Context, image []byte, box faceclient.BoundingBox) ([]float64, error)
	DetectBlink(ctx context.Context, image []byte) (bool, error)
}

// Recorder turns a verified identification into an attendance record.
type Recorder interface {
	MarkAttendance(ctx context.Context, studentID string, confidence float64, livenessVerified bool) (attendance.MarkResult, error)
}

// Stream processes the forwarded frames of one camera. It owns its liveness gate.
type Stream struct {
	name     string
	face     FaceService
	matcher  *recognition.Matcher
	gate     *liveness.Gate
	recorder Recorder
	pub      events.Publisher
	logger   zerolog.Logger
}

func newStream(name string, d Deps) *Stream {
	return &Stream{
		name:     name,
		face:     d.Face,
		matcher:  d.Matcher,
		gate:     liveness.NewGate(d.RequiredBlinks),
		recorder: d.Recorder,
		pub:      d.Publisher,
		logger:   d.Logger.With().Str("stream", name).Logger(),
	}
}

// processFrame runs detection, matching, the liveness gate and recording for one frame. Service
// errors drop the frame; they never end the stream.
func (s *Stream) processFrame(ctx context.Context, frame capture.Frame) {
	start := time.Now()
	defer func() {
		metrics.FrameLatency().WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	}()

	boxes, err := s.face.DetectFaces(ctx, frame.Data, faceclient.DetectOptions{})
	if err != nil {
		s.logger.Warn().Err(err).Uint64("seq", frame.Seq).Msg("face detection failed")
		return
	}
	if len(boxes) == 0 {
		s.publish(ctx, events.Recognition(s.name, events.StatusClear, "No faces detected"))
		return
	}

	embeddings := make([][]float64, 0, len(boxes))
	for _, box := range boxes {
		emb, err := s.face.ComputeEmbedding(ctx, frame.Data, box)
		if err != nil {
			s.logger.Warn().Err(err).Uint64("seq", frame.Seq).Msg("embedding failed")
			continue
		}
		embeddings = append(embeddings, emb)
	}
	matches := s.matcher.Match(embeddings)

	blink, err := s.face.DetectBlink(ctx, frame.Data)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("seq", frame.Seq).Msg("blink detection failed")
		blink = false
	}

	outcome := s.gate.Observe(blink, matches)
	if len(matches) == 0 {
		s.publish(ctx, events.Recognition(s.name, events.StatusUnknown, "Unknown face detected"))
		return
	}
	if len(outcome.Fired) == 0 {
		msg := fmt.Sprintf("%s - blink to verify (%d/%d)", matches[0].Name, s.gate.Blinks(), s.gate.Required())
		s.publish(ctx, events.Recognition(s.name, events.StatusRecognizing, msg))
		return
	}

	for _, v := range outcome.Fired {
		res, err := s.recorder.MarkAttendance(ctx, v.StudentID, v.Confidence, v.LivenessVerified)
		if err != nil {
			s.logger.Error().Err(err).Str("student_id", v.StudentID).Msg("mark attendance failed")
			continue
		}
		if !res.Marked() {
			s.logger.Debug().Str("student", v.Name).Msg("already marked today")
			s.publish(ctx, events.Recognition(s.name, events.StatusRecognizing, v.Name+" - already marked today"))
			continue
		}
		at := time.Now()
		if res.Record != nil {
			at = res.Record.CheckedInAt
		}
		s.publish(ctx, events.Attendance(s.name, res.StudentName, res.Points, at))
	}
}

func (s *Stream) publish(ctx context.Context, ev events.Event) {
	if s.pub != nil {
		s.pub.Publish(ctx, ev)
	}
}
