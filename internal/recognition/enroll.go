package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"faceattend/internal/attendance"
	"faceattend/internal/faceclient"
)

var (
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
	ErrStudentNotFound       = attendance.ErrStudentNotFound
)

// Biometrics is the subset of the face service enrollment needs.
type Biometrics interface {
	DetectFaces(ctx context.Context, image []byte, opts faceclient.DetectOptions) ([]faceclient.BoundingBox, error)
	ComputeEmbedding(ctx context.Context, image []byte, box faceclient.BoundingBox) ([]float64, error)
}

// StudentStore persists enrollment results.
type StudentStore interface {
	GetStudentByCode(ctx context.Context, code string) (*attendance.Student, error)
	SetEmbedding(ctx context.Context, studentID string, emb attendance.Embedding, photoURL *string) error
}

// Archiver keeps a copy of the enrollment image and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, studentCode string, image []byte) (string, error)
}

// Enroller binds a face embedding to a student.
type Enroller struct {
	bio      Biometrics
	store    StudentStore
	archiver Archiver
	logger   zerolog.Logger
}

func NewEnroller(bio Biometrics, store StudentStore, logger zerolog.Logger) *Enroller {
	return &Enroller{
		bio:    bio,
		store:  store,
		logger: logger.With().Str("component", "enroll").Logger(),
	}
}

// WithArchiver stores enrollment images through a.
func (e *Enroller) WithArchiver(a Archiver) *Enroller {
	e.archiver = a
	return e
}

// Enroll replaces the student's embedding with the one computed from image. The image must contain
// exactly one face. The gallery is not reloaded; callers decide when the new face becomes matchable.
func (e *Enroller) Enroll(ctx context.Context, image []byte, code string) error {
	boxes, err := e.bio.DetectFaces(ctx, image, faceclient.DetectOptions{})
	if err != nil {
		return fmt.Errorf("detect faces: %w", err)
	}
	if len(boxes) == 0 {
		boxes, err = e.bio.DetectFaces(ctx, image, faceclient.DetectOptions{HighRecall: true})
		if err != nil {
			return fmt.Errorf("detect faces: %w", err)
		}
	}
	switch {
	case len(boxes) == 0:
		return ErrNoFaceDetected
	case len(boxes) > 1:
		return ErrMultipleFacesDetected
	}

	emb, err := e.bio.ComputeEmbedding(ctx, image, boxes[0])
	if err != nil {
		return fmt.Errorf("compute embedding: %w", err)
	}

	student, err := e.store.GetStudentByCode(ctx, code)
	if err != nil {
		return err
	}

	var photoURL *string
	if e.archiver != nil {
		url, err := e.archiver.Archive(ctx, student.Code, image)
		if err != nil {
			e.logger.Warn().Err(err).Str("student", student.Code).Msg("archive enrollment image failed")
		} else {
			photoURL = &url
		}
	}

	if err := e.store.SetEmbedding(ctx, student.ID, emb, photoURL); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	e.logger.Info().Str("student", student.Code).Int("dims", len(emb)).Msg("face enrolled")
	return nil
}
