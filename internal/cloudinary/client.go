// Package cloudinary archives enrollment snapshots.
package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Configured reports whether all credentials are present.
func (c Config) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Archiver uploads enrollment images and returns their secure URL.
type Archiver struct {
	client *cloudinary.Cloudinary
	folder string
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs an Archiver.
func New(cfg Config, logger zerolog.Logger) (*Archiver, error) {
	if !cfg.Configured() {
		return nil, errors.New("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Archiver{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		now:    time.Now,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Archive uploads the image under a public id derived from the student code.
func (a *Archiver) Archive(ctx context.Context, studentCode string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty image")
	}
	params := uploader.UploadParams{
		Folder:       a.folder,
		PublicID:     publicID(studentCode, a.now()),
		ResourceType: "image",
	}

	result, err := a.client.Upload.Upload(ctx, bytes.NewReader(image), params)
	if err != nil {
		return "", fmt.Errorf("failed to upload enrollment image: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary: %s", result.Error.Message)
	}

	a.logger.Info().Str("public_id", result.PublicID).Str("student", studentCode).Msg("enrollment image archived")
	return result.SecureURL, nil
}

// publicID keeps alphanumerics of the code and suffixes the upload time so re-enrollments never collide.
func publicID(code string, at time.Time) string {
	base := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, code)
	base = strings.Trim(base, "-")
	if base == "" {
		base = "student"
	}
	return fmt.Sprintf("%s-%d", base, at.Unix())
}
