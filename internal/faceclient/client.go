package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultEARThreshold is the eye aspect ratio under which an eye counts as closed.
const DefaultEARThreshold = 0.25

// BoundingBox is a face location in pixel coordinates.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// DetectOptions tunes a detection pass.
type DetectOptions struct {
	// HighRecall selects the slower, higher-recall detector.
	HighRecall bool
}

// Client calls the face biometrics microservice.
type Client struct {
	BaseURL      string
	HTTP         *http.Client
	Skip         bool
	EARThreshold float64
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL:      baseURL,
		Skip:         skip,
		EARThreshold: DefaultEARThreshold,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// DetectFaces returns the face locations found in an encoded image.
func (c *Client) DetectFaces(ctx context.Context, image []byte, opts DetectOptions) ([]BoundingBox, error) {
	if c.Skip {
		return []BoundingBox{{Top: 120, Right: 420, Bottom: 420, Left: 120}}, nil
	}
	model := "hog"
	if opts.HighRecall {
		model = "cnn"
	}
	var out struct {
		Faces []BoundingBox `json:"faces"`
	}
	if err := c.postJSON(ctx, "/detect", map[string]any{"image": encode(image), "model": model}, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

// ComputeEmbedding returns the embedding of the face inside box.
func (c *Client) ComputeEmbedding(ctx context.Context, image []byte, box BoundingBox) ([]float64, error) {
	if c.Skip {
		emb := make([]float64, 128)
		for i := range emb {
			emb[i] = 0.05
		}
		return emb, nil
	}
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.postJSON(ctx, "/embed", map[string]any{"image": encode(image), "box": box}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("face service returned an empty embedding")
	}
	return out.Embedding, nil
}

// EyeLandmarks returns the six-point eye contours of every face in the image.
func (c *Client) EyeLandmarks(ctx context.Context, image []byte) ([]Eyes, error) {
	if c.Skip {
		return []Eyes{closedEyes()}, nil
	}
	var out struct {
		Faces []Eyes `json:"faces"`
	}
	if err := c.postJSON(ctx, "/landmarks", map[string]any{"image": encode(image)}, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

// DetectBlink reports whether any face in the image has its eyes closed.
func (c *Client) DetectBlink(ctx context.Context, image []byte) (bool, error) {
	faces, err := c.EyeLandmarks(ctx, image)
	if err != nil {
		return false, err
	}
	threshold := c.EARThreshold
	if threshold <= 0 {
		threshold = DefaultEARThreshold
	}
	for _, f := range faces {
		if f.Closed(threshold) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func encode(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}
