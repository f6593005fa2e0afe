package faceclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEye() Eye {
	return Eye{{0, 0}, {1, 1}, {2, 1}, {3, 0}, {2, -1}, {1, -1}}
}

func TestEyeAspectRatio(t *testing.T) {
	assert.InDelta(t, 2.0/3.0, EyeAspectRatio(openEye()), 1e-9)
	assert.InDelta(t, 0.2/3.0, EyeAspectRatio(closedEyes().Left), 1e-9)
	assert.True(t, math.IsInf(EyeAspectRatio(Eye{}), 1))

	assert.False(t, Eyes{Left: openEye(), Right: openEye()}.Closed(DefaultEARThreshold))
	assert.True(t, closedEyes().Closed(DefaultEARThreshold))

	assert.False(t, Eyes{}.Closed(DefaultEARThreshold), "all-zero landmarks are not a blink")
	assert.False(t, Eyes{Left: Eye{}, Right: closedEyes().Right}.Closed(DefaultEARThreshold))
}

func TestClientAgainstFaceService(t *testing.T) {
	image := []byte("jpeg-bytes")
	var detectModels []string

	mux := http.NewServeMux()
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image string `json:"image"`
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		assert.Equal(t, image, raw)
		detectModels = append(detectModels, req.Model)
		_ = json.NewEncoder(w).Encode(map[string]any{"faces": []BoundingBox{{Top: 1, Right: 2, Bottom: 3, Left: 4}}})
	})
	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Box BoundingBox `json:"box"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, BoundingBox{Top: 1, Right: 2, Bottom: 3, Left: 4}, req.Box)
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2}})
	})
	mux.HandleFunc("/landmarks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"faces": []Eyes{{Left: openEye(), Right: openEye()}, closedEyes()}})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, false)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	boxes, err := c.DetectFaces(ctx, image, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	_, err = c.DetectFaces(ctx, image, DetectOptions{HighRecall: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"hog", "cnn"}, detectModels)

	emb, err := c.ComputeEmbedding(ctx, image, boxes[0])
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, emb)

	blink, err := c.DetectBlink(ctx, image)
	require.NoError(t, err)
	assert.True(t, blink)
}

func TestClientSurfacesServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/embed" {
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
			return
		}
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	ctx := context.Background()

	_, err := c.DetectFaces(ctx, []byte("x"), DetectOptions{})
	require.ErrorContains(t, err, "model not loaded")
	_, err = c.ComputeEmbedding(ctx, []byte("x"), BoundingBox{})
	require.ErrorContains(t, err, "empty embedding")
	_, err = c.DetectBlink(ctx, []byte("x"))
	require.Error(t, err)
	require.Error(t, c.Health(ctx))
}

func TestSkipModeReturnsMocks(t *testing.T) {
	c := New("http://unused", true)
	ctx := context.Background()

	boxes, err := c.DetectFaces(ctx, nil, DetectOptions{})
	require.NoError(t, err)
	assert.Len(t, boxes, 1)
	emb, err := c.ComputeEmbedding(ctx, nil, boxes[0])
	require.NoError(t, err)
	assert.Len(t, emb, 128)
	blink, err := c.DetectBlink(ctx, nil)
	require.NoError(t, err)
	assert.True(t, blink)
}
