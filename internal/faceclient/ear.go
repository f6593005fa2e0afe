package faceclient

import "math"

// Point is a landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Eye is the six-point contour of the 68-point landmark model, starting at the outer corner.
type Eye [6]Point

// Eyes holds both eye contours of one face.
type Eyes struct {
	Left  Eye `json:"left"`
	Right Eye `json:"right"`
}

// EyeAspectRatio is (|p1-p5| + |p2-p4|) / (2|p0-p3|). Open eyes sit around 0.3, closed ones near 0.
// A degenerate contour with no horizontal span yields +Inf so it never reads as closed.
func EyeAspectRatio(eye Eye) float64 {
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return math.Inf(1)
	}
	return (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2 * horizontal)
}

// Closed reports whether the mean EAR of both eyes is below threshold.
func (e Eyes) Closed(threshold float64) bool {
	ear := (EyeAspectRatio(e.Left) + EyeAspectRatio(e.Right)) / 2
	return ear < threshold
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func closedEyes() Eyes {
	eye := Eye{{0, 0}, {1, 0.1}, {2, 0.1}, {3, 0}, {2, -0.1}, {1, -0.1}}
	return Eyes{Left: eye, Right: eye}
}
