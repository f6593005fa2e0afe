package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesCaptured   *prometheus.CounterVec
	framesForwarded  *prometheus.CounterVec
	captureFailures  *prometheus.CounterVec
	frameLatency     *prometheus.HistogramVec
	faceMatches      *prometheus.CounterVec
	livenessOutcomes *prometheus.CounterVec
	attendanceMarks  *prometheus.CounterVec
	absenceAlerts    *prometheus.CounterVec
	galleryEntries   prometheus.Gauge
	galleryReloads   *prometheus.CounterVec
	rateLimited      prometheus.Counter
)

// Register initialises the collectors on the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		framesCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_frames_captured_total",
			Help: "Frames read from capture sources.",
		}, []string{"stream"})

		framesForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_frames_forwarded_total",
			Help: "Frames forwarded to recognition after decimation.",
		}, []string{"stream"})

		captureFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_capture_failures_total",
			Help: "Capture reads that returned no frame.",
		}, []string{"stream"})

		frameLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faceattend_frame_processing_seconds",
			Help:    "Time spent recognising a forwarded frame.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"stream"})

		faceMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_face_matches_total",
			Help: "Detected faces by match result.",
		}, []string{"result"})

		livenessOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_liveness_outcomes_total",
			Help: "Liveness gate threshold crossings by outcome.",
		}, []string{"outcome"})

		attendanceMarks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_attendance_marks_total",
			Help: "Attendance mark attempts by result.",
		}, []string{"result"})

		absenceAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_absence_alerts_total",
			Help: "Absence monitor alert handling by outcome.",
		}, []string{"outcome"})

		galleryEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faceattend_gallery_entries",
			Help: "Entries in the current gallery snapshot.",
		})

		galleryReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_gallery_reloads_total",
			Help: "Gallery reloads by result.",
		}, []string{"result"})

		rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faceattend_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		})

		prometheus.MustRegister(
			framesCaptured, framesForwarded, captureFailures, frameLatency,
			faceMatches, livenessOutcomes, attendanceMarks, absenceAlerts,
			galleryEntries, galleryReloads, rateLimited,
		)
	})
}

// FramesCaptured counts frames read per stream.
func FramesCaptured() *prometheus.CounterVec {
	Register()
	return framesCaptured
}

// FramesForwarded counts frames handed to recognition per stream.
func FramesForwarded() *prometheus.CounterVec {
	Register()
	return framesForwarded
}

// CaptureFailures counts failed capture reads per stream.
func CaptureFailures() *prometheus.CounterVec {
	Register()
	return captureFailures
}

// FrameLatency observes recognition time per forwarded frame.
func FrameLatency() *prometheus.HistogramVec {
	Register()
	return frameLatency
}

// FaceMatches counts matched and unknown faces.
func FaceMatches() *prometheus.CounterVec {
	Register()
	return faceMatches
}

// LivenessOutcomes counts gate fires and discarded evidence.
func LivenessOutcomes() *prometheus.CounterVec {
	Register()
	return livenessOutcomes
}

// AttendanceMarks counts mark attempts.
func AttendanceMarks() *prometheus.CounterVec {
	Register()
	return attendanceMarks
}

// AbsenceAlerts counts monitor outcomes.
func AbsenceAlerts() *prometheus.CounterVec {
	Register()
	return absenceAlerts
}

// GalleryEntries reports the live gallery size.
func GalleryEntries() prometheus.Gauge {
	Register()
	return galleryEntries
}

// GalleryReloads counts reloads.
func GalleryReloads() *prometheus.CounterVec {
	Register()
	return galleryReloads
}

// RateLimited counts rejected requests.
func RateLimited() prometheus.Counter {
	Register()
	return rateLimited
}
