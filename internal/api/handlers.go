package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/faceclient"
	"faceattend/internal/recognition"
)

func (h *handler) registerKiosk(c *gin.Context) {
	var req struct {
		KioskID string `json:"kiosk_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Attendance.RegisterKiosk(c.Request.Context(), req.KioskID); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	h.issueTokens(c, http.StatusCreated, req.KioskID)
}

func (h *handler) refreshKiosk(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := h.Issuer.Parse(req.RefreshToken, auth.TokenRefresh)
	if err != nil {
		errorJSON(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if err := h.Attendance.Repo().ConsumeRefreshToken(c.Request.Context(), claims.Subject, req.RefreshToken); err != nil {
		if errors.Is(err, attendance.ErrTokenInvalid) {
			errorJSON(c, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		h.internal(c, err)
		return
	}
	h.issueTokens(c, http.StatusOK, claims.Subject)
}

func (h *handler) issueTokens(c *gin.Context, status int, kioskID string) {
	tokens, err := h.Issuer.Issue(kioskID, auth.RoleKiosk)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	if err := h.Attendance.Repo().SaveRefreshToken(c.Request.Context(), kioskID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *handler) listStudents(c *gin.Context) {
	students, err := h.Attendance.ListStudents(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

func (h *handler) createStudent(c *gin.Context) {
	var req struct {
		Code        string  `json:"student_id" binding:"required"`
		Name        string  `json:"name" binding:"required"`
		Class       string  `json:"class"`
		Section     string  `json:"section"`
		ParentPhone *string `json:"parent_phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.Attendance.CreateStudent(c.Request.Context(), attendance.Student{
		Code:          req.Code,
		Name:          req.Name,
		ClassName:     req.Class,
		Section:       req.Section,
		GuardianPhone: req.ParentPhone,
	})
	switch {
	case errors.Is(err, attendance.ErrDuplicateCode):
		errorJSON(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": st.ID, "message": "Student created"})
}

func (h *handler) enroll(c *gin.Context) {
	var req struct {
		Frame string `json:"frame" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	image, err := decodeFrame(req.Frame)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "frame must be base64")
		return
	}

	ctx := c.Request.Context()
	if err := h.Enroller.Enroll(ctx, image, c.Param("code")); err != nil {
		switch {
		case errors.Is(err, recognition.ErrStudentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
		case errors.Is(err, recognition.ErrNoFaceDetected), errors.Is(err, recognition.ErrMultipleFacesDetected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": err.Error()})
		default:
			h.log.Error().Err(err).Msg("enrollment failed")
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Face enrollment failed"})
		}
		return
	}

	if _, err := h.Gallery.Reload(ctx); err != nil {
		h.log.Error().Err(err).Msg("gallery reload after enrollment failed")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Face enrolled successfully"})
}

func (h *handler) listAttendance(c *gin.Context) {
	records, err := h.Attendance.Records(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.dayError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *handler) markAttendance(c *gin.Context) {
	req := struct {
		StudentID     string   `json:"student_id" binding:"required"`
		Confidence    *float64 `json:"confidence"`
		BlinkVerified bool     `json:"blink_verified"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	confidence := 0.5
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	res, err := h.Attendance.MarkAttendance(c.Request.Context(), req.StudentID, confidence, req.BlinkVerified)
	if err != nil {
		if errors.Is(err, attendance.ErrStudentNotFound) {
			errorJSON(c, http.StatusNotFound, err.Error())
			return
		}
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, markBody(res))
}

func markBody(res attendance.MarkResult) gin.H {
	if !res.Marked() {
		return gin.H{"success": false, "message": "Already marked today", "status": res.Status}
	}
	return gin.H{"success": true, "message": "Attendance marked", "status": res.Status, "points": res.Points}
}

func (h *handler) stats(c *gin.Context) {
	st, err := h.Attendance.Stats(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.dayError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) leaderboard(c *gin.Context) {
	entries, err := h.Attendance.Leaderboard(c.Request.Context(), queryInt(c, "limit", 10))
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handler) alerts(c *gin.Context) {
	alerts, err := h.Attendance.Alerts(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// recognize identifies the faces of one uploaded frame and marks each match with the caller's blink flag.
func (h *handler) recognize(c *gin.Context) {
	var req struct {
		Frame         string `json:"frame" binding:"required"`
		BlinkDetected bool   `json:"blink_detected"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	image, err := decodeFrame(req.Frame)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "frame must be base64")
		return
	}

	ctx := c.Request.Context()
	boxes, err := h.Face.DetectFaces(ctx, image, faceclient.DetectOptions{})
	if err != nil {
		h.log.Error().Err(err).Msg("face detection failed")
		errorJSON(c, http.StatusBadGateway, "face service unavailable")
		return
	}
	embeddings := make([][]float64, 0, len(boxes))
	for _, box := range boxes {
		emb, err := h.Face.ComputeEmbedding(ctx, image, box)
		if err != nil {
			h.log.Warn().Err(err).Msg("embedding failed")
			continue
		}
		embeddings = append(embeddings, emb)
	}

	recognized := []gin.H{}
	for _, m := range h.Matcher.Match(embeddings) {
		res, err := h.Attendance.MarkAttendance(ctx, m.StudentID, m.Confidence, req.BlinkDetected)
		var result gin.H
		if err != nil {
			h.log.Error().Err(err).Str("student_id", m.StudentID).Msg("mark attendance failed")
			result = gin.H{"success": false, "message": "Attendance could not be recorded"}
		} else {
			result = markBody(res)
		}
		recognized = append(recognized, gin.H{
			"name":              m.Name,
			"confidence":        m.Confidence,
			"attendance_result": result,
		})
	}
	c.JSON(http.StatusOK, gin.H{"recognized": recognized})
}

func (h *handler) reloadGallery(c *gin.Context) {
	n, err := h.Gallery.Reload(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": n})
}

func (h *handler) sweep(c *gin.Context) {
	res, err := h.Monitor.Sweep(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) startSystem(c *gin.Context) {
	if err := h.System.Start(c.Request.Context()); err != nil {
		errorJSON(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.System.Status())
}

func (h *handler) stopSystem(c *gin.Context) {
	if err := h.System.Stop(c.Request.Context()); err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, h.System.Status())
}

func (h *handler) systemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.System.Status())
}

func (h *handler) dayError(c *gin.Context, err error) {
	if errors.Is(err, attendance.ErrInvalidDate) {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	h.internal(c, err)
}

func (h *handler) internal(c *gin.Context, err error) {
	h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	errorJSON(c, http.StatusInternalServerError, "internal error")
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// decodeFrame accepts raw base64 or a data URL.
func decodeFrame(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}
