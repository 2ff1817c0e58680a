package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/skin-check/internal/auth"
	"github.com/example/skin-check/internal/prediction"
	"github.com/example/skin-check/internal/usecase"
	"github.com/example/skin-check/internal/view"
)

// MaxUploadSize bounds the captured image accepted by POST /analyze.
const MaxUploadSize = 5 << 20

// multipartOverhead leaves room for boundaries and part headers.
const multipartOverhead = 64 << 10

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The router
// must have view.Templates() installed as its HTML template.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, sessionMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{uc: uc, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET(view.PlaceholderImage, func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=86400")
		c.Data(http.StatusOK, "image/svg+xml", view.PlaceholderSVG)
	})

	pages := router.Group("/", sessionMiddleware)
	pages.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/analyze")
	})
	pages.GET("/analyze", h.showAnalyze)
	pages.POST("/analyze", h.analyze)
	pages.POST(view.ResetPath, h.reset)

	api := router.Group("/api", sessionMiddleware)
	api.GET("/analysis", h.currentAnalysis)
	api.DELETE("/analysis", h.deleteAnalysis)
}

type handler struct {
	uc     *usecase.AnalysisUseCase
	logger *zap.Logger
}

func sessionID(c *gin.Context) string {
	id, _ := auth.GetSessionID(c.Request.Context())
	return id
}

func (h *handler) showAnalyze(c *gin.Context) {
	analysis, err := h.uc.Current(c.Request.Context(), sessionID(c))
	if errors.Is(err, usecase.ErrNoAnalysis) {
		c.HTML(http.StatusOK, view.CapturePage, gin.H{"Error": ""})
		return
	}
	if err != nil {
		c.HTML(http.StatusServiceUnavailable, view.CapturePage, gin.H{"Error": "Results are temporarily unavailable. Please try again."})
		return
	}

	rv := view.New(analysis.CapturedImage, analysis.Result, nil)
	c.HTML(http.StatusOK, view.ResultPage, rv.Model())
}

func (h *handler) analyze(c *gin.Context) {
	if c.Request.ContentLength > MaxUploadSize+multipartOverhead {
		h.renderCaptureError(c, http.StatusRequestEntityTooLarge, "The image is too large. Please upload a file under 5 MB.")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.renderCaptureError(c, http.StatusRequestEntityTooLarge, "The image is too large. Please upload a file under 5 MB.")
			return
		}
		h.renderCaptureError(c, http.StatusBadRequest, "Please choose an image to analyze.")
		return
	}
	if file.Size > MaxUploadSize {
		h.renderCaptureError(c, http.StatusRequestEntityTooLarge, "The image is too large. Please upload a file under 5 MB.")
		return
	}

	src, err := file.Open()
	if err != nil {
		h.renderCaptureError(c, http.StatusBadRequest, "Unable to open the uploaded image.")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		h.renderCaptureError(c, http.StatusInternalServerError, "Failed to read the uploaded image.")
		return
	}

	mimeType := detectImageType(data)
	if mimeType == "" {
		h.renderCaptureError(c, http.StatusUnsupportedMediaType, "Only JPEG, PNG, WebP or HEIC images are supported.")
		return
	}

	if _, err := h.uc.Analyze(c.Request.Context(), sessionID(c), data, mimeType); err != nil {
		h.logger.Warn("analysis failed", zap.Error(err), zap.Bool("invalid_payload", errors.Is(err, prediction.ErrInvalidResult)))
		h.renderCaptureError(c, http.StatusBadGateway, "We could not analyze this image. Please try again.")
		return
	}

	c.Redirect(http.StatusSeeOther, "/analyze")
}

// reset drives the result view's reset control. The view only signals;
// clearing the session's analysis is this handler's job.
func (h *handler) reset(c *gin.Context) {
	ctx := c.Request.Context()
	id := sessionID(c)

	analysis, err := h.uc.Current(ctx, id)
	if errors.Is(err, usecase.ErrNoAnalysis) {
		c.Redirect(http.StatusSeeOther, "/analyze")
		return
	}
	if err != nil {
		c.HTML(http.StatusServiceUnavailable, view.CapturePage, gin.H{"Error": "Results are temporarily unavailable. Please try again."})
		return
	}

	var resetErr error
	rv := view.New(analysis.CapturedImage, analysis.Result, func() {
		resetErr = h.uc.Reset(ctx, id)
	})
	rv.Reset()
	if resetErr != nil {
		c.HTML(http.StatusServiceUnavailable, view.ResultPage, rv.Model())
		return
	}

	c.Redirect(http.StatusSeeOther, "/analyze")
}

func (h *handler) currentAnalysis(c *gin.Context) {
	analysis, err := h.uc.Current(c.Request.Context(), sessionID(c))
	if errors.Is(err, usecase.ErrNoAnalysis) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analysis"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":          analysis.RequestID,
		"predicted_condition": analysis.Result.PredictedCondition,
		"confidence":          analysis.Result.Confidence,
		"confidence_display":  view.FormatConfidence(analysis.Result.Confidence),
		"info":                analysis.Result.Info,
		"created_at":          analysis.CreatedAt,
	})
}

func (h *handler) deleteAnalysis(c *gin.Context) {
	if err := h.uc.Reset(c.Request.Context(), sessionID(c)); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reset failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) renderCaptureError(c *gin.Context, status int, message string) {
	c.HTML(status, view.CapturePage, gin.H{"Error": message})
}

// detectImageType sniffs the upload; the client-declared type is ignored.
func detectImageType(data []byte) string {
	detected := mimetype.Detect(data).String()
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	if allowedImageTypes[detected] {
		return detected
	}
	return ""
}
