package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/skin-check/internal/auth"
	"github.com/example/skin-check/internal/prediction"
	"github.com/example/skin-check/internal/usecase"
	"github.com/example/skin-check/internal/view"
)

const testSessionSecret = "test-secret"

type stubClassifier struct {
	result *prediction.Result
	err    error
	calls  int
}

func (s *stubClassifier) Classify(ctx context.Context, requestID string, image []byte, mimeType string) (*prediction.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newRouter(uc *usecase.AnalysisUseCase) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	router.SetHTMLTemplate(view.Templates())
	RegisterRoutes(router, uc, auth.SessionMiddleware(testSessionSecret, time.Hour, false, zap.NewNop()), zap.NewNop())
	return router
}

func newRedisUseCase(t *testing.T, client *stubClassifier) *usecase.AnalysisUseCase {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return usecase.NewAnalysisUseCase(usecase.NewRedisCache(rdb), client, time.Minute, zap.NewNop())
}

func TestAnalyzeRejectsLargeUpload(t *testing.T) {
	router := newRouter(&usecase.AnalysisUseCase{})

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestAnalyzeRejectsUnsupportedContentType(t *testing.T) {
	router := newRouter(&usecase.AnalysisUseCase{})

	body, contentType := buildMultipartBody(t, "image/png", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestAnalyzeRequiresImage(t *testing.T) {
	router := newRouter(&usecase.AnalysisUseCase{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("note", "no file"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "Please choose an image")
}

func TestAnalyzeResultAndResetFlow(t *testing.T) {
	description := "Clogged pores and inflammation."
	classifier := &stubClassifier{result: &prediction.Result{
		PredictedCondition: "acne",
		Confidence:         0.8734,
		Info: &prediction.Metadata{
			Description: &description,
			RecommendedProducts: []prediction.Product{
				{Image: "https://cdn.example.com/p1.jpg", Title: "Gentle Cleanser", Description: "Daily foam", Link: "https://shop.example.com/p1"},
				{Image: "https://cdn.example.com/p2.jpg", Title: "Barrier Cream", Description: "Ceramides", Link: "https://shop.example.com/p2"},
			},
		},
	}}
	router := newRouter(newRedisUseCase(t, classifier))
	client := &browser{t: t, router: router}

	resp := client.do(httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `enctype="multipart/form-data"`)
	assert.NotContains(t, resp.Body.String(), "Detected Condition")

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	resp = client.do(req)
	require.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/analyze", resp.Header().Get("Location"))
	assert.Equal(t, 1, classifier.calls)

	resp = client.do(httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	page := resp.Body.String()
	assert.Contains(t, page, "Detected Condition")
	assert.Contains(t, page, "87.3%")
	assert.Contains(t, page, description)
	assert.Contains(t, page, `id="products"`)
	assert.Equal(t, 2, strings.Count(page, `class="product-card"`))
	assert.Contains(t, page, `src="data:image/png;base64,`)
	assert.Contains(t, page, view.BookingURL)

	resp = client.do(httptest.NewRequest(http.MethodGet, "/api/analysis", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "acne", payload["predicted_condition"])
	assert.Equal(t, "87.3%", payload["confidence_display"])

	resp = client.do(httptest.NewRequest(http.MethodPost, view.ResetPath, nil))
	require.Equal(t, http.StatusSeeOther, resp.Code)

	resp = client.do(httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), "Detected Condition")

	resp = client.do(httptest.NewRequest(http.MethodGet, "/api/analysis", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestResultPageWithoutInfoHidesOptionalSections(t *testing.T) {
	classifier := &stubClassifier{result: &prediction.Result{PredictedCondition: "eczema", Confidence: 0.5}}
	client := &browser{t: t, router: newRouter(newRedisUseCase(t, classifier))}

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	require.Equal(t, http.StatusSeeOther, client.do(req).Code)

	resp := client.do(httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	page := resp.Body.String()
	assert.Contains(t, page, "50.0%")
	assert.NotContains(t, page, `class="description"`)
	assert.NotContains(t, page, `id="products"`)
	assert.Contains(t, page, "New Analysis")
}

func TestSessionsAreIsolated(t *testing.T) {
	classifier := &stubClassifier{result: &prediction.Result{PredictedCondition: "acne", Confidence: 0.4}}
	router := newRouter(newRedisUseCase(t, classifier))
	alice := &browser{t: t, router: router}
	bob := &browser{t: t, router: router}

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	require.Equal(t, http.StatusSeeOther, alice.do(req).Code)

	assert.Equal(t, http.StatusOK, alice.do(httptest.NewRequest(http.MethodGet, "/api/analysis", nil)).Code)
	assert.Equal(t, http.StatusNotFound, bob.do(httptest.NewRequest(http.MethodGet, "/api/analysis", nil)).Code)
}

func TestAnalyzeClassifierFailure(t *testing.T) {
	classifier := &stubClassifier{err: fmt.Errorf("wrapped: %w", prediction.ErrInvalidResult)}
	client := &browser{t: t, router: newRouter(newRedisUseCase(t, classifier))}

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	resp := client.do(req)

	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Contains(t, resp.Body.String(), "could not analyze")

	resp = client.do(httptest.NewRequest(http.MethodGet, "/api/analysis", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDeleteAnalysis(t *testing.T) {
	client := &browser{t: t, router: newRouter(newRedisUseCase(t, &stubClassifier{}))}

	resp := client.do(httptest.NewRequest(http.MethodDelete, "/api/analysis", nil))
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newRouter(&usecase.AnalysisUseCase{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "skincheck_resets_total")

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, view.PlaceholderImage, nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "image/svg+xml", resp.Header().Get("Content-Type"))
}

// browser replays the session cookie across requests.
type browser struct {
	t      *testing.T
	router *gin.Engine
	cookie *http.Cookie
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	resp := httptest.NewRecorder()
	b.router.ServeHTTP(resp, req)
	for _, c := range resp.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			b.cookie = c
		}
	}
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
