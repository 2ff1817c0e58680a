package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skin-check/internal/classifier"
	"github.com/example/skin-check/internal/logging"
	"github.com/example/skin-check/internal/prediction"
)

// ErrNoAnalysis means the session has nothing to display.
var ErrNoAnalysis = errors.New("no analysis for session")

// Analysis is the caller-owned state behind the result page: the capture
// and the verdict currently shown for one session.
type Analysis struct {
	RequestID     string            `json:"request_id"`
	CapturedImage string            `json:"captured_image"`
	Result        prediction.Result `json:"result"`
	CreatedAt     time.Time         `json:"created_at"`
}

// AnalysisUseCase encapsulates the capture, classify and reset flow.
type AnalysisUseCase struct {
	cache          Cache
	classifier     classifier.Client
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(cache Cache, client classifier.Client, resultTTL time.Duration, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		cache:          cache,
		classifier:     client,
		logger:         logger.Named("analysis_usecase"),
		resultTTL:      resultTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

func analysisKey(sessionID string) string {
	return fmt.Sprintf("analysis:%s", sessionID)
}

// Analyze classifies the image and makes the outcome the session's
// current analysis.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, sessionID string, image []byte, mimeType string) (*Analysis, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.analyze", requestID), sessionID)

	started := uc.now()
	result, err := uc.classifier.Classify(ctx, requestID, image, mimeType)
	ClassifyDuration.Observe(uc.now().Sub(started).Seconds())
	if err != nil {
		AnalysesTotal.WithLabelValues(outcomeClassifierError).Inc()
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	analysis := &Analysis{
		RequestID:     requestID,
		CapturedImage: dataURL(mimeType, image),
		Result:        *result,
		CreatedAt:     uc.now().UTC(),
	}

	serialized, err := json.Marshal(analysis)
	if err != nil {
		opLogger.Error("failed to serialize analysis", zap.Error(err))
		return nil, logging.NewOperationError("usecase.serialize", requestID, err)
	}

	if err := uc.withRedisRetry(ctx, requestID, sessionID, "cache.set.analysis", func() error {
		return uc.cache.Set(ctx, analysisKey(sessionID), string(serialized), uc.resultTTL)
	}); err != nil {
		AnalysesTotal.WithLabelValues(outcomeStorageError).Inc()
		opLogger.Error("failed to store analysis", zap.Error(err))
		return nil, err
	}

	AnalysesTotal.WithLabelValues(outcomeSuccess).Inc()
	RecommendedProducts.Observe(float64(len(result.Products())))
	opLogger.Info("analysis stored",
		zap.String("predicted_condition", result.PredictedCondition),
		zap.Float64("confidence", result.Confidence),
		zap.Int("recommended_products", len(result.Products())),
	)
	return analysis, nil
}

// Current returns the session's analysis or ErrNoAnalysis.
func (uc *AnalysisUseCase) Current(ctx context.Context, sessionID string) (*Analysis, error) {
	cached, err := uc.withRedisGet(ctx, sessionID, "cache.get.analysis", analysisKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoAnalysis
		}
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(cached), &analysis); err != nil {
		// An unreadable entry is dropped so the session can start over.
		opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.current", ""), sessionID)
		opLogger.Warn("failed to decode cached analysis", zap.Error(err))
		if err := uc.cache.Del(ctx, analysisKey(sessionID)); err != nil {
			opLogger.Warn("failed to drop undecodable analysis", zap.Error(err))
		}
		return nil, ErrNoAnalysis
	}
	return &analysis, nil
}

// Reset clears the session's analysis so the capture page shows again.
func (uc *AnalysisUseCase) Reset(ctx context.Context, sessionID string) error {
	ResetsTotal.Inc()
	if err := uc.withRedisRetry(ctx, "", sessionID, "cache.del.analysis", func() error {
		return uc.cache.Del(ctx, analysisKey(sessionID))
	}); err != nil {
		logging.WithSession(uc.logger, sessionID).Error("failed to reset analysis", zap.Error(err))
		return err
	}
	return nil
}

func dataURL(mimeType string, image []byte) string {
	if len(image) == 0 {
		return ""
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// withRedisRetry runs fn with backoff on transient errors. requestID is
// empty for calls that are not part of an analysis request.
func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, sessionID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, operation, requestID), sessionID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, sessionID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, "", sessionID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
