package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

// SessionCookie names the cookie carrying the signed session token.
const SessionCookie = "skin_session"

const sessionIssuer = "skin-check"

// GetSessionID retrieves the session identifier from context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// SessionMiddleware gives every visitor a stable anonymous session. The
// session id travels as the subject of an HS256 token in SessionCookie;
// a missing or invalid token is replaced by a fresh session.
func SessionMiddleware(secret string, lifetime time.Duration, secure bool, logger *zap.Logger) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))

	return func(c *gin.Context) {
		if len(key) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "missing session secret"})
			return
		}

		sessionID, err := sessionFromCookie(c, key)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				logger.Debug("discarding session cookie", zap.Error(err))
			}
			sessionID = uuid.NewString()
			token, err := issueToken(key, sessionID, lifetime)
			if err != nil {
				logger.Error("failed to sign session token", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, token, int(lifetime.Seconds()), "/", "", secure, true)
		}

		ctx := context.WithValue(c.Request.Context(), sessionIDKey, sessionID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(sessionIDKey), sessionID)

		c.Next()
	}
}

func sessionFromCookie(c *gin.Context, key []byte) (string, error) {
	raw, err := c.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", errors.New("empty session token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithIssuer(sessionIssuer))
	if err != nil || !token.Valid {
		return "", errors.New("invalid session token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", errors.New("malformed session subject")
	}
	return claims.Subject, nil
}

func issueToken(key []byte, sessionID string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
