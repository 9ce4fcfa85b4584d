package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/auth"
	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/PaulBabatuyi/relaychat/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	sessionCookie = "sessionId"
	sessionKey    = "session"
)

var errNoSession = errors.New("no session")

// bearerOrCookie returns the signed session value from the Authorization
// header or the session cookie.
func bearerOrCookie(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// lookupSession verifies a signed value and resolves its session.
func (app *application) lookupSession(value string) (session.Session, error) {
	if value == "" {
		return session.Session{}, errNoSession
	}
	claims, err := app.signer.Verify(value)
	if err != nil {
		return session.Session{}, err
	}
	sess, ok := app.sessions.Get(claims.SessionID)
	if !ok || sess.User.ID != claims.UserID {
		return session.Session{}, errors.Wrap(auth.ErrInvalidToken, "session not found")
	}
	return sess, nil
}

// resolveToken is the gRPC TokenResolver.
func (app *application) resolveToken(token string) (string, error) {
	sess, err := app.lookupSession(token)
	if err != nil {
		return "", err
	}
	return sess.User.ID, nil
}

// socketAuth resolves the session user of a websocket upgrade; anonymous
// upgrades are allowed and bind through join.
func (app *application) socketAuth(r *http.Request) string {
	sess, err := app.lookupSession(bearerOrCookie(r))
	if err != nil {
		return ""
	}
	return sess.User.ID
}

// requireSession aborts with 401 unless the request carries a live session.
func (app *application) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := app.lookupSession(bearerOrCookie(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) session.Session {
	v, _ := c.Get(sessionKey)
	sess, _ := v.(session.Session)
	return sess
}

// startSession creates a session for the user and sets the cookie. The
// signed value is returned for bearer clients.
func (app *application) startSession(c *gin.Context, user *data.User) (string, error) {
	token := app.sessions.Create(user)
	value, err := app.signer.Sign(token, user.ID)
	if err != nil {
		app.sessions.Delete(token)
		return "", err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   app.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return value, nil
}

func clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// requestLogger logs each request at debug, errors at warn.
func (app *application) requestLogger() gin.HandlerFunc {
	log := app.log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed", fields...)
			return
		}
		log.Debug("request", fields...)
	}
}
