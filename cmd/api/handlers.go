package main

import (
	"net/http"

	"github.com/PaulBabatuyi/relaychat/internal/auth"
	"github.com/PaulBabatuyi/relaychat/internal/chat"
	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/normalize"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// usersPageLimit matches how many contacts the chat page lists.
const usersPageLimit = 10

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sendRequest struct {
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	ChatID     string `json:"chatId"`
}

type repairRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type authResponse struct {
	User  *events.UserRef `json:"user"`
	Token string          `json:"token"`
}

// register hashes the password, stores the user and starts a session.
func (app *application) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := normalize.Email(req.Email)
	if !app.authLimiter.Allow("email:" + email) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		app.serverError(c, "hash password", err)
		return
	}

	user, err := app.users.CreateUser(c.Request.Context(), email, normalize.Text(req.Username), hashed)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
			return
		}
		app.storeError(c, "create user", err)
		return
	}

	token, err := app.startSession(c, user)
	if err != nil {
		app.serverError(c, "sign session", err)
		return
	}
	app.log.Info("user registered", zap.String("user", user.ID))
	c.JSON(http.StatusCreated, authResponse{User: events.RefOf(user), Token: token})
}

// login verifies credentials and starts a session.
func (app *application) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := normalize.Email(req.Email)
	if !app.authLimiter.Allow("email:" + email) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	user, err := app.users.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrBadCredentials.Error()})
			return
		}
		app.storeError(c, "find user", err)
		return
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrBadCredentials.Error()})
		return
	}

	token, err := app.startSession(c, user)
	if err != nil {
		app.serverError(c, "sign session", err)
		return
	}
	c.JSON(http.StatusOK, authResponse{User: events.RefOf(user), Token: token})
}

// logout ends the current session, if any. It always succeeds.
func (app *application) logout(c *gin.Context) {
	if sess, err := app.lookupSession(bearerOrCookie(c.Request)); err == nil {
		app.sessions.Delete(sess.Token)
	}
	clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (app *application) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": events.RefOf(currentSession(c).User)})
}

// listUsers returns other users with their online state.
func (app *application) listUsers(c *gin.Context) {
	me := currentSession(c).User.ID
	users, err := app.users.ListUsers(c.Request.Context(), me, usersPageLimit)
	if err != nil {
		app.storeError(c, "list users", err)
		return
	}

	type userView struct {
		*events.UserRef
		Online bool `json:"online"`
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{UserRef: events.RefOf(u), Online: app.registry.IsOnline(u.ID)})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (app *application) listChats(c *gin.Context) {
	views, err := app.router.ListChats(c.Request.Context(), currentSession(c).User.ID)
	if err != nil {
		app.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": views})
}

// loadHistory is the request/response history query.
func (app *application) loadHistory(c *gin.Context) {
	other := c.Query("userId")
	msgs, err := app.router.LoadHistory(c.Request.Context(), currentSession(c).User.ID, other)
	if err != nil {
		app.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, events.MessagesLoadedPayload{
		UserID:   normalize.ID(other),
		Messages: events.MessagesOf(msgs),
	})
}

// sendMessage routes a message without a live connection. Connected
// participants are still notified.
func (app *application) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	me := currentSession(c).User.ID
	if !app.sendLimiter.Allow("send:" + me) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	res, err := app.router.SendMessage(c.Request.Context(), chat.SendRequest{
		SenderID:   me,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		ChatID:     app.router.VerifyChatID(c.Request.Context(), me, req.ReceiverID, req.ChatID),
	})
	if err != nil {
		app.chatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"chatId":    res.ChatID,
		"isNewChat": res.IsNewChat,
		"message":   events.MessageOf(res.Message),
	})
}

// repairChat fixes a chat that only one participant's index holds.
func (app *application) repairChat(c *gin.Context) {
	var req repairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatID, repaired, err := app.router.RepairChatIndex(c.Request.Context(), currentSession(c).User.ID, req.UserID)
	if err != nil {
		app.chatError(c, err)
		return
	}
	if chatID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no chat with that user"})
		return
	}
	if repaired == nil {
		repaired = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chatID, "repaired": repaired})
}

func (app *application) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"backend": app.cfg.StoreBackend,
		"online":  len(app.registry.OnlineUsers()),
	})
}

// chatError maps the router's error taxonomy to HTTP statuses.
func (app *application) chatError(c *gin.Context, err error) {
	body := gin.H{"error": chat.ClientMessage(err)}
	var partial *chat.PartialIndexWriteError
	switch {
	case errors.Is(err, chat.ErrInvalidParticipants), errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, chat.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, body)
	case errors.As(err, &partial):
		body["chatId"] = partial.ChatID
		body["missing"] = partial.Missing
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, chat.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

func (app *application) storeError(c *gin.Context, op string, err error) {
	app.log.Error(op+" failed", zap.Error(err))
	if errors.Is(err, data.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": chat.ErrStorageUnavailable.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (app *application) serverError(c *gin.Context, op string, err error) {
	app.log.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
