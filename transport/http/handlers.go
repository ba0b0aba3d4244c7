package http

import (
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
	"github.com/layer-3/zelid/service"
)

// AuthHandlers contains HTTP handlers for the identity endpoints
type AuthHandlers struct {
	authService *service.AuthService
	log         watermill.LoggerAdapter
	upgrader    websocket.Upgrader
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, logger watermill.LoggerAdapter) *AuthHandlers {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &AuthHandlers{
		authService: authService,
		log:         logger.With(watermill.LogFields{"component": "http"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// phrases are requested from third-party frontends
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type phraseResponse struct {
	Phrase    string    `json:"phrase"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type verifyLoginRequest struct {
	LoginPhrase string `json:"loginPhrase" binding:"required"`
	Zelid       string `json:"zelid" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
}

type logoutSpecificRequest struct {
	LoginPhrase string `json:"loginPhrase" binding:"required"`
}

type logoutAllRequest struct {
	Zelid string `json:"zelid"`
}

// sessionSummary is a session as shown to clients; the token never leaves the store
type sessionSummary struct {
	LoginPhrase string    `json:"loginPhrase"`
	Zelid       string    `json:"zelid"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

func summarize(sessions []core.Session) []sessionSummary {
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummary{
			LoginPhrase: s.Phrase,
			Zelid:       s.Address,
			CreatedAt:   s.CreatedAt,
			LastSeen:    s.LastSeen,
		})
	}
	return out
}

// LoginPhrase issues a new challenge
func (h *AuthHandlers) LoginPhrase(c *gin.Context) {
	phrase, err := h.authService.IssueChallenge(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, phraseResponse{Phrase: phrase.Value, ExpiresAt: phrase.ExpiresAt})
}

// VerifyLogin checks a signed phrase and returns the bearer token
func (h *AuthHandlers) VerifyLogin(c *gin.Context) {
	var req verifyLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.Validation("invalid request"))
		return
	}

	result, err := h.authService.VerifyLogin(c.Request.Context(), service.VerifyRequest{
		Phrase:    req.LoginPhrase,
		Address:   req.Zelid,
		Signature: req.Signature,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": result.Token, "zelid": result.Session.Address})
}

// Subscribe upgrades to a WebSocket that receives the outcome of a phrase
func (h *AuthHandlers) Subscribe(c *gin.Context) {
	phrase := c.Param("loginphrase")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Debug("ws upgrade failed", watermill.LogFields{"err": err.Error()})
		return
	}
	defer ws.Close()

	conn := newWSConn(ws, h.log)
	go conn.readPump()

	if err := h.authService.Subscribe(c.Request.Context(), phrase, conn); err != nil {
		// the hub has already closed conn with the matching code
		h.log.Debug("ws subscription rejected", watermill.LogFields{"phrase": phrase, "reason": core.KindOf(err).String()})
	} else {
		defer h.authService.Unsubscribe(phrase, conn)
	}

	conn.writePump()
}

// LoggedSessions lists the caller's sessions
func (h *AuthHandlers) LoggedSessions(c *gin.Context) {
	sessions, err := h.authService.SessionsForCaller(c.Request.Context(), callerFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(sessions))
}

// LoggedUsers lists every session
func (h *AuthHandlers) LoggedUsers(c *gin.Context) {
	sessions, err := h.authService.AllSessions(c.Request.Context(), callerFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(sessions))
}

// LogoutCurrent revokes the session behind the bearer token
func (h *AuthHandlers) LogoutCurrent(c *gin.Context) {
	if err := h.authService.LogoutCurrent(c.Request.Context(), callerFrom(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// LogoutSpecific revokes the session created from a phrase
func (h *AuthHandlers) LogoutSpecific(c *gin.Context) {
	var req logoutSpecificRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.Validation("invalid request"))
		return
	}
	if err := h.authService.LogoutSpecific(c.Request.Context(), req.LoginPhrase); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// LogoutAllSessions revokes every session of the caller, or of another
// address when the caller is privileged
func (h *AuthHandlers) LogoutAllSessions(c *gin.Context) {
	var req logoutAllRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, core.Validation("invalid request"))
			return
		}
	}
	n, err := h.authService.LogoutAllForAddress(c.Request.Context(), callerFrom(c), req.Zelid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out", "revoked": n})
}

// LogoutAllUsers revokes every session
func (h *AuthHandlers) LogoutAllUsers(c *gin.Context) {
	n, err := h.authService.LogoutAll(c.Request.Context(), callerFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out", "revoked": n})
}

// ActiveLoginPhrases lists pending phrases
func (h *AuthHandlers) ActiveLoginPhrases(c *gin.Context) {
	phrases, err := h.authService.ActiveChallenges(c.Request.Context(), callerFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]phraseResponse, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, phraseResponse{Phrase: p.Value, ExpiresAt: p.ExpiresAt})
	}
	c.JSON(http.StatusOK, out)
}

// Me returns the caller's address and tier
func (h *AuthHandlers) Me(c *gin.Context) {
	caller := callerFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"zelid": caller.Address,
		"tier":  h.authService.TierOf(caller).String(),
	})
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": h.authService.Hub().Len()})
}

var _ ports.Conn = (*wsConn)(nil)
