package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/auth"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/call"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/history"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/ledger"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Engine  *call.Engine
	Ledger  ledger.Store
	History *history.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	Callees  []string `json:"callees"`
	CallType string   `json:"call_type"`
}

// InitiateCall starts a ringing session with the authenticated user as payer.
func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	payerID, err := auth.UserID(c.Request.Context())
	if err != nil || payerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	callType := call.Type(req.CallType)
	if callType == "" {
		callType = call.TypeVoice
	}
	if callType != call.TypeVoice && callType != call.TypeVideo {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_type must be voice or video"})
		return
	}
	s, err := h.Engine.Initiate(c.Request.Context(), payerID, req.Callees, callType)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}

// AcceptCall transitions a ringing session to connected and starts metering.
// Only a called participant may accept.
func (h Handlers) AcceptCall(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	s, err := h.Engine.Registry().Get(sessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if !isCallee(s, userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only a callee may accept"})
		return
	}
	if err := h.Engine.Accept(c.Request.Context(), sessionID); err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

type endCallRequest struct {
	Reason string `json:"reason"`
}

// EndCall terminates a session. Any participant may hang up. Ending an
// unknown or already-ended session is a no-op, not an error.
func (h Handlers) EndCall(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	if s, lookErr := h.Engine.Registry().Get(sessionID); lookErr == nil && !isParticipant(s, userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	var req endCallRequest
	// Body is optional for hangups.
	_ = c.ShouldBindJSON(&req)

	// Reasons like low_balance and timeout are engine verdicts; a client may
	// only report its own hangup or disconnect.
	reason := call.EndReason(req.Reason)
	switch reason {
	case "", call.ReasonUserHangup, call.ReasonDisconnect:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason must be user_hangup or disconnect"})
		return
	}

	receipt, err := h.Engine.End(c.Request.Context(), sessionID, reason)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// ActiveCalls lists the authenticated user's live sessions. Admins see all.
func (h Handlers) ActiveCalls(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	role, _ := auth.Role(c.Request.Context())

	snaps := h.Engine.Registry().Snapshots()
	out := make([]call.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if rbac.IsAdmin(role) || containsString(s.Participants, userID) {
			out = append(out, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// --- History ---

// CallHistory lists the authenticated user's call records, newest first.
func (h Handlers) CallHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	records, err := h.History.List(c.Request.Context(), userID, from, to)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// CallSummary aggregates the authenticated user's call records.
func (h Handlers) CallSummary(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	summary, err := h.History.Summarize(c.Request.Context(), userID, from, to)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- Wallet ---

// GetWalletBalance returns the authenticated user's balance. A user with no
// ledger rows yet reads as zero.
func (h Handlers) GetWalletBalance(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	bal, err := h.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": bal, "display": bal.String()})
}

type adminCreditRequest struct {
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Reference      string `json:"reference,omitempty"`
}

// AdminCredit performs an admin-only wallet top-up.
// RBAC: admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Amount == "" || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, amount, idempotency_key required"})
		return
	}
	amount, err := billing.ParseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
		return
	}
	entry, bal, err := h.Ledger.Credit(c.Request.Context(), req.UserID, amount, req.IdempotencyKey, req.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "balance": bal, "display": bal.String()})
}

// --- helpers ---

// abortCallError maps engine sentinel errors to HTTP statuses.
func abortCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrInsufficientBalance):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, call.ErrDuplicateSession):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "participant already in a call"})
	case errors.Is(err, call.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, call.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid session state"})
	case errors.Is(err, call.ErrLedgerUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
	case errors.Is(err, call.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return from, to, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return from, to, false
		}
		to = t
	}
	// Default window: the last 30 days.
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	if !to.After(from) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return from, to, false
	}
	return from, to, true
}

func isCallee(s *call.Session, userID string) bool {
	return userID != s.PayerID && containsString(s.Participants, userID)
}

func isParticipant(s *call.Session, userID string) bool {
	return containsString(s.Participants, userID)
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
