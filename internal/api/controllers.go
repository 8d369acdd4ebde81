package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/executor"
	"execution-core/internal/reconciler"
	"execution-core/pkg/db"
)

// submitIntent accepts one trade intent. The owner always comes from
// the bearer token, never the body. Rejections after validation come
// back as HTTP 200 with a structured result so the caller can act on
// the reason.
func (s *Server) submitIntent(c *gin.Context) {
	var in executor.Intent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed intent: " + err.Error()})
		return
	}
	in.OwnerID = CurrentUserID(c)

	res, err := s.Exec.Submit(c.Request.Context(), &in)
	if errors.Is(err, executor.ErrValidation) {
		c.JSON(http.StatusBadRequest, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listPositions(c *gin.Context) {
	positions := s.Exec.Tracker().ListByOwner(CurrentUserID(c))
	if positions == nil {
		positions = []*db.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) listTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.DB.ListTradeRecords(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade history unavailable"})
		return
	}
	if trades == nil {
		trades = []*db.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// syncPositions re-derives the owner's book from the exchange's live
// position list.
func (s *Server) syncPositions(c *gin.Context) {
	var req struct {
		ExchangeID string `json:"exchangeId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchangeId is required"})
		return
	}
	disc, err := s.Recon.Sync(c.Request.Context(), CurrentUserID(c), req.ExchangeID, s.DB)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if disc == nil {
		disc = []reconciler.Discrepancy{}
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": disc})
}

// upsertCredential stores exchange credentials for the caller. Secret
// fields are sealed before they touch the database.
func (s *Server) upsertCredential(c *gin.Context) {
	var req struct {
		ExchangeID  string `json:"exchangeId" binding:"required"`
		Environment string `json:"environment"`
		APIKey      string `json:"apiKey"`
		APISecret   string `json:"apiSecret"`
		Identifier  string `json:"identifier"`
		Password    string `json:"password"`
		PIN         string `json:"pin"`
		AccessToken string `json:"accessToken"`
		Label       string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed credential payload"})
		return
	}
	if req.Environment == "" {
		req.Environment = "production"
	}

	cred := &db.Credential{
		OwnerID:     CurrentUserID(c),
		ExchangeID:  req.ExchangeID,
		Environment: req.Environment,
		Identifier:  req.Identifier,
		Label:       req.Label,
	}
	var err error
	for _, field := range []struct {
		dst   *string
		value string
	}{
		{&cred.APIKey, req.APIKey},
		{&cred.APISecret, req.APISecret},
		{&cred.Password, req.Password},
		{&cred.PIN, req.PIN},
		{&cred.AccessToken, req.AccessToken},
	} {
		if field.value == "" {
			continue
		}
		*field.dst, err = s.Ring.Seal(field.value)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "credential sealing failed"})
			return
		}
	}
	if req.AccessToken != "" {
		cred.TokenIssuedAt = time.Now().UTC()
	}

	if err := s.DB.UpsertCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential not stored"})
		return
	}
	s.Resolver.Invalidate(cred.OwnerID, cred.ExchangeID, cred.Environment)
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

// createRelationship opts the caller in as a follower of a leader.
func (s *Server) createRelationship(c *gin.Context) {
	var req struct {
		LeaderID           string  `json:"leaderId" binding:"required"`
		LeaderStrategyID   string  `json:"leaderStrategyId"`
		AllocationPct      float64 `json:"allocationPercent" binding:"required"`
		MaxDrawdownStopPct float64 `json:"maxDrawdownStopPercent"`
		InitialEquity      float64 `json:"initialEquity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed relationship payload"})
		return
	}
	if req.AllocationPct <= 0 || req.AllocationPct > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "allocationPercent must be in (0, 100]"})
		return
	}

	rel := &db.CopyRelationship{
		FollowerID:         CurrentUserID(c),
		LeaderID:           req.LeaderID,
		LeaderStrategyID:   req.LeaderStrategyID,
		AllocationPct:      req.AllocationPct,
		MaxDrawdownStopPct: req.MaxDrawdownStopPct,
		HighWaterMark:      req.InitialEquity,
		CurrentEquity:      req.InitialEquity,
	}
	if err := s.DB.CreateCopyRelationship(c.Request.Context(), rel); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "relationship not created"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rel.ID})
}

// stopRelationship soft-deletes a relationship. Only its follower may
// stop it.
func (s *Server) stopRelationship(c *gin.Context) {
	id := c.Param("id")
	rel, err := s.DB.GetCopyRelationship(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "relationship not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if rel.FollowerID != CurrentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your relationship"})
		return
	}
	if err := s.DB.SetRelationshipStatus(c.Request.Context(), id, db.RelationshipStopped); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "relationship not stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": db.RelationshipStopped})
}
