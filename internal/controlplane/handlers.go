package controlplane

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlock/driftsync/internal/remote"
	"github.com/driftlock/driftsync/internal/sync"
	"github.com/driftlock/driftsync/internal/utils"
	"github.com/driftlock/driftsync/internal/version"
)

type enqueueRequest struct {
	Table     string        `json:"table" binding:"required"`
	Kind      string        `json:"kind" binding:"required"`
	Record    remote.Record `json:"record" binding:"required"`
	LocalOnly bool          `json:"local_only"`
}

type signinRequest struct {
	Email string `json:"email" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.PureJSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handleForceSync(c *gin.Context) {
	if err := s.engine.ForceSync(); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (s *Server) handleFullSync(c *gin.Context) {
	table := c.Param("table")
	if err := s.engine.FullSync(c.Request.Context(), table); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "status": "completed"})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	table := c.Param("table")
	records, err := s.engine.Snapshot(c.Request.Context(), table)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "records": records})
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := sync.ParseOpKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.engine.EnqueueOperation(c.Request.Context(), req.Table, kind, req.Record, req.LocalOnly)
	if err != nil {
		if errors.Is(err, sync.ErrNotInitialized) {
			abortEngineError(c, err)
			return
		}
		// queued in memory; durability is not confirmed yet
		c.JSON(http.StatusAccepted, gin.H{"id": id, "persisted": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "persisted": true})
}

func (s *Server) handleSignin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateEmail(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.Initialize(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": req.Email})
}

func (s *Server) handleSignout(c *gin.Context) {
	if err := s.engine.SignOut(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

func abortEngineError(c *gin.Context, err error) {
	if errors.Is(err, sync.ErrNotInitialized) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
