// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tracewipe/internal/pipeline"
	"tracewipe/internal/policy"
)

func (s *Server) getStatus(c *gin.Context) {
	status, err := s.engine.Status()
	if err != nil {
		logrus.WithError(err).Error("Failed to build status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) setPaused(c *gin.Context) {
	var req struct {
		Value bool `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.SetPaused(req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update pause state"})
		return
	}

	s.broadcast(WSMessage{Type: "paused", Data: req.Value})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"paused": req.Value}})
}

func (s *Server) forgetURL(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.engine.ForgetURL(c.Request.Context(), req.URL)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) testURL(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.engine.TestURL(req.URL)})
}

func (s *Server) getActionLog(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	entries, err := s.engine.ActionLog().Recent(limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to read action log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get action log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  entries,
		"count": len(entries),
	})
}

func (s *Server) clearActionLog(c *gin.Context) {
	if err := s.engine.ActionLog().Clear(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear action log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "cleared"})
}

func (s *Server) clearBuffer(c *gin.Context) {
	if err := s.engine.Buffer().Clear(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear buffer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "cleared"})
}

func (s *Server) getRules(c *gin.Context) {
	rules, err := s.rules.List()
	if err != nil {
		logrus.WithError(err).Error("Failed to get rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  rules,
		"count": len(rules),
	})
}

func (s *Server) getRule(c *gin.Context) {
	rule, err := s.rules.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, policy.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) createRule(c *gin.Context) {
	rule := policy.NewRule()
	if err := c.ShouldBindJSON(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := policy.Validate(rule); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": result.Errors})
		return
	}

	if err := s.rules.Create(rule); err != nil {
		logrus.WithError(err).Error("Failed to create rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}

	s.reloadRules()
	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

func (s *Server) updateRule(c *gin.Context) {
	var rule policy.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = c.Param("id")

	if result := policy.Validate(&rule); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": result.Errors})
		return
	}

	if err := s.rules.Update(&rule); err != nil {
		if errors.Is(err, policy.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		logrus.WithError(err).Error("Failed to update rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update rule"})
		return
	}

	s.reloadRules()
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.rules.Delete(c.Param("id")); err != nil {
		if errors.Is(err, policy.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete rule"})
		return
	}

	s.reloadRules()
	c.JSON(http.StatusOK, gin.H{"data": "deleted"})
}

func (s *Server) reloadRules() {
	if err := s.engine.ReloadRules(); err != nil {
		logrus.WithError(err).Error("Failed to reload rules after mutation")
	}
}

func (s *Server) eventVisit(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.ProcessDeletion(c.Request.Context(), req.URL, pipeline.TriggerVisit)
	c.JSON(http.StatusOK, gin.H{"data": "processed"})
}

func (s *Server) eventNavigation(c *gin.Context) {
	var req struct {
		TabID    int    `json:"tab_id"`
		URL      string `json:"url" binding:"required"`
		TopFrame bool   `json:"top_frame"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Sub-frame navigations never drive tab tracking.
	if !req.TopFrame {
		c.JSON(http.StatusOK, gin.H{"data": "ignored"})
		return
	}

	if err := s.engine.TrackTab(req.TabID, req.URL); err != nil {
		logrus.WithError(err).Warn("Failed to track tab")
	}
	c.JSON(http.StatusOK, gin.H{"data": "tracked"})
}

func (s *Server) eventTabClose(c *gin.Context) {
	var req struct {
		TabID int `json:"tab_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.HandleTabClose(c.Request.Context(), req.TabID)
	c.JSON(http.StatusOK, gin.H{"data": "processed"})
}

func (s *Server) eventWindowClose(c *gin.Context) {
	s.engine.HandleWindowClose(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": "processed"})
}
