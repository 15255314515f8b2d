package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tldrpost/internal/discovery"
	"tldrpost/internal/domain"
	"tldrpost/internal/page"
)

type changeModelRequest struct {
	Model string `json:"model" binding:"required"`
}

func (s *Server) render(c *gin.Context) {
	html, err := s.page.Render(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to render page", err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) mutate(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := decodeBatch(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err = s.page.Mutate(c.Request.Context(), batch); err != nil {
		s.fail(c, "Failed to apply mutations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": len(batch)})
}

func (s *Server) blocks(c *gin.Context) {
	snap, err := s.page.Snapshot(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to snapshot blocks", err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (s *Server) changeModel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "block id must be a positive integer"})
		return
	}

	var req changeModelRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	model := strings.TrimSpace(req.Model)
	if err = s.page.ChangeModel(c.Request.Context(), domain.BlockID(id), model); err != nil {
		s.fail(c, "Failed to change model", err,
			"blockID", id,
			"model", model)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"blockID": id, "model": model})
}

func (s *Server) selection(c *gin.Context) {
	c.JSON(http.StatusOK, s.models.Selection())
}

func (s *Server) fail(c *gin.Context, msg string, err error, args ...any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), msg, append([]any{"error", err}, args...)...)
	} else {
		s.log.WarnContext(c.Request.Context(), msg, append([]any{"error", err}, args...)...)
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownModel),
		errors.Is(err, domain.ErrNothingToSummarize),
		errors.Is(err, page.ErrInvalidMutation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnknownBlock):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFeatureDisabled):
		return http.StatusConflict
	case errors.Is(err, discovery.ErrLoopStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBatch accepts a single mutation object or a list of them.
func decodeBatch(raw []byte) (page.Batch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("request body is empty")
	}

	if raw[0] == '[' {
		var batch page.Batch
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var m page.Mutation
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	return page.Batch{m}, nil
}
