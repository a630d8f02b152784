package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/http/dto"
	"basegraph.app/committelemetry/internal/normalize"
	"basegraph.app/committelemetry/internal/ping"
	"basegraph.app/committelemetry/internal/service"
)

type PingHandler struct {
	inspect service.InspectService
}

func NewPingHandler(inspect service.InspectService) *PingHandler {
	return &PingHandler{inspect: inspect}
}

// Changeset renders the ping that would be sent for the push containing a
// changeset. Nothing is sent.
func (h *PingHandler) Changeset(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChangesetPingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	repoURL := ""
	if req.RepoURL != nil {
		repoURL = *req.RepoURL
	}

	res, err := h.inspect.PingForChangeset(ctx, repoURL, req.ChangesetID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChangesetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case normalize.IsMalformed(err):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case hgmo.IsTransient(err):
			slog.WarnContext(ctx, "pushlog unavailable", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "pushlog unavailable"})
		default:
			slog.ErrorContext(ctx, "failed to build ping", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build ping"})
		}
		return
	}

	body, err := ping.Marshal(res.Ping)
	if err != nil {
		slog.ErrorContext(ctx, "built ping does not validate", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ChangesetPingResponse{
		Changeset:  res.Changeset.Node,
		PushID:     res.Ping.Push.PushID,
		DocumentID: ping.DocumentID(res.Ping.Push.Key()),
		Ping:       body,
	})
}

func (h *PingHandler) Schema(c *gin.Context) {
	c.JSON(http.StatusOK, ping.Schema())
}
