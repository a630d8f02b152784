package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/committelemetry/internal/http/dto"
	"basegraph.app/committelemetry/internal/normalize"
	"basegraph.app/committelemetry/internal/service"
)

const maxNotificationBytes = 4 << 20

type PushHandler struct {
	intake service.PushIntakeService
}

func NewPushHandler(intake service.PushIntakeService) *PushHandler {
	return &PushHandler{intake: intake}
}

func (h *PushHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "notification too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	res, err := h.intake.Submit(ctx, body)
	if err != nil {
		if normalize.IsMalformed(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to enqueue push notification", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue notification"})
		return
	}

	status := http.StatusAccepted
	if !res.Enqueued {
		status = http.StatusOK
	}
	c.JSON(status, dto.SubmitPushResponse{
		Enqueued:  res.Enqueued,
		MessageID: res.MessageID,
		RepoURL:   res.RepoURL,
		PushIDs:   res.PushIDs,
		Ignored:   res.Ignored,
	})
}
