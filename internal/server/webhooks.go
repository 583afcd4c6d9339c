package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	evdomain "github.com/smallbiznis/hookrelay/internal/event/domain"
)

const signatureHeader = "X-Gateway-Signature"

// maxBodyBytes bounds webhook bodies; the gateway's largest payloads are
// well under 1 MiB.
const maxBodyBytes = 1 << 20

// HandleWebhook ingests one gateway notification. Both first delivery and
// redelivery answer 200 so the gateway stops retrying; only verification,
// parse and infrastructure failures are non-2xx.
func (s *Server) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	admission, err := s.eventSvc.Ingest(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := "accepted"
	if admission == evdomain.Duplicate {
		status = "duplicate"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
