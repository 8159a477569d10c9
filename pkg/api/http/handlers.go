package http

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte("ok"))
}

// handleFallback routes every unmatched path: the relay prefix goes to the
// relay transport, anything else gets the static page
func (s *Server) handleFallback(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, s.relayPath) {
		if s.relay == nil {
			c.String(http.StatusServiceUnavailable, "relay unavailable")
			return
		}
		s.relay.HandleRelay(c)
		return
	}

	s.handleStatic(c)
}

// handleStatic serves the page with caching disabled
func (s *Server) handleStatic(c *gin.Context) {
	page, err := s.readPage()
	if err != nil {
		s.logger.Error("failed to read static page",
			zap.String("file", s.staticFile),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to load page")
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) readPage() ([]byte, error) {
	if s.staticFile != "" {
		return os.ReadFile(s.staticFile)
	}
	return staticFiles.ReadFile(indexPath)
}
