package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storlock/internal/checkout"
)

func (s *Server) HandleCreateCheckoutSession(c *gin.Context) {
	var req checkout.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.checkoutSvc.CreateSession(c.Request.Context(), userIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
