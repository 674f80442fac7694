package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storlock/internal/invoicefile"
)

func (s *Server) HandleDownloadInvoice(c *gin.Context) {
	var req invoicefile.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.invoiceSvc.Download(c.Request.Context(), userIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
