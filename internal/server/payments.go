package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
)

func (s *Server) RecordPayment(c *gin.Context) {
	var req chargedomain.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.chargeSvc.RecordPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) LinkPayment(c *gin.Context) {
	charge, err := s.chargeSvc.LinkPayment(c.Request.Context(), c.Param("id"), c.Param("paymentId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charge})
}

// GetPaymentByGatewayRef looks a payment up by the external gateway's
// transaction reference, for webhook callers reconciling their side.
func (s *Server) GetPaymentByGatewayRef(c *gin.Context) {
	payment, err := s.chargeSvc.FindPaymentByGatewayRef(c.Request.Context(), c.Param("ref"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}
