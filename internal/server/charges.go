package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
)

func (s *Server) CreateCharge(c *gin.Context) {
	var req chargedomain.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	charge, err := s.chargeSvc.CreateCharge(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func (s *Server) GetChargeByID(c *gin.Context) {
	charge, err := s.chargeSvc.GetCharge(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func (s *Server) ListCharges(c *gin.Context) {
	var req chargedomain.ListChargesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	charges, nextToken, err := s.chargeSvc.ListCharges(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            charges,
		"next_page_token": nextToken,
	})
}

// DeleteCharge removes a charge and reports how much linked payment amount
// converted back into available credit. The snapshot in the response is
// the restore token.
func (s *Server) DeleteCharge(c *gin.Context) {
	result, err := s.chargeSvc.DeleteCharge(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RestoreCharge(c *gin.Context) {
	var snap chargedomain.ChargeSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	charge, err := s.chargeSvc.RestoreCharge(c.Request.Context(), snap)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func (s *Server) ApplyChargeDiscount(c *gin.Context) {
	var req chargedomain.ChargeDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	charge, err := s.chargeSvc.ApplyChargeDiscount(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func (s *Server) RemoveChargeDiscount(c *gin.Context) {
	charge, err := s.chargeSvc.RemoveChargeDiscount(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charge})
}
