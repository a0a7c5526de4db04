package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
	"github.com/duecycle/duecycle/internal/orgcontext"
)

func (s *Server) CreateMember(c *gin.Context) {
	var req memberdomain.CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	member, err := s.memberSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

func (s *Server) GetMemberByID(c *gin.Context) {
	member, err := s.memberSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

func (s *Server) ListMembers(c *gin.Context) {
	var req memberdomain.ListMembersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.memberSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Members,
		"page_info": resp.PageInfo,
	})
}

// GetMemberBalance reads the cached figures off the member row.
func (s *Server) GetMemberBalance(c *gin.Context) {
	member, err := s.memberSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"member_id":           member.ID,
		"outstanding_balance": member.OutstandingBalance,
		"available_credit":    member.AvailableCredit,
		"next_due_at":         member.NextDueAt,
	}})
}

// RecomputeMemberBalance forces a fresh derivation of both caches.
func (s *Server) RecomputeMemberBalance(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		AbortWithError(c, memberdomain.ErrInvalidOrganization)
		return
	}

	memberID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, memberdomain.ErrInvalidMember)
		return
	}

	totals, err := s.balances.Recompute(ctx, orgID, memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	next, err := s.memberSvc.RecomputeNextDue(ctx, orgID, memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"member_id":           memberID,
		"outstanding_balance": totals.Outstanding,
		"available_credit":    totals.AvailableCredit,
		"next_due_at":         next,
	}})
}

func (s *Server) ListMemberSubscriptions(c *gin.Context) {
	subscriptions, err := s.memberSvc.ListSubscriptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscriptions})
}

func (s *Server) AssignProduct(c *gin.Context) {
	var req memberdomain.AssignProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.MemberID = c.Param("id")

	subscription, err := s.memberSvc.AssignProduct(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) UnassignProduct(c *gin.Context) {
	err := s.memberSvc.UnassignProduct(c.Request.Context(), c.Param("id"), c.Param("subscriptionId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (s *Server) ApplySubscriptionDiscount(c *gin.Context) {
	var req memberdomain.SubscriptionDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.MemberID = c.Param("id")
	req.SubscriptionID = c.Param("subscriptionId")

	subscription, err := s.memberSvc.ApplySubscriptionDiscount(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) RemoveSubscriptionDiscount(c *gin.Context) {
	subscription, err := s.memberSvc.RemoveSubscriptionDiscount(c.Request.Context(), c.Param("id"), c.Param("subscriptionId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}
