package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"helpdesk-sync/internal/crm"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TicketWriter 是门户发起的远端写操作，由 crm.Client 实现
type TicketWriter interface {
	CreateDeal(ctx context.Context, in crm.TicketInput) (int64, error)
	CloseDeal(ctx context.Context, dealID int64, rating int, comment string) error
	SendEmail(ctx context.Context, in crm.EmailInput) (int64, error)
	AddComment(ctx context.Context, dealID int64, comment string, files []crm.Attachment) error
}

type TicketHandler struct {
	crm    TicketWriter
	store  repository.Store
	logger *zap.Logger
}

func NewTicketHandler(writer TicketWriter, store repository.Store, logger *zap.Logger) *TicketHandler {
	return &TicketHandler{
		crm:    writer,
		store:  store,
		logger: logger,
	}
}

type createTicketRequest struct {
	Title               string           `json:"title" binding:"required"`
	Description         string           `json:"description"`
	FullName            string           `json:"full_name" binding:"required"`
	Email               string           `json:"email" binding:"required,email"`
	Phone               string           `json:"phone"`
	Matricula           string           `json:"matricula"`
	RequesterDepartment string           `json:"requester_department"`
	AssigneeDepartment  string           `json:"assignee_department"`
	Branch              string           `json:"branch"`
	Priority            string           `json:"priority"`
	SystemType          string           `json:"system_type"`
	ServiceCategory     string           `json:"service_category"`
	Attachments         []crm.Attachment `json:"attachments"`
}

// patch 本地先写入门户已知的字段，之后的通知会用远端状态覆盖
func (r createTicketRequest) patch(dealID, userID int64) model.DealPatch {
	return model.DealPatch{
		DealID:              dealID,
		Title:               model.String(r.Title),
		Description:         model.String(r.Description),
		RequesterDepartment: model.String(r.RequesterDepartment),
		AssigneeDepartment:  model.String(r.AssigneeDepartment),
		ServiceCategory:     model.String(r.ServiceCategory),
		SystemType:          model.String(r.SystemType),
		Priority:            model.String(r.Priority),
		Branch:              model.String(r.Branch),
		Matricula:           model.String(r.Matricula),
		ClientPhone:         model.String(r.Phone),
		RequesterEmail:      model.String(r.Email),
		UserID:              &userID,
	}
}

// CreateTicket 在远端创建工单并写入本地镜像
// POST /tickets
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	uid, _, ok := userFromContext(c)
	if !ok {
		return
	}

	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	dealID, err := h.crm.CreateDeal(ctx, crm.TicketInput{
		Title:               req.Title,
		Description:         req.Description,
		FullName:            req.FullName,
		Email:               req.Email,
		Phone:               req.Phone,
		Matricula:           req.Matricula,
		RequesterDepartment: req.RequesterDepartment,
		AssigneeDepartment:  req.AssigneeDepartment,
		Branch:              req.Branch,
		Priority:            req.Priority,
		SystemType:          req.SystemType,
		ServiceCategory:     req.ServiceCategory,
		Attachments:         req.Attachments,
	})
	if err != nil {
		h.logger.Error("Failed to create remote deal", zap.Int64("user_id", uid), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create ticket", "details": err.Error()})
		return
	}

	var deal *model.Deal
	err = h.store.WithinUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		deal, _, err = repository.UpsertDeal(ctx, tx, req.patch(dealID, uid))
		return err
	})
	if err != nil {
		h.logger.Error("Failed to store created deal",
			zap.Int64("deal_id", dealID),
			zap.Int64("user_id", uid),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket created remotely but not stored", "deal_id": dealID})
		return
	}

	h.logger.Info("Ticket created", zap.Int64("deal_id", dealID), zap.Int64("user_id", uid))
	c.JSON(http.StatusCreated, gin.H{
		"id":      deal.ID,
		"deal_id": dealID,
	})
}

// ownedDeal 读取本地工单；普通用户只能操作自己的工单
func (h *TicketHandler) ownedDeal(c *gin.Context) (*model.Deal, bool) {
	uid, role, ok := userFromContext(c)
	if !ok {
		return nil, false
	}
	dealID, ok := dealIDParam(c)
	if !ok {
		return nil, false
	}
	return loadDeal(c, h.store, h.logger, dealID, uid, role)
}

func loadDeal(c *gin.Context, store repository.Store, logger *zap.Logger, dealID, uid int64, role string) (*model.Deal, bool) {
	deal, err := store.DealByRemoteID(c.Request.Context(), dealID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "deal not found"})
		return nil, false
	}
	if err != nil {
		logger.Error("Failed to load deal", zap.Int64("deal_id", dealID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deal"})
		return nil, false
	}

	// 坐席可以查看全部工单
	if !rbac.HasPermission(role, rbac.PermissionDashboard) {
		if deal.UserID == nil || *deal.UserID != uid {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your ticket"})
			return nil, false
		}
	}
	return deal, true
}

type closeTicketRequest struct {
	Rating  int    `json:"rating" binding:"min=0,max=5"`
	Comment string `json:"comment"`
}

// CloseTicket 由客户关闭工单
// POST /tickets/:deal_id/close
func (h *TicketHandler) CloseTicket(c *gin.Context) {
	deal, ok := h.ownedDeal(c)
	if !ok {
		return
	}

	// 请求体可选
	var req closeTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if err := h.crm.CloseDeal(c.Request.Context(), deal.DealID, req.Rating, req.Comment); err != nil {
		h.logger.Error("Failed to close remote deal", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to close ticket", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "closed",
		"deal_id": deal.DealID,
	})
}

type sendEmailRequest struct {
	Subject     string           `json:"subject" binding:"required"`
	Message     string           `json:"message" binding:"required"`
	To          string           `json:"to" binding:"required,email"`
	Attachments []crm.Attachment `json:"attachments"`
}

// SendEmail 从工单发出邮件
// POST /tickets/:deal_id/email
func (h *TicketHandler) SendEmail(c *gin.Context) {
	deal, ok := h.ownedDeal(c)
	if !ok {
		return
	}

	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	activityID, err := h.crm.SendEmail(c.Request.Context(), crm.EmailInput{
		DealID:      deal.DealID,
		Subject:     req.Subject,
		Message:     req.Message,
		To:          req.To,
		Attachments: req.Attachments,
	})
	if err != nil {
		h.logger.Error("Failed to send email", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send email", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"deal_id":     deal.DealID,
		"activity_id": activityID,
	})
}

type addCommentRequest struct {
	Comment     string           `json:"comment" binding:"required"`
	Attachments []crm.Attachment `json:"attachments"`
}

// AddComment 在工单时间线上留言
// POST /tickets/:deal_id/comments
func (h *TicketHandler) AddComment(c *gin.Context) {
	deal, ok := h.ownedDeal(c)
	if !ok {
		return
	}

	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if err := h.crm.AddComment(c.Request.Context(), deal.DealID, req.Comment, req.Attachments); err != nil {
		h.logger.Error("Failed to add comment", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to add comment", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "commented", "deal_id": deal.DealID})
}
