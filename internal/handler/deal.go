package handler

import (
	"context"
	"net/http"
	"time"

	"helpdesk-sync/contracts/ws"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Broadcaster 由 realtime.Hub 实现
type Broadcaster interface {
	Notify(ctx context.Context, msg ws.Message)
}

type DealHandler struct {
	store   repository.Store
	objects storage.ObjectStore
	hub     Broadcaster
	linkTTL time.Duration
	logger  *zap.Logger
}

func NewDealHandler(store repository.Store, objects storage.ObjectStore, hub Broadcaster, linkTTL time.Duration, logger *zap.Logger) *DealHandler {
	if linkTTL <= 0 {
		linkTTL = storage.DefaultShortTTL
	}
	return &DealHandler{
		store:   store,
		objects: objects,
		hub:     hub,
		linkTTL: linkTTL,
		logger:  logger,
	}
}

type attachmentView struct {
	ID           int64           `json:"id"`
	OwnerKind    model.OwnerKind `json:"owner_kind"`
	OwnerID      int64           `json:"owner_id"`
	RemoteFileID int64           `json:"remote_file_id,omitempty"`
	Filename     string          `json:"filename"`
	URL          string          `json:"url"`
}

type activityView struct {
	*model.Activity
	Attachments []attachmentView `json:"attachments"`
}

type dealView struct {
	*model.Deal
	FileLink    string           `json:"file_link,omitempty"`
	Activities  []activityView   `json:"activities"`
	Attachments []attachmentView `json:"attachments"`
}

// attachments 为 owner 的所有附件生成短期链接；单个链接失败只留空
func (h *DealHandler) attachments(ctx context.Context, owner model.Owner) ([]attachmentView, error) {
	files, err := h.store.AttachmentsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	views := make([]attachmentView, 0, len(files))
	for _, f := range files {
		link, err := storage.URLFor(ctx, h.objects, f.StorageKey, h.linkTTL)
		if err != nil {
			h.logger.Warn("Failed to presign attachment",
				zap.String("key", f.StorageKey),
				zap.Error(err))
		}
		views = append(views, attachmentView{
			ID:           f.ID,
			OwnerKind:    f.OwnerKind,
			OwnerID:      f.OwnerID,
			RemoteFileID: f.RemoteFileID,
			Filename:     f.Filename,
			URL:          link,
		})
	}
	return views, nil
}

func (h *DealHandler) loadOwned(c *gin.Context) (*model.Deal, bool) {
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

// GetDeal 返回镜像的工单、活动和附件
// GET /deals/:deal_id
func (h *DealHandler) GetDeal(c *gin.Context) {
	deal, ok := h.loadOwned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	activities, err := h.store.ActivitiesByDeal(ctx, deal.ID)
	if err != nil {
		h.logger.Error("Failed to load activities", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activities"})
		return
	}

	view := dealView{Deal: deal, Activities: make([]activityView, 0, len(activities))}
	for _, a := range activities {
		files, err := h.attachments(ctx, model.Owner{Kind: model.OwnerActivity, ID: a.ID})
		if err != nil {
			h.logger.Error("Failed to load attachments", zap.Int64("activity_id", a.ActivityID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachments"})
			return
		}
		view.Activities = append(view.Activities, activityView{Activity: a, Attachments: files})
	}

	view.Attachments, err = h.attachments(ctx, model.Owner{Kind: model.OwnerDeal, ID: deal.ID})
	if err != nil {
		h.logger.Error("Failed to load attachments", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachments"})
		return
	}
	if deal.FileURL != "" {
		view.FileLink, _ = storage.URLFor(ctx, h.objects, deal.FileURL, h.linkTTL)
	}

	c.JSON(http.StatusOK, view)
}

// ListAttachments 返回工单及其活动的全部附件链接
// GET /deals/:deal_id/attachments
func (h *DealHandler) ListAttachments(c *gin.Context) {
	deal, ok := h.loadOwned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	files, err := h.attachments(ctx, model.Owner{Kind: model.OwnerDeal, ID: deal.ID})
	if err != nil {
		h.logger.Error("Failed to load attachments", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachments"})
		return
	}

	activities, err := h.store.ActivitiesByDeal(ctx, deal.ID)
	if err != nil {
		h.logger.Error("Failed to load activities", zap.Int64("deal_id", deal.DealID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activities"})
		return
	}
	for _, a := range activities {
		more, err := h.attachments(ctx, model.Owner{Kind: model.OwnerActivity, ID: a.ID})
		if err != nil {
			h.logger.Error("Failed to load attachments", zap.Int64("activity_id", a.ActivityID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachments"})
			return
		}
		files = append(files, more...)
	}

	c.JSON(http.StatusOK, gin.H{
		"deal_id":     deal.DealID,
		"attachments": files,
		"expires_in":  int(h.linkTTL.Seconds()),
	})
}

// MarkRead 清除工单的未读标记
// POST /deals/:deal_id/read
func (h *DealHandler) MarkRead(c *gin.Context) {
	deal, ok := h.loadOwned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if deal.IsUnread {
		err := h.store.WithinUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.SetDealUnread(ctx, deal.ID, false)
		})
		if err != nil {
			h.logger.Error("Failed to mark deal read", zap.Int64("deal_id", deal.DealID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark deal read"})
			return
		}
		deal.IsUnread = false
		if h.hub != nil {
			h.hub.Notify(ctx, ws.Message{Type: ws.TypeDealUpdated, DealID: deal.DealID, Data: deal})
		}
	}

	c.JSON(http.StatusOK, gin.H{"deal_id": deal.DealID, "is_unread": false})
}
