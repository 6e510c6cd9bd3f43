// Package mirror copies remote CRM attachments into object storage and records
// the (owner, remote file) -> storage key mapping so each file is fetched once.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"helpdesk-sync/internal/crm"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/storage"
	"helpdesk-sync/pkg/metrics"

	"go.uber.org/zap"
)

// ErrUnavailable 远端文件下载不到
var ErrUnavailable = errors.New("attachment unavailable")

// Downloader 由 crm.Client 实现
type Downloader interface {
	DownloadAttachment(ctx context.Context, ref model.RemoteFileRef) (*crm.Download, bool)
}

// Mirror 附件镜像
type Mirror struct {
	downloader Downloader
	store      storage.ObjectStore
	keyPrefix  string
	logger     *zap.Logger
}

func New(downloader Downloader, store storage.ObjectStore, keyPrefix string, logger *zap.Logger) *Mirror {
	return &Mirror{
		downloader: downloader,
		store:      store,
		keyPrefix:  keyPrefix,
		logger:     logger,
	}
}

// Mirror 返回 ref 对应的存储 key。已有映射时直接返回，不会重新下载。
func (m *Mirror) Mirror(ctx context.Context, tx repository.Tx, ref model.RemoteFileRef, owner model.Owner) (string, error) {
	if !ref.HasIdentity() {
		return "", fmt.Errorf("attachment reference has neither id nor url")
	}

	existing, err := tx.FindAttachment(ctx, owner, ref)
	if err == nil {
		metrics.IncrementAttachmentMirror("reused")
		return existing.StorageKey, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("lookup attachment: %w", err)
	}

	dl, ok := m.downloader.DownloadAttachment(ctx, ref)
	if !ok {
		metrics.IncrementAttachmentMirror("unavailable")
		return "", ErrUnavailable
	}

	filename := dl.Filename
	if ref.Filename != "" {
		filename = ref.Filename
	}
	key := storage.NewObjectKey(m.keyPrefix, filename)
	if err := m.store.Put(ctx, key, storage.ContentTypeFor(filename), dl.Data); err != nil {
		metrics.IncrementAttachmentMirror("upload_error")
		return "", fmt.Errorf("upload attachment: %w", err)
	}

	f, err := tx.InsertAttachment(ctx, &model.AttachmentFile{
		OwnerKind:    owner.Kind,
		OwnerID:      owner.ID,
		RemoteFileID: ref.ID,
		RemoteURL:    ref.URL,
		StorageKey:   key,
		Filename:     filename,
	})
	if err != nil {
		metrics.IncrementAttachmentMirror("db_error")
		return "", fmt.Errorf("record attachment: %w", err)
	}
	if f.StorageKey != key {
		// 并发的另一条路径先写入了映射，本次上传的对象成为孤儿
		m.logger.Info("Attachment mapped concurrently, using existing key",
			zap.String("owner", string(owner.Kind)),
			zap.Int64("owner_id", owner.ID),
			zap.String("key", f.StorageKey))
	}
	metrics.IncrementAttachmentMirror("mirrored")
	return f.StorageKey, nil
}

// MirrorAll 逐个镜像，单个文件失败只记录日志。
// 第一个成功的 key 写入 owner 的旧版单附件字段（字段为空时）。
func (m *Mirror) MirrorAll(ctx context.Context, tx repository.Tx, refs []model.RemoteFileRef, owner model.Owner) []string {
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		key, err := m.Mirror(ctx, tx, ref, owner)
		if err != nil {
			m.logger.Warn("Failed to mirror attachment",
				zap.String("owner", string(owner.Kind)),
				zap.Int64("owner_id", owner.ID),
				zap.Int64("file_id", ref.ID),
				zap.String("url", ref.URL),
				zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}

	if len(keys) > 0 {
		if err := tx.SetLegacyAttachment(ctx, owner, keys[0], keys[0]); err != nil {
			m.logger.Warn("Failed to set legacy attachment",
				zap.String("owner", string(owner.Kind)),
				zap.Int64("owner_id", owner.ID),
				zap.Error(err))
		}
	}
	return keys
}
