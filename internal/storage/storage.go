package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 预签名链接有效期
const (
	DefaultShortTTL = 2 * time.Hour
	DefaultLongTTL  = 168 * time.Hour

	defaultKeyPrefix   = "attachments"
	defaultContentType = "application/octet-stream"
)

var ErrNotFound = errors.New("object not found")

// ObjectStore 附件对象存储
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewObjectKey 生成 <prefix>/<uuid><ext>；扩展名取自原文件名
func NewObjectKey(prefix, filename string) string {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + uuid.NewString() + strings.ToLower(path.Ext(filename))
}

// ContentTypeFor 按扩展名猜测 MIME 类型
func ContentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); ct != "" {
		return ct
	}
	return defaultContentType
}

// URLFor 把存储 key 换成预签名链接；已经是绝对地址的值原样返回
func URLFor(ctx context.Context, s ObjectStore, keyOrURL string, ttl time.Duration) (string, error) {
	if keyOrURL == "" {
		return "", nil
	}
	if strings.HasPrefix(keyOrURL, "http://") || strings.HasPrefix(keyOrURL, "https://") {
		return keyOrURL, nil
	}
	return s.PresignGet(ctx, keyOrURL, ttl)
}
