package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	crmwire "helpdesk-sync/contracts/crm"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/pkg/metrics"

	"go.uber.org/zap"
)

// Kind 远端实体类型
type Kind string

const (
	KindDeal     Kind = "deal"
	KindActivity Kind = "activity"
)

var getMethods = map[Kind]string{
	KindDeal:     crmwire.MethodDealGet,
	KindActivity: crmwire.MethodActivityGet,
}

// 单个附件大小上限
const maxDownloadBytes = 64 << 20

// Download 是下载到内存的附件
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FetchEntity 按 ID 读取远端实体；任何失败都返回 (nil, false)
func (c *Client) FetchEntity(ctx context.Context, kind Kind, id int64) (crmwire.Record, bool) {
	method, ok := getMethods[kind]
	if !ok {
		c.logger.Warn("Unknown CRM entity kind", zap.String("kind", string(kind)))
		return nil, false
	}

	raw := c.get(ctx, method, url.Values{"id": {strconv.FormatInt(id, 10)}})
	if raw == nil {
		return nil, false
	}
	rec, err := crmwire.DecodeRecord(raw)
	if err != nil {
		c.logger.Warn("CRM entity is not an object",
			zap.String("kind", string(kind)),
			zap.Int64("id", id),
			zap.Error(err))
		return nil, false
	}
	return rec, true
}

func userCacheKey(id string) string {
	return "crm:user:" + id
}

// FetchUser 读取用户（姓名、邮箱），结果缓存在 Redis
func (c *Client) FetchUser(ctx context.Context, id string) (*crmwire.User, bool) {
	if id == "" || id == "0" {
		return nil, false
	}

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, userCacheKey(id)).Bytes(); err == nil {
			var u crmwire.User
			if json.Unmarshal(cached, &u) == nil {
				return &u, true
			}
		}
	}

	raw := c.get(ctx, crmwire.MethodUserGet, url.Values{"ID": {id}})
	if raw == nil {
		return nil, false
	}
	var users []crmwire.User
	if err := json.Unmarshal(raw, &users); err != nil || len(users) == 0 {
		c.logger.Warn("CRM user not found", zap.String("user_id", id), zap.Error(err))
		return nil, false
	}
	u := users[0]

	if c.cache != nil {
		if b, err := json.Marshal(u); err == nil {
			if err := c.cache.Set(ctx, userCacheKey(id), b, c.cfg.UserCacheTTL).Err(); err != nil {
				c.logger.Debug("Failed to cache CRM user", zap.String("user_id", id), zap.Error(err))
			}
		}
	}
	return &u, true
}

// DownloadAttachment 下载附件。有文件 ID 时先通过 disk.file.get 取下载地址，
// 失败再退回引用里的 URL
func (c *Client) DownloadAttachment(ctx context.Context, ref model.RemoteFileRef) (*Download, bool) {
	target := ref.URL
	filename := ref.Filename

	if ref.ID != 0 {
		raw := c.get(ctx, crmwire.MethodDiskFileGet, url.Values{"id": {strconv.FormatInt(ref.ID, 10)}})
		var f crmwire.DiskFile
		if raw != nil && json.Unmarshal(raw, &f) == nil && f.DownloadURL != "" {
			target = f.DownloadURL
			if filename == "" {
				filename = f.Name
			}
		}
	}
	if target == "" {
		c.logger.Warn("Attachment has no download location", zap.Int64("file_id", ref.ID))
		return nil, false
	}

	dl, err := c.download(ctx, target)
	if err != nil {
		c.logger.Warn("Attachment download failed",
			zap.Int64("file_id", ref.ID),
			zap.String("url", ref.URL),
			zap.Error(err))
		return nil, false
	}
	if filename != "" {
		dl.Filename = filename
	}
	if dl.Filename == "" {
		dl.Filename = fmt.Sprintf("file-%d", ref.ID)
	}
	return dl, true
}

func (c *Client) download(ctx context.Context, rawURL string) (*Download, error) {
	target, err := c.resolveURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	// 4xx 和超限只说明这个文件拿不到，记为 rejected，不计入熔断
	var dl *Download
	var rejected error
	err = c.downloadCB.Execute(func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordCRMCallLatency("download", "error", time.Since(start))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			drain(resp.Body)
			metrics.RecordCRMCallLatency("download", "5xx", time.Since(start))
			return fmt.Errorf("download status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			drain(resp.Body)
			metrics.RecordCRMCallLatency("download", strconv.Itoa(resp.StatusCode), time.Since(start))
			rejected = fmt.Errorf("download status %d", resp.StatusCode)
			return nil
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
		if err != nil {
			metrics.RecordCRMCallLatency("download", "error", time.Since(start))
			return err
		}
		if len(data) > maxDownloadBytes {
			metrics.RecordCRMCallLatency("download", "too_large", time.Since(start))
			rejected = fmt.Errorf("attachment larger than %d bytes", maxDownloadBytes)
			return nil
		}
		metrics.RecordCRMCallLatency("download", "success", time.Since(start))

		dl = &Download{
			Filename:    filenameFromResponse(resp, target),
			ContentType: resp.Header.Get("Content-Type"),
			Data:        data,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return dl, nil
}

// filenameFromResponse 优先 Content-Disposition，其次 URL 路径
func filenameFromResponse(resp *http.Response, target string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	if u, err := url.Parse(target); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return ""
}
