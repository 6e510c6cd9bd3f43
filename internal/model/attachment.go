package model

import "time"

// OwnerKind 附件归属的实体类型
type OwnerKind string

const (
	OwnerActivity OwnerKind = "activity"
	OwnerDeal     OwnerKind = "deal"
)

// Owner 标识附件归属的本地实体
type Owner struct {
	Kind OwnerKind
	ID   int64 // 本地主键
}

// RemoteFileRef 是远端附件引用；ID 为 0 时按 URL 去重
type RemoteFileRef struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// HasIdentity 是否可以用来去重
func (r RemoteFileRef) HasIdentity() bool {
	return r.ID != 0 || r.URL != ""
}

// AttachmentFile 远端文件到对象存储 key 的映射，创建后不再修改
type AttachmentFile struct {
	ID           int64     `json:"id"`
	OwnerKind    OwnerKind `json:"owner_kind"`
	OwnerID      int64     `json:"owner_id"`
	RemoteFileID int64     `json:"remote_file_id"`
	RemoteURL    string    `json:"remote_url"`
	StorageKey   string    `json:"storage_key"`
	Filename     string    `json:"filename"`
	CreatedAt    time.Time `json:"created_at"`
}
