package model

import "time"

// 远端活动方向
const (
	DirectionIncoming = "1"
	DirectionOutgoing = "2"
)

// OwnerTypeDeal 是远端活动归属于 Deal 时的 OWNER_TYPE_ID
const OwnerTypeDeal = "2"

// Activity 是挂在 Deal 下的时间线事件（邮件或评论）
type Activity struct {
	ID           int64 `json:"id"`
	ActivityID   int64 `json:"activity_id"` // 远端 ID，唯一
	DealID       int64 `json:"deal_id"`     // 本地 Deal 主键
	RemoteDealID int64 `json:"remote_deal_id"`

	OwnerTypeID      string `json:"owner_type_id"`
	TypeID           string `json:"type_id"`
	ProviderID       string `json:"provider_id"`
	ProviderTypeID   string `json:"provider_type_id"`
	Direction        string `json:"direction"`
	Subject          string `json:"subject"`
	Priority         string `json:"priority"`
	ResponsibleID    string `json:"responsible_id"`
	ResponsibleName  string `json:"responsible_name"`
	ResponsibleEmail string `json:"responsible_email"`
	Description      string `json:"description"`
	BodyHTML         string `json:"body_html"`
	DescriptionType  string `json:"description_type"`
	SenderEmail      string `json:"sender_email"`
	FromEmail        string `json:"from_email"`
	ToEmail          string `json:"to_email"`
	ReceiverEmail    string `json:"receiver_email"`
	AuthorID         string `json:"author_id"`
	EditorID         string `json:"editor_id"`
	ReadConfirmed    bool   `json:"read_confirmed"`

	RemoteCreatedAt *time.Time `json:"remote_created_at,omitempty"`

	// 旧版单附件字段，取第一个成功镜像的文件
	FileID  string `json:"file_id"`
	FileURL string `json:"file_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActivityPatch 描述一次同步带来的字段；nil 表示远端没有提供
type ActivityPatch struct {
	ActivityID   int64
	DealID       int64
	RemoteDealID int64

	OwnerTypeID      *string
	TypeID           *string
	ProviderID       *string
	ProviderTypeID   *string
	Direction        *string
	Subject          *string
	Priority         *string
	ResponsibleID    *string
	ResponsibleName  *string
	ResponsibleEmail *string
	Description      *string
	BodyHTML         *string
	DescriptionType  *string
	SenderEmail      *string
	FromEmail        *string
	ToEmail          *string
	ReceiverEmail    *string
	AuthorID         *string
	EditorID         *string
	ReadConfirmed    *bool
	RemoteCreatedAt  *time.Time
}

// Apply 把 patch 中提供的字段写入 a
func (p ActivityPatch) Apply(a *Activity) {
	a.ActivityID = p.ActivityID
	a.DealID = p.DealID
	a.RemoteDealID = p.RemoteDealID

	setString(&a.OwnerTypeID, p.OwnerTypeID)
	setString(&a.TypeID, p.TypeID)
	setString(&a.ProviderID, p.ProviderID)
	setString(&a.ProviderTypeID, p.ProviderTypeID)
	setString(&a.Direction, p.Direction)
	setString(&a.Subject, p.Subject)
	setString(&a.Priority, p.Priority)
	setString(&a.ResponsibleID, p.ResponsibleID)
	setString(&a.ResponsibleName, p.ResponsibleName)
	setString(&a.ResponsibleEmail, p.ResponsibleEmail)
	setString(&a.Description, p.Description)
	setString(&a.BodyHTML, p.BodyHTML)
	setString(&a.DescriptionType, p.DescriptionType)
	setString(&a.SenderEmail, p.SenderEmail)
	setString(&a.FromEmail, p.FromEmail)
	setString(&a.ToEmail, p.ToEmail)
	setString(&a.ReceiverEmail, p.ReceiverEmail)
	setString(&a.AuthorID, p.AuthorID)
	setString(&a.EditorID, p.EditorID)
	if p.ReadConfirmed != nil {
		a.ReadConfirmed = *p.ReadConfirmed
	}
	setTime(&a.RemoteCreatedAt, p.RemoteCreatedAt)
}

// IsIncoming 判断是否为客户发来的邮件
func (a *Activity) IsIncoming() bool {
	return a.Direction == DirectionIncoming
}
