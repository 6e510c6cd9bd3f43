package model

import "time"

// Deal 是从远端 CRM 镜像的工单
type Deal struct {
	ID     int64 `json:"id"`
	DealID int64 `json:"deal_id"` // 远端 ID，唯一

	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	StageID               string     `json:"stage_id"`
	Opened                string     `json:"opened"`
	Closed                string     `json:"closed"`
	CreatedByID           string     `json:"created_by_id"`
	ModifyByID            string     `json:"modify_by_id"`
	MovedByID             string     `json:"moved_by_id"`
	LastActivityByID      string     `json:"last_activity_by_id"`
	LastCommunicationTime string     `json:"last_communication_time"`
	BeginDate             *time.Time `json:"begin_date,omitempty"`
	CloseDate             *time.Time `json:"close_date,omitempty"`
	RemoteCreatedAt       *time.Time `json:"remote_created_at,omitempty"`

	// 分类字段保存可读标签
	RequesterDepartment string `json:"requester_department"`
	AssigneeDepartment  string `json:"assignee_department"`
	ServiceCategory     string `json:"service_category"`
	SystemType          string `json:"system_type"`
	Priority            string `json:"priority"`
	Branch              string `json:"branch"`
	Matricula           string `json:"matricula"`
	ClientPhone         string `json:"client_phone"`

	Responsible      string `json:"responsible"`
	ResponsibleEmail string `json:"responsible_email"`
	RequesterEmail   string `json:"requester_email"`

	// 仅本地字段，远端同步不会覆盖
	UserID   *int64 `json:"user_id,omitempty"`
	FileID   string `json:"file_id"`
	FileURL  string `json:"file_url"`
	IsUnread bool   `json:"is_unread"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DealPatch 描述一次同步带来的字段；nil 表示远端没有提供，合并时保留本地值
type DealPatch struct {
	DealID int64

	Title                 *string
	Description           *string
	StageID               *string
	Opened                *string
	Closed                *string
	CreatedByID           *string
	ModifyByID            *string
	MovedByID             *string
	LastActivityByID      *string
	LastCommunicationTime *string
	BeginDate             *time.Time
	CloseDate             *time.Time
	RemoteCreatedAt       *time.Time

	RequesterDepartment *string
	AssigneeDepartment  *string
	ServiceCategory     *string
	SystemType          *string
	Priority            *string
	Branch              *string
	Matricula           *string
	ClientPhone         *string

	Responsible      *string
	ResponsibleEmail *string
	RequesterEmail   *string

	// 本地发起的写操作才会设置
	UserID   *int64
	IsUnread *bool
}

// Apply 把 patch 中提供的字段写入 d
func (p DealPatch) Apply(d *Deal) {
	d.DealID = p.DealID

	setString(&d.Title, p.Title)
	setString(&d.Description, p.Description)
	setString(&d.StageID, p.StageID)
	setString(&d.Opened, p.Opened)
	setString(&d.Closed, p.Closed)
	setString(&d.CreatedByID, p.CreatedByID)
	setString(&d.ModifyByID, p.ModifyByID)
	setString(&d.MovedByID, p.MovedByID)
	setString(&d.LastActivityByID, p.LastActivityByID)
	setString(&d.LastCommunicationTime, p.LastCommunicationTime)
	setTime(&d.BeginDate, p.BeginDate)
	setTime(&d.CloseDate, p.CloseDate)
	setTime(&d.RemoteCreatedAt, p.RemoteCreatedAt)

	setString(&d.RequesterDepartment, p.RequesterDepartment)
	setString(&d.AssigneeDepartment, p.AssigneeDepartment)
	setString(&d.ServiceCategory, p.ServiceCategory)
	setString(&d.SystemType, p.SystemType)
	setString(&d.Priority, p.Priority)
	setString(&d.Branch, p.Branch)
	setString(&d.Matricula, p.Matricula)
	setString(&d.ClientPhone, p.ClientPhone)

	setString(&d.Responsible, p.Responsible)
	setString(&d.ResponsibleEmail, p.ResponsibleEmail)
	setString(&d.RequesterEmail, p.RequesterEmail)

	if p.UserID != nil {
		uid := *p.UserID
		d.UserID = &uid
	}
	if p.IsUnread != nil {
		d.IsUnread = *p.IsUnread
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setTime(dst **time.Time, src *time.Time) {
	if src != nil {
		t := *src
		*dst = &t
	}
}

// String 返回字符串指针，便于构造 patch
func String(s string) *string {
	return &s
}

// Bool 返回布尔指针
func Bool(b bool) *bool {
	return &b
}
