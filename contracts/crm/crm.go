// Package crm 定义远端 CRM (Bitrix24 REST) 的线上数据格式
package crm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 远端方法名
const (
	MethodDealGet            = "crm.deal.get"
	MethodDealAdd            = "crm.deal.add"
	MethodDealUpdate         = "crm.deal.update"
	MethodActivityGet        = "crm.activity.get"
	MethodActivityAdd        = "crm.activity.add"
	MethodTimelineCommentAdd = "crm.timeline.comment.add"
	MethodContactList        = "crm.contact.list"
	MethodContactAdd         = "crm.contact.add"
	MethodUserGet            = "user.get"
	MethodDiskFileGet        = "disk.file.get"
)

// 自定义字段 ID
const (
	FieldProtocolNumber      = "UF_CRM_1763556608"
	FieldDescription         = "UF_CRM_688788E6B494B"
	FieldMatriculaUserID     = "UF_CRM_1763994823"
	FieldBranch              = "UF_CRM_665F6893CECAE"
	FieldDepartment          = "UF_CRM_1763129004"
	FieldSystem              = "UF_CRM_67C9AA4AEA56A"
	FieldPriority            = "UF_CRM_1763744705"
	FieldCategory            = "UF_CRM_1763995291"
	FieldClientPhone         = "UF_CRM_617728A6C16A5"
	FieldAttachment          = "UF_CRM_1763984364"
	FieldRequesterDepartment = "UF_CRM_6938495549C8A"
	FieldCSATRating          = "UF_CRM_CSAT_RATING"
)

// Envelope 是所有响应的外层包装
type Envelope struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
}

// HasResult 成功响应必须带 result
func (e Envelope) HasResult() bool {
	if e.Error != "" {
		return false
	}
	r := strings.TrimSpace(string(e.Result))
	return r != "" && r != "null"
}

// Record 是远端实体的原始字段表；远端数值字段有时是字符串有时是数字
type Record map[string]any

// Has 远端是否提供了该字段
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String 读取字段并统一成字符串；字段缺失或为 null 时 ok=false
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		if t {
			return "Y", true
		}
		return "N", true
	default:
		return "", false
	}
}

// Int 读取整数字段
func (r Record) Int(key string) (int64, bool) {
	s, ok := r.String(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Object 读取嵌套对象；缺失时返回空 Record
func (r Record) Object(key string) Record {
	if m, ok := r[key].(map[string]any); ok {
		return Record(m)
	}
	return Record{}
}

// FileRef 活动附件引用
type FileRef struct {
	ID   int64  `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Files 读取附件列表；兼容单个对象和对象数组两种形式
func (r Record) Files(key string) []FileRef {
	var items []any
	switch t := r[key].(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	default:
		return nil
	}

	refs := make([]FileRef, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := Record(m)
		ref := FileRef{}
		ref.ID, _ = rec.Int("id")
		ref.URL, _ = rec.String("url")
		ref.Name, _ = rec.String("name")
		if ref.ID == 0 && ref.URL == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// DecodeRecord 用 UseNumber 解码，避免大整数 ID 丢精度
func DecodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// User 是 user.get 返回的用户
type User struct {
	ID       string `json:"ID"`
	Name     string `json:"NAME"`
	LastName string `json:"LAST_NAME"`
	Email    string `json:"EMAIL"`
}

// FullName 名和姓拼接
func (u User) FullName() string {
	return strings.TrimSpace(u.Name + " " + u.LastName)
}

// DiskFile 是 disk.file.get 返回的文件元数据
type DiskFile struct {
	ID          json.Number `json:"ID"`
	Name        string      `json:"NAME"`
	DownloadURL string      `json:"DOWNLOAD_URL"`
}

// Contact 是 crm.contact.list 的一行
type Contact struct {
	ID json.Number `json:"ID"`
}

// FileData 是 [文件名, base64 内容]
type FileData [2]string

// EmailFile 是 crm.activity.add 的附件格式
type EmailFile struct {
	FileData FileData `json:"fileData"`
}

// Communication 邮件收件人
type Communication struct {
	Value        string `json:"VALUE"`
	EntityTypeID int    `json:"ENTITY_TYPE_ID"`
	Type         string `json:"TYPE"`
}

// MultiField 是 EMAIL/PHONE 之类的多值字段
type MultiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}
