package crm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	crmwire "helpdesk-sync/contracts/crm"
	"helpdesk-sync/internal/labels"

	"go.uber.org/zap"
)

const (
	attachmentComment = "Arquivos enviados durante a abertura do chamado."
	closeComment      = "Chamado encerrado pelo cliente via Portal."
	internalCategory  = "Interno"
	internalCompanyID = "2"
)

// Attachment 由本地发起的写操作携带的文件
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"content"`
}

func (a Attachment) fileData() crmwire.FileData {
	return crmwire.FileData{a.Name, base64.StdEncoding.EncodeToString(a.Data)}
}

// TicketInput 是门户创建工单的输入，分类字段使用可读标签
type TicketInput struct {
	Title               string
	Description         string
	FullName            string
	Email               string
	Phone               string
	Matricula           string
	RequesterDepartment string
	AssigneeDepartment  string
	Branch              string
	Priority            string
	SystemType          string
	ServiceCategory     string
	ResponsibleID       string
	Attachments         []Attachment
}

// EmailInput 是从工单发出的邮件
type EmailInput struct {
	DealID      int64
	Subject     string
	Message     string
	To          string
	From        string
	Attachments []Attachment
}

// CreateDeal 在远端创建工单并返回远端 ID。附件以时间线评论的形式补充，
// 评论失败只记日志
func (c *Client) CreateDeal(ctx context.Context, in TicketInput) (int64, error) {
	contactID, err := c.SearchOrCreateContact(ctx, in.FullName, in.Email, in.ServiceCategory, in.Phone)
	if err != nil {
		c.logger.Warn("Contact lookup failed, creating deal without contact",
			zap.String("email", in.Email), zap.Error(err))
	}

	fields := c.dealFields(in, contactID)
	raw, err := c.post(ctx, crmwire.MethodDealAdd, map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	dealID, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrRemote, crmwire.MethodDealAdd, err)
	}

	if len(in.Attachments) > 0 {
		if err := c.AddComment(ctx, dealID, attachmentComment, in.Attachments); err != nil {
			c.logger.Warn("Failed to attach files to new deal",
				zap.Int64("deal_id", dealID),
				zap.Int("files", len(in.Attachments)),
				zap.Error(err))
		}
	}
	return dealID, nil
}

func (c *Client) dealFields(in TicketInput, contactID string) map[string]any {
	assignee := in.ResponsibleID
	if assignee == "" {
		assignee = c.cfg.DefaultAssignee
	}

	comments := fmt.Sprintf("%s\n\n# Detalhes Adicionais\nSolicitante: %s (Matrícula: %s)\nDepartamento de Origem: %s\nTelefone Informado: %s",
		in.Description, in.FullName, in.Matricula, in.RequesterDepartment, in.Phone)

	fields := map[string]any{
		"TITLE":                          in.Title,
		"TYPE_ID":                        "SALE",
		"STAGE_ID":                       c.stage("NEW"),
		"OPENED":                         "Y",
		"CURRENCY_ID":                    "BRL",
		"SOURCE_ID":                      "SELF",
		"CONTACT_ID":                     contactID,
		"ASSIGNED_BY_ID":                 assignee,
		"COMMENTS":                       comments,
		crmwire.FieldRequesterDepartment: in.RequesterDepartment,
		crmwire.FieldDescription:         in.Description,
		crmwire.FieldClientPhone:         in.Phone,
		crmwire.FieldProtocolNumber:      in.Matricula,
		crmwire.FieldDepartment:          labels.Departments.ID(in.AssigneeDepartment),
		crmwire.FieldBranch:              labels.Branches.ID(in.Branch),
		crmwire.FieldPriority:            labels.Priority.ID(in.Priority),
		crmwire.FieldCategory:            labels.Category.ID(in.ServiceCategory),
		crmwire.FieldSystem:              labels.Systems.ID(in.SystemType),
	}
	if c.cfg.CategoryID > 0 {
		fields["CATEGORY_ID"] = c.cfg.CategoryID
	}

	// 远端会把空字符串写成空值，直接去掉
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			delete(fields, k)
		}
	}
	return fields
}

// stage 拼接管道前缀，例如 C25:NEW
func (c *Client) stage(name string) string {
	if c.cfg.StagePrefix == "" {
		return name
	}
	return c.cfg.StagePrefix + ":" + name
}

// UpdateDeal 更新远端工单字段
func (c *Client) UpdateDeal(ctx context.Context, dealID int64, fields map[string]any) error {
	raw, err := c.post(ctx, crmwire.MethodDealUpdate, map[string]any{"id": dealID, "fields": fields})
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err == nil && !ok {
		return fmt.Errorf("%w: %s: update not applied", ErrRemote, crmwire.MethodDealUpdate)
	}
	return nil
}

// CloseDeal 把工单移到成功阶段并记录评价；rating 为 0 表示未评价
func (c *Client) CloseDeal(ctx context.Context, dealID int64, rating int, comment string) error {
	if comment == "" {
		comment = closeComment
	}
	fields := map[string]any{
		"STAGE_ID": c.stage("WON"),
		"COMMENTS": comment,
	}
	if rating > 0 {
		fields[crmwire.FieldCSATRating] = rating
	}
	return c.UpdateDeal(ctx, dealID, fields)
}

// AddComment 在工单时间线上添加评论，可带附件
func (c *Client) AddComment(ctx context.Context, dealID int64, comment string, files []Attachment) error {
	fields := map[string]any{
		"ENTITY_ID":   dealID,
		"ENTITY_TYPE": "deal",
		"COMMENT":     comment,
	}
	if len(files) > 0 {
		payload := make([]crmwire.FileData, 0, len(files))
		for _, f := range files {
			payload = append(payload, f.fileData())
		}
		fields["FILES"] = payload
	}
	_, err := c.post(ctx, crmwire.MethodTimelineCommentAdd, map[string]any{"fields": fields})
	return err
}

// SendEmail 以出站邮件活动的形式从工单发信，返回远端活动 ID
func (c *Client) SendEmail(ctx context.Context, in EmailInput) (int64, error) {
	from := in.From
	if from == "" {
		from = c.cfg.EmailSender
	}
	now := time.Now().Format(time.DateTime)

	fields := map[string]any{
		"OWNER_TYPE_ID":    2,
		"OWNER_ID":         in.DealID,
		"TYPE_ID":          4,
		"PROVIDER_ID":      "CRM_EMAIL",
		"PROVIDER_TYPE_ID": "EMAIL",
		"SUBJECT":          in.Subject,
		"DESCRIPTION":      in.Message,
		"DESCRIPTION_TYPE": 3,
		"DIRECTION":        2,
		"START_TIME":       now,
		"END_TIME":         now,
		"COMPLETED":        "Y",
		"PRIORITY":         2,
		"SETTINGS":         map[string]any{"MESSAGE_FROM": from},
		"COMMUNICATIONS":   []crmwire.Communication{
			{Value: in.To, EntityTypeID: 3, Type: "EMAIL"},
		},
	}
	if len(in.Attachments) > 0 {
		files := make([]crmwire.EmailFile, 0, len(in.Attachments))
		for _, a := range in.Attachments {
			files = append(files, crmwire.EmailFile{FileData: a.fileData()})
		}
		fields["FILES"] = files
	}

	raw, err := c.post(ctx, crmwire.MethodActivityAdd, map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrRemote, crmwire.MethodActivityAdd, err)
	}
	return id, nil
}

// SearchOrCreateContact 按邮箱查找联系人，没有则创建。查找和创建之间没有锁，
// 并发调用同一邮箱可能产生重复联系人
func (c *Client) SearchOrCreateContact(ctx context.Context, name, email, category, phone string) (string, error) {
	raw, err := c.post(ctx, crmwire.MethodContactList, map[string]any{
		"filter": map[string]any{"EMAIL": email},
		"select": []string{"ID"},
	})
	if err != nil {
		return "", err
	}

	var contacts []crmwire.Contact
	if err := json.Unmarshal(raw, &contacts); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRemote, crmwire.MethodContactList, err)
	}
	if len(contacts) > 0 {
		return contacts[0].ID.String(), nil
	}

	c.logger.Info("Creating CRM contact", zap.String("email", email))
	first, last := splitName(name)
	fields := map[string]any{
		"NAME":      first,
		"LAST_NAME": last,
		"OPENED":    "Y",
		"EMAIL":     []crmwire.MultiField{{Value: email, ValueType: "WORK"}},
		"PHONE":     []crmwire.MultiField{},
	}
	if category == internalCategory {
		fields["COMPANY_ID"] = internalCompanyID
	}
	if phone != "" {
		fields["PHONE"] = []crmwire.MultiField{{Value: phone, ValueType: "WORK"}}
	}

	raw, err = c.post(ctx, crmwire.MethodContactAdd, map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}
	id, err := parseID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRemote, crmwire.MethodContactAdd, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// parseID 远端新建接口返回数字或数字字符串
func parseID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %s", string(raw))
	}
	return id, nil
}
