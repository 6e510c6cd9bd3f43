package reconcile

import (
	"strings"
	"time"

	crmwire "helpdesk-sync/contracts/crm"
	"helpdesk-sync/internal/labels"
	"helpdesk-sync/internal/model"
)

// 远端邮件正文末尾自动追加的签名
const remoteSignature = `<br/><br/>Enviado por <a href="http://www.bitrix24.com" target="_blank" >bitrix24.com</a>`

// 远端活动 STATUS=2 表示已完成（已读）
const activityStatusCompleted = "2"

func stripSignature(s string) string {
	return strings.ReplaceAll(s, remoteSignature, "")
}

func str(rec crmwire.Record, key string) *string {
	v, ok := rec.String(key)
	if !ok {
		return nil
	}
	return &v
}

// optionLabel 把选项 ID 翻译成可读标签；未知 ID 原样保留
func optionLabel(rec crmwire.Record, key string, table *labels.Table) *string {
	v, ok := rec.String(key)
	if !ok {
		return nil
	}
	if v == "" {
		return &v
	}
	l := table.Label(v)
	return &l
}

// parseTime 接受带时区偏移的 RFC3339，统一成 UTC；空值或格式错误视为未提供
func parseTime(rec crmwire.Record, key string) *time.Time {
	v, ok := rec.String(key)
	if !ok || v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func fileRefs(refs []crmwire.FileRef) []model.RemoteFileRef {
	out := make([]model.RemoteFileRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, model.RemoteFileRef{ID: r.ID, URL: r.URL, Filename: r.Name})
	}
	return out
}

func dealPatch(remoteID int64, rec crmwire.Record, responsible *crmwire.User) model.DealPatch {
	p := model.DealPatch{
		DealID: remoteID,

		Title:                 str(rec, "TITLE"),
		StageID:               str(rec, "STAGE_ID"),
		Opened:                str(rec, "OPENED"),
		Closed:                str(rec, "CLOSED"),
		CreatedByID:           str(rec, "CREATED_BY_ID"),
		ModifyByID:            str(rec, "MODIFY_BY_ID"),
		MovedByID:             str(rec, "MOVED_BY_ID"),
		LastActivityByID:      str(rec, "LAST_ACTIVITY_BY"),
		LastCommunicationTime: str(rec, "LAST_COMMUNICATION_TIME"),
		BeginDate:             parseTime(rec, "BEGINDATE"),
		CloseDate:             parseTime(rec, "CLOSEDATE"),
		RemoteCreatedAt:       parseTime(rec, "DATE_CREATE"),

		RequesterDepartment: optionLabel(rec, crmwire.FieldRequesterDepartment, labels.Departments),
		AssigneeDepartment:  optionLabel(rec, crmwire.FieldDepartment, labels.Departments),
		ServiceCategory:     optionLabel(rec, crmwire.FieldCategory, labels.Category),
		SystemType:          optionLabel(rec, crmwire.FieldSystem, labels.Systems),
		Priority:            optionLabel(rec, crmwire.FieldPriority, labels.Priority),
		Branch:              optionLabel(rec, crmwire.FieldBranch, labels.Branches),
		Matricula:           str(rec, crmwire.FieldMatriculaUserID),
		ClientPhone:         str(rec, crmwire.FieldClientPhone),
	}
	if d := str(rec, crmwire.FieldDescription); d != nil {
		clean := stripSignature(*d)
		p.Description = &clean
	}
	if responsible != nil {
		p.Responsible = model.String(responsible.FullName())
		p.ResponsibleEmail = model.String(responsible.Email)
	}
	return p
}

func activityPatch(remoteID, dealID, remoteDealID int64, rec crmwire.Record, responsible *crmwire.User) model.ActivityPatch {
	p := model.ActivityPatch{
		ActivityID:   remoteID,
		DealID:       dealID,
		RemoteDealID: remoteDealID,

		OwnerTypeID:     str(rec, "OWNER_TYPE_ID"),
		TypeID:          str(rec, "TYPE_ID"),
		ProviderID:      str(rec, "PROVIDER_ID"),
		ProviderTypeID:  str(rec, "PROVIDER_TYPE_ID"),
		Direction:       str(rec, "DIRECTION"),
		Subject:         str(rec, "SUBJECT"),
		Priority:        str(rec, "PRIORITY"),
		ResponsibleID:   str(rec, "RESPONSIBLE_ID"),
		BodyHTML:        str(rec, "DESCRIPTION"),
		DescriptionType: str(rec, "DESCRIPTION_TYPE"),
		AuthorID:        str(rec, "AUTHOR_ID"),
		EditorID:        str(rec, "EDITOR_ID"),
		RemoteCreatedAt: parseTime(rec, "CREATED"),
	}
	if p.BodyHTML != nil {
		clean := stripSignature(*p.BodyHTML)
		p.Description = &clean
	}
	if status, ok := rec.String("STATUS"); ok {
		p.ReadConfirmed = model.Bool(status == activityStatusCompleted)
	}

	meta := rec.Object("SETTINGS").Object("EMAIL_META")
	if from := str(meta, "from"); from != nil {
		p.FromEmail = from
		p.SenderEmail = model.String(*from)
	}
	if to := str(meta, "to"); to != nil {
		p.ToEmail = to
		p.ReceiverEmail = model.String(*to)
	}

	if responsible != nil {
		p.ResponsibleName = model.String(responsible.FullName())
		p.ResponsibleEmail = model.String(responsible.Email)
	}
	return p
}
