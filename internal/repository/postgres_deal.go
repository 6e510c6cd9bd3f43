package repository

import (
	"context"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/pkg/otel"

	"github.com/jackc/pgx/v5"
)

const dealColumns = `id, deal_id, title, description, stage_id, opened, closed,
	created_by_id, modify_by_id, moved_by_id, last_activity_by_id, last_communication_time,
	begin_date, close_date, remote_created_at,
	requester_department, assignee_department, service_category, system_type, priority,
	branch, matricula, client_phone, responsible, responsible_email, requester_email,
	user_id, file_id, file_url, is_unread, created_at, updated_at`

func scanDeal(row pgx.Row) (*model.Deal, error) {
	var d model.Deal
	err := row.Scan(
		&d.ID,
		&d.DealID,
		&d.Title,
		&d.Description,
		&d.StageID,
		&d.Opened,
		&d.Closed,
		&d.CreatedByID,
		&d.ModifyByID,
		&d.MovedByID,
		&d.LastActivityByID,
		&d.LastCommunicationTime,
		&d.BeginDate,
		&d.CloseDate,
		&d.RemoteCreatedAt,
		&d.RequesterDepartment,
		&d.AssigneeDepartment,
		&d.ServiceCategory,
		&d.SystemType,
		&d.Priority,
		&d.Branch,
		&d.Matricula,
		&d.ClientPhone,
		&d.Responsible,
		&d.ResponsibleEmail,
		&d.RequesterEmail,
		&d.UserID,
		&d.FileID,
		&d.FileURL,
		&d.IsUnread,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// selectDeal 在事务内加 FOR UPDATE，使同一 Deal 的并发合并串行化
func selectDeal(ctx context.Context, q querier, remoteID int64, forUpdate bool) (*model.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE deal_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var d *model.Deal
	err := otel.DB(ctx, "SELECT", "deals", func(ctx context.Context) error {
		var err error
		d, err = scanDeal(q.QueryRow(ctx, query, remoteID))
		return err
	})
	return d, err
}

func insertDeal(ctx context.Context, q querier, d *model.Deal) error {
	return otel.DB(ctx, "INSERT", "deals", func(ctx context.Context) error {
		return q.QueryRow(ctx, `
			INSERT INTO deals (
				deal_id, title, description, stage_id, opened, closed,
				created_by_id, modify_by_id, moved_by_id, last_activity_by_id, last_communication_time,
				begin_date, close_date, remote_created_at,
				requester_department, assignee_department, service_category, system_type, priority,
				branch, matricula, client_phone, responsible, responsible_email, requester_email,
				user_id, file_id, file_url, is_unread
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10, $11,
				$12, $13, $14,
				$15, $16, $17, $18, $19,
				$20, $21, $22, $23, $24, $25,
				$26, $27, $28, $29
			)
			RETURNING id, created_at, updated_at
		`,
			d.DealID, d.Title, d.Description, d.StageID, d.Opened, d.Closed,
			d.CreatedByID, d.ModifyByID, d.MovedByID, d.LastActivityByID, d.LastCommunicationTime,
			d.BeginDate, d.CloseDate, d.RemoteCreatedAt,
			d.RequesterDepartment, d.AssigneeDepartment, d.ServiceCategory, d.SystemType, d.Priority,
			d.Branch, d.Matricula, d.ClientPhone, d.Responsible, d.ResponsibleEmail, d.RequesterEmail,
			d.UserID, d.FileID, d.FileURL, d.IsUnread,
		).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	})
}

func updateDeal(ctx context.Context, q querier, d *model.Deal) error {
	return otel.DB(ctx, "UPDATE", "deals", func(ctx context.Context) error {
		err := q.QueryRow(ctx, `
			UPDATE deals SET
				title = $2, description = $3, stage_id = $4, opened = $5, closed = $6,
				created_by_id = $7, modify_by_id = $8, moved_by_id = $9,
				last_activity_by_id = $10, last_communication_time = $11,
				begin_date = $12, close_date = $13, remote_created_at = $14,
				requester_department = $15, assignee_department = $16, service_category = $17,
				system_type = $18, priority = $19, branch = $20, matricula = $21, client_phone = $22,
				responsible = $23, responsible_email = $24, requester_email = $25,
				user_id = $26, file_id = $27, file_url = $28, is_unread = $29,
				updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`,
			d.ID, d.Title, d.Description, d.StageID, d.Opened, d.Closed,
			d.CreatedByID, d.ModifyByID, d.MovedByID,
			d.LastActivityByID, d.LastCommunicationTime,
			d.BeginDate, d.CloseDate, d.RemoteCreatedAt,
			d.RequesterDepartment, d.AssigneeDepartment, d.ServiceCategory,
			d.SystemType, d.Priority, d.Branch, d.Matricula, d.ClientPhone,
			d.Responsible, d.ResponsibleEmail, d.RequesterEmail,
			d.UserID, d.FileID, d.FileURL, d.IsUnread,
		).Scan(&d.UpdatedAt)
		return notFound(err)
	})
}
