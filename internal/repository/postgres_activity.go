package repository

import (
	"context"
	"fmt"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/pkg/otel"

	"github.com/jackc/pgx/v5"
)

const activityColumns = `id, activity_id, deal_id, remote_deal_id,
	owner_type_id, type_id, provider_id, provider_type_id, direction, subject, priority,
	responsible_id, responsible_name, responsible_email, description, body_html, description_type,
	sender_email, from_email, to_email, receiver_email, author_id, editor_id, read_confirmed,
	created_at_remote, file_id, file_url, created_at, updated_at`

func scanActivity(row pgx.Row) (*model.Activity, error) {
	var a model.Activity
	err := row.Scan(
		&a.ID,
		&a.ActivityID,
		&a.DealID,
		&a.RemoteDealID,
		&a.OwnerTypeID,
		&a.TypeID,
		&a.ProviderID,
		&a.ProviderTypeID,
		&a.Direction,
		&a.Subject,
		&a.Priority,
		&a.ResponsibleID,
		&a.ResponsibleName,
		&a.ResponsibleEmail,
		&a.Description,
		&a.BodyHTML,
		&a.DescriptionType,
		&a.SenderEmail,
		&a.FromEmail,
		&a.ToEmail,
		&a.ReceiverEmail,
		&a.AuthorID,
		&a.EditorID,
		&a.ReadConfirmed,
		&a.RemoteCreatedAt,
		&a.FileID,
		&a.FileURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func selectActivity(ctx context.Context, q querier, remoteID int64) (*model.Activity, error) {
	var a *model.Activity
	err := otel.DB(ctx, "SELECT", "activities", func(ctx context.Context) error {
		var err error
		a, err = scanActivity(q.QueryRow(ctx,
			`SELECT `+activityColumns+` FROM activities WHERE activity_id = $1 FOR UPDATE`, remoteID))
		return err
	})
	return a, err
}

func selectActivities(ctx context.Context, q querier, dealID int64) ([]*model.Activity, error) {
	var out []*model.Activity
	err := otel.DB(ctx, "SELECT", "activities", func(ctx context.Context) error {
		rows, err := q.Query(ctx, `
			SELECT `+activityColumns+`
			FROM activities
			WHERE deal_id = $1
			ORDER BY created_at_remote NULLS LAST, id
		`, dealID)
		if err != nil {
			return fmt.Errorf("query activities: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanActivity(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func insertActivity(ctx context.Context, q querier, a *model.Activity) error {
	return otel.DB(ctx, "INSERT", "activities", func(ctx context.Context) error {
		return q.QueryRow(ctx, `
			INSERT INTO activities (
				activity_id, deal_id, remote_deal_id,
				owner_type_id, type_id, provider_id, provider_type_id, direction, subject, priority,
				responsible_id, responsible_name, responsible_email, description, body_html, description_type,
				sender_email, from_email, to_email, receiver_email, author_id, editor_id, read_confirmed,
				created_at_remote, file_id, file_url
			) VALUES (
				$1, $2, $3,
				$4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22, $23,
				$24, $25, $26
			)
			RETURNING id, created_at, updated_at
		`,
			a.ActivityID, a.DealID, a.RemoteDealID,
			a.OwnerTypeID, a.TypeID, a.ProviderID, a.ProviderTypeID, a.Direction, a.Subject, a.Priority,
			a.ResponsibleID, a.ResponsibleName, a.ResponsibleEmail, a.Description, a.BodyHTML, a.DescriptionType,
			a.SenderEmail, a.FromEmail, a.ToEmail, a.ReceiverEmail, a.AuthorID, a.EditorID, a.ReadConfirmed,
			a.RemoteCreatedAt, a.FileID, a.FileURL,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	})
}

func updateActivity(ctx context.Context, q querier, a *model.Activity) error {
	return otel.DB(ctx, "UPDATE", "activities", func(ctx context.Context) error {
		err := q.QueryRow(ctx, `
			UPDATE activities SET
				deal_id = $2, remote_deal_id = $3,
				owner_type_id = $4, type_id = $5, provider_id = $6, provider_type_id = $7,
				direction = $8, subject = $9, priority = $10,
				responsible_id = $11, responsible_name = $12, responsible_email = $13,
				description = $14, body_html = $15, description_type = $16,
				sender_email = $17, from_email = $18, to_email = $19, receiver_email = $20,
				author_id = $21, editor_id = $22, read_confirmed = $23,
				created_at_remote = $24, file_id = $25, file_url = $26,
				updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`,
			a.ID, a.DealID, a.RemoteDealID,
			a.OwnerTypeID, a.TypeID, a.ProviderID, a.ProviderTypeID,
			a.Direction, a.Subject, a.Priority,
			a.ResponsibleID, a.ResponsibleName, a.ResponsibleEmail,
			a.Description, a.BodyHTML, a.DescriptionType,
			a.SenderEmail, a.FromEmail, a.ToEmail, a.ReceiverEmail,
			a.AuthorID, a.EditorID, a.ReadConfirmed,
			a.RemoteCreatedAt, a.FileID, a.FileURL,
		).Scan(&a.UpdatedAt)
		return notFound(err)
	})
}
