package repository

import (
	"context"
	"errors"
	"fmt"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/pkg/otel"

	"github.com/jackc/pgx/v5"
)

// 每种 owner 一张映射表，列结构相同
func attachmentTable(kind model.OwnerKind) (table, ownerColumn string, err error) {
	switch kind {
	case model.OwnerActivity:
		return "activity_files", "activity_id", nil
	case model.OwnerDeal:
		return "deal_files", "deal_id", nil
	default:
		return "", "", fmt.Errorf("unknown attachment owner %q", kind)
	}
}

func scanAttachment(row pgx.Row, kind model.OwnerKind) (*model.AttachmentFile, error) {
	f := model.AttachmentFile{OwnerKind: kind}
	var remoteID *int64
	var remoteURL *string
	err := row.Scan(&f.ID, &f.OwnerID, &remoteID, &remoteURL, &f.StorageKey, &f.Filename, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if remoteID != nil {
		f.RemoteFileID = *remoteID
	}
	if remoteURL != nil {
		f.RemoteURL = *remoteURL
	}
	return &f, nil
}

func findAttachment(ctx context.Context, q querier, owner model.Owner, remoteID int64, remoteURL string) (*model.AttachmentFile, error) {
	table, col, err := attachmentTable(owner.Kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, ` + col + `, remote_file_id, remote_url, storage_key, filename, created_at
		FROM ` + table + ` WHERE ` + col + ` = $1 AND remote_file_id = $2`
	arg := any(remoteID)
	if remoteID == 0 {
		query = `SELECT id, ` + col + `, remote_file_id, remote_url, storage_key, filename, created_at
			FROM ` + table + ` WHERE ` + col + ` = $1 AND remote_file_id IS NULL AND remote_url = $2`
		arg = remoteURL
	}

	var f *model.AttachmentFile
	err = otel.DB(ctx, "SELECT", table, func(ctx context.Context) error {
		var err error
		f, err = scanAttachment(q.QueryRow(ctx, query, owner.ID, arg), owner.Kind)
		return err
	})
	return f, err
}

// insertAttachment 依赖两个部分唯一索引；冲突时 DO NOTHING 并读回胜出的一行
func insertAttachment(ctx context.Context, q querier, f *model.AttachmentFile) (*model.AttachmentFile, error) {
	table, col, err := attachmentTable(f.OwnerKind)
	if err != nil {
		return nil, err
	}

	var remoteID *int64
	if f.RemoteFileID != 0 {
		id := f.RemoteFileID
		remoteID = &id
	}
	var remoteURL *string
	if f.RemoteURL != "" {
		u := f.RemoteURL
		remoteURL = &u
	}

	var inserted bool
	err = otel.DB(ctx, "INSERT", table, func(ctx context.Context) error {
		err := q.QueryRow(ctx, `
			INSERT INTO `+table+` (`+col+`, remote_file_id, remote_url, storage_key, filename)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
			RETURNING id, created_at
		`, f.OwnerID, remoteID, remoteURL, f.StorageKey, f.Filename).Scan(&f.ID, &f.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		inserted = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		return f, nil
	}
	return findAttachment(ctx, q, model.Owner{Kind: f.OwnerKind, ID: f.OwnerID}, f.RemoteFileID, f.RemoteURL)
}

func selectAttachments(ctx context.Context, q querier, owner model.Owner) ([]*model.AttachmentFile, error) {
	table, col, err := attachmentTable(owner.Kind)
	if err != nil {
		return nil, err
	}

	var out []*model.AttachmentFile
	err = otel.DB(ctx, "SELECT", table, func(ctx context.Context) error {
		rows, err := q.Query(ctx, `
			SELECT id, `+col+`, remote_file_id, remote_url, storage_key, filename, created_at
			FROM `+table+`
			WHERE `+col+` = $1
			ORDER BY id
		`, owner.ID)
		if err != nil {
			return fmt.Errorf("query %s: %w", table, err)
		}
		defer rows.Close()

		for rows.Next() {
			f, err := scanAttachment(rows, owner.Kind)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}
