package repository

import (
	"context"
	"errors"
	"fmt"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/pkg/otel"
	"helpdesk-sync/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// querier 是 pool 和 tx 的公共子集
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore 是基于 pgxpool 的实现
type PGStore struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

// NewPGStore 创建 Postgres 存储
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db, outbox: outbox.NewRepository(db)}
}

// WithinUnit 在一个事务中执行 fn；fn 返回错误时回滚
func (s *PGStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}
	// Commit 之后 Rollback 是 no-op
	defer tx.Rollback(context.Background())

	if err := fn(ctx, &pgTx{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return nil
}

func (s *PGStore) DealByRemoteID(ctx context.Context, remoteID int64) (*model.Deal, error) {
	return selectDeal(ctx, s.db, remoteID, false)
}

func (s *PGStore) ActivitiesByDeal(ctx context.Context, dealID int64) ([]*model.Activity, error) {
	return selectActivities(ctx, s.db, dealID)
}

func (s *PGStore) AttachmentsByOwner(ctx context.Context, owner model.Owner) ([]*model.AttachmentFile, error) {
	return selectAttachments(ctx, s.db, owner)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) DealByRemoteID(ctx context.Context, remoteID int64) (*model.Deal, error) {
	return selectDeal(ctx, t.tx, remoteID, true)
}

func (t *pgTx) InsertDeal(ctx context.Context, d *model.Deal) error {
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		return insertDeal(ctx, tx, d)
	})
}

func (t *pgTx) UpdateDeal(ctx context.Context, d *model.Deal) error {
	return updateDeal(ctx, t.tx, d)
}

func (t *pgTx) SetDealUnread(ctx context.Context, dealID int64, unread bool) error {
	return otel.DB(ctx, "UPDATE", "deals", func(ctx context.Context) error {
		tag, err := t.tx.Exec(ctx, `UPDATE deals SET is_unread = $2, updated_at = NOW() WHERE id = $1`, dealID, unread)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (t *pgTx) ActivityByRemoteID(ctx context.Context, remoteID int64) (*model.Activity, error) {
	return selectActivity(ctx, t.tx, remoteID)
}

func (t *pgTx) InsertActivity(ctx context.Context, a *model.Activity) error {
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		return insertActivity(ctx, tx, a)
	})
}

func (t *pgTx) UpdateActivity(ctx context.Context, a *model.Activity) error {
	return updateActivity(ctx, t.tx, a)
}

// 附件相关语句都放在保存点里：单个文件出错只回滚这个文件，
// 单元内后续语句不会因事务 aborted 而失败

func (t *pgTx) FindAttachment(ctx context.Context, owner model.Owner, ref model.RemoteFileRef) (*model.AttachmentFile, error) {
	var f *model.AttachmentFile
	err := t.savepoint(ctx, func(tx pgx.Tx) error {
		var err error
		f, err = findAttachment(ctx, tx, owner, ref.ID, ref.URL)
		return err
	})
	return f, err
}

func (t *pgTx) InsertAttachment(ctx context.Context, f *model.AttachmentFile) (*model.AttachmentFile, error) {
	var stored *model.AttachmentFile
	err := t.savepoint(ctx, func(tx pgx.Tx) error {
		var err error
		stored, err = insertAttachment(ctx, tx, f)
		return err
	})
	return stored, err
}

func (t *pgTx) SetLegacyAttachment(ctx context.Context, owner model.Owner, fileID, fileURL string) error {
	table, err := ownerTable(owner.Kind)
	if err != nil {
		return err
	}
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		return otel.DB(ctx, "UPDATE", table, func(ctx context.Context) error {
			_, err := tx.Exec(ctx, `
				UPDATE `+table+`
				SET file_id = $2, file_url = $3, updated_at = NOW()
				WHERE id = $1 AND (file_id IS NULL OR file_id = '')
			`, owner.ID, fileID, fileURL)
			return err
		})
	})
}

func (t *pgTx) EnqueueEvent(ctx context.Context, e OutboxEvent) error {
	id := e.AggregateID
	return outbox.InsertEventInTx(ctx, t.tx, t.outbox, e.AggregateType, &id, e.RoutingKey, e.Payload)
}

// savepoint 在嵌套事务中执行 fn；fn 出错只回滚到保存点，外层事务仍然可用。
// 唯一键冲突返回 ErrConflict
func (t *pgTx) savepoint(ctx context.Context, fn func(tx pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	return sp.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func ownerTable(kind model.OwnerKind) (string, error) {
	switch kind {
	case model.OwnerActivity:
		return "activities", nil
	case model.OwnerDeal:
		return "deals", nil
	default:
		return "", fmt.Errorf("unknown attachment owner %q", kind)
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
