package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"helpdesk-sync/internal/model"
)

// MemoryStore 是进程内实现，用于测试和本地调试。写入立即对其它单元可见，
// 回滚通过 undo 日志恢复；唯一约束和外键检查与 Postgres 一致。
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	now    func() time.Time

	deals              map[int64]*model.Deal
	dealsByRemote      map[int64]int64
	activities         map[int64]*model.Activity
	activitiesByRemote map[int64]int64
	attachments        []*model.AttachmentFile
	failed             map[int64]*model.FailedEvent
	events             []OutboxEvent
}

// NewMemoryStore 创建空的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:                func() time.Time { return time.Now().UTC() },
		deals:              make(map[int64]*model.Deal),
		dealsByRemote:      make(map[int64]int64),
		activities:         make(map[int64]*model.Activity),
		activitiesByRemote: make(map[int64]int64),
		failed:             make(map[int64]*model.FailedEvent),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// WithinUnit 执行一个同步单元；fn 返回错误或 panic 时撤销该单元的全部写入
func (s *MemoryStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}

	s.mu.Lock()
	s.events = append(s.events, tx.events...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DealByRemoteID(ctx context.Context, remoteID int64) (*model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dealByRemote(remoteID)
}

func (s *MemoryStore) dealByRemote(remoteID int64) (*model.Deal, error) {
	id, ok := s.dealsByRemote[remoteID]
	if !ok {
		return nil, ErrNotFound
	}
	d := *s.deals[id]
	return &d, nil
}

func (s *MemoryStore) ActivitiesByDeal(ctx context.Context, dealID int64) ([]*model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Activity
	for _, a := range s.activities {
		if a.DealID == dealID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AttachmentsByOwner(ctx context.Context, owner model.Owner) ([]*model.AttachmentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.AttachmentFile
	for _, f := range s.attachments {
		if f.OwnerKind == owner.Kind && f.OwnerID == owner.ID {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

// Events 返回已提交的 outbox 事件
func (s *MemoryStore) Events() []OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboxEvent(nil), s.events...)
}

// Counts 返回 deal、activity、attachment 的行数
func (s *MemoryStore) Counts() (deals, activities, attachments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deals), len(s.activities), len(s.attachments)
}

type memTx struct {
	s      *MemoryStore
	undo   []func()
	events []OutboxEvent
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.events = nil
}

func (t *memTx) DealByRemoteID(ctx context.Context, remoteID int64) (*model.Deal, error) {
	return t.s.DealByRemoteID(ctx, remoteID)
}

func (t *memTx) InsertDeal(ctx context.Context, d *model.Deal) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dealsByRemote[d.DealID]; ok {
		return fmt.Errorf("insert deal %d: %w", d.DealID, ErrConflict)
	}
	d.ID = s.id()
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt
	row := *d
	s.deals[d.ID] = &row
	s.dealsByRemote[d.DealID] = d.ID

	id, remote := d.ID, d.DealID
	t.undo = append(t.undo, func() {
		delete(s.deals, id)
		delete(s.dealsByRemote, remote)
	})
	return nil
}

func (t *memTx) UpdateDeal(ctx context.Context, d *model.Deal) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.deals[d.ID]
	if !ok {
		return fmt.Errorf("update deal %d: %w", d.ID, ErrNotFound)
	}
	d.UpdatedAt = s.now()
	row := *d
	s.deals[d.ID] = &row
	t.undo = append(t.undo, func() { s.deals[prev.ID] = prev })
	return nil
}

func (t *memTx) SetDealUnread(ctx context.Context, dealID int64, unread bool) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("set unread on deal %d: %w", dealID, ErrNotFound)
	}
	row := *prev
	row.IsUnread = unread
	s.deals[dealID] = &row
	t.undo = append(t.undo, func() { s.deals[dealID] = prev })
	return nil
}

func (t *memTx) ActivityByRemoteID(ctx context.Context, remoteID int64) (*model.Activity, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.activitiesByRemote[remoteID]
	if !ok {
		return nil, ErrNotFound
	}
	a := *s.activities[id]
	return &a, nil
}

func (t *memTx) InsertActivity(ctx context.Context, a *model.Activity) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deals[a.DealID]; !ok {
		return fmt.Errorf("insert activity %d: deal %d does not exist", a.ActivityID, a.DealID)
	}
	if _, ok := s.activitiesByRemote[a.ActivityID]; ok {
		return fmt.Errorf("insert activity %d: %w", a.ActivityID, ErrConflict)
	}
	a.ID = s.id()
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	row := *a
	s.activities[a.ID] = &row
	s.activitiesByRemote[a.ActivityID] = a.ID

	id, remote := a.ID, a.ActivityID
	t.undo = append(t.undo, func() {
		delete(s.activities, id)
		delete(s.activitiesByRemote, remote)
	})
	return nil
}

func (t *memTx) UpdateActivity(ctx context.Context, a *model.Activity) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.activities[a.ID]
	if !ok {
		return fmt.Errorf("update activity %d: %w", a.ID, ErrNotFound)
	}
	if _, ok := s.deals[a.DealID]; !ok {
		return fmt.Errorf("update activity %d: deal %d does not exist", a.ActivityID, a.DealID)
	}
	a.UpdatedAt = s.now()
	row := *a
	s.activities[a.ID] = &row
	t.undo = append(t.undo, func() { s.activities[prev.ID] = prev })
	return nil
}

func sameAttachment(f *model.AttachmentFile, owner model.Owner, remoteID int64, remoteURL string) bool {
	if f.OwnerKind != owner.Kind || f.OwnerID != owner.ID {
		return false
	}
	if remoteID != 0 {
		return f.RemoteFileID == remoteID
	}
	return f.RemoteFileID == 0 && f.RemoteURL == remoteURL
}

func (t *memTx) FindAttachment(ctx context.Context, owner model.Owner, ref model.RemoteFileRef) (*model.AttachmentFile, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.attachments {
		if sameAttachment(f, owner, ref.ID, ref.URL) {
			c := *f
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) InsertAttachment(ctx context.Context, f *model.AttachmentFile) (*model.AttachmentFile, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := model.Owner{Kind: f.OwnerKind, ID: f.OwnerID}
	for _, existing := range s.attachments {
		if sameAttachment(existing, owner, f.RemoteFileID, f.RemoteURL) {
			c := *existing
			return &c, nil
		}
	}

	f.ID = s.id()
	f.CreatedAt = s.now()
	row := *f
	s.attachments = append(s.attachments, &row)

	id := f.ID
	t.undo = append(t.undo, func() {
		for i, a := range s.attachments {
			if a.ID == id {
				s.attachments = append(s.attachments[:i], s.attachments[i+1:]...)
				return
			}
		}
	})
	return f, nil
}

func (t *memTx) SetLegacyAttachment(ctx context.Context, owner model.Owner, fileID, fileURL string) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	switch owner.Kind {
	case model.OwnerActivity:
		prev, ok := s.activities[owner.ID]
		if !ok {
			return fmt.Errorf("activity %d: %w", owner.ID, ErrNotFound)
		}
		if prev.FileID != "" {
			return nil
		}
		row := *prev
		row.FileID, row.FileURL = fileID, fileURL
		s.activities[owner.ID] = &row
		t.undo = append(t.undo, func() { s.activities[prev.ID] = prev })
	case model.OwnerDeal:
		prev, ok := s.deals[owner.ID]
		if !ok {
			return fmt.Errorf("deal %d: %w", owner.ID, ErrNotFound)
		}
		if prev.FileID != "" {
			return nil
		}
		row := *prev
		row.FileID, row.FileURL = fileID, fileURL
		s.deals[owner.ID] = &row
		t.undo = append(t.undo, func() { s.deals[prev.ID] = prev })
	default:
		return fmt.Errorf("unknown attachment owner %q", owner.Kind)
	}
	return nil
}

func (t *memTx) EnqueueEvent(ctx context.Context, e OutboxEvent) error {
	t.events = append(t.events, e)
	return nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, e *model.FailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.id()
	e.Status = model.FailedStatusPending
	e.CreatedAt = s.now()
	e.UpdatedAt = e.CreatedAt
	row := *e
	s.failed[e.ID] = &row
	return nil
}

func (s *MemoryStore) ListFailedEvents(ctx context.Context, status string, limit int) ([]*model.FailedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.FailedEvent
	for _, e := range s.failed {
		if status == "" || e.Status == status {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FailedEventByID(ctx context.Context, id int64) (*model.FailedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.failed[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *MemoryStore) MarkReplayed(ctx context.Context, id int64) error {
	return s.updateFailed(id, func(e *model.FailedEvent) {
		e.Status = model.FailedStatusReplayed
	})
}

func (s *MemoryStore) MarkReplayFailed(ctx context.Context, id int64, errorType, message string) error {
	return s.updateFailed(id, func(e *model.FailedEvent) {
		e.Status = model.FailedStatusFailed
		e.ErrorType = errorType
		e.ErrorMessage = message
	})
}

func (s *MemoryStore) updateFailed(id int64, fn func(*model.FailedEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.failed[id]
	if !ok {
		return ErrNotFound
	}
	fn(e)
	e.Attempts++
	e.UpdatedAt = s.now()
	return nil
}
