package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	crmwire "helpdesk-sync/contracts/crm"
	mqcontracts "helpdesk-sync/contracts/mq"
	"helpdesk-sync/contracts/ws"
	"helpdesk-sync/internal/crm"
	"helpdesk-sync/internal/mirror"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCRM struct {
	mu         sync.Mutex
	deals      map[int64]crmwire.Record
	activities map[int64]crmwire.Record
	users      map[string]*crmwire.User
	files      map[int64]*crm.Download
	downloads  int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		deals:      make(map[int64]crmwire.Record),
		activities: make(map[int64]crmwire.Record),
		users:      make(map[string]*crmwire.User),
		files:      make(map[int64]*crm.Download),
	}
}

func (f *fakeCRM) FetchEntity(ctx context.Context, kind crm.Kind, id int64) (crmwire.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rec crmwire.Record
	switch kind {
	case crm.KindDeal:
		rec = f.deals[id]
	case crm.KindActivity:
		rec = f.activities[id]
	}
	return rec, rec != nil
}

func (f *fakeCRM) FetchUser(ctx context.Context, id string) (*crmwire.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u, ok
}

func (f *fakeCRM) DownloadAttachment(ctx context.Context, ref model.RemoteFileRef) (*crm.Download, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	dl, ok := f.files[ref.ID]
	return dl, ok
}

func (f *fakeCRM) setDeal(id int64, rec crmwire.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deals[id] = rec
}

type recorder struct {
	mu   sync.Mutex
	msgs []ws.Message
}

func (r *recorder) Notify(ctx context.Context, msg ws.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

type harness struct {
	crm     *fakeCRM
	store   *repository.MemoryStore
	objects *storage.MemoryStore
	sent    *recorder
	engine  *Engine
}

func newHarness() *harness {
	h := &harness{
		crm:     newFakeCRM(),
		store:   repository.NewMemoryStore(),
		objects: storage.NewMemoryStore("test"),
		sent:    &recorder{},
	}
	m := mirror.New(h.crm, h.objects, "", zap.NewNop())
	h.engine = NewEngine(h.crm, h.store, m, h.sent, zap.NewNop())
	return h
}

func activityRecord(id, dealID string, files ...map[string]any) crmwire.Record {
	rec := crmwire.Record{
		"ID":            id,
		"OWNER_TYPE_ID": "2",
		"OWNER_ID":      dealID,
		"TYPE_ID":       "4",
		"DIRECTION":     "1",
		"SUBJECT":       "Re: impressora",
		"DESCRIPTION":   "Oi" + remoteSignature,
		"STATUS":        "1",
		"CREATED":       "2025-11-20T10:00:00+03:00",
	}
	if len(files) > 0 {
		list := make([]any, 0, len(files))
		for _, f := range files {
			list = append(list, f)
		}
		rec["FILES"] = list
	}
	return rec
}

// 场景 A：同一 Deal 重复通知只更新同一行
func TestSyncDeal_CreateThenUpdate(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.crm.setDeal(8029, crmwire.Record{"ID": "8029", "TITLE": "T1"})
	require.NoError(t, h.engine.SyncDeal(ctx, 8029))

	h.crm.setDeal(8029, crmwire.Record{"ID": "8029", "TITLE": "T2"})
	require.NoError(t, h.engine.SyncDeal(ctx, 8029))

	deals, _, _ := h.store.Counts()
	assert.Equal(t, 1, deals)
	d, err := h.store.DealByRemoteID(ctx, 8029)
	require.NoError(t, err)
	assert.Equal(t, "T2", d.Title)

	require.Len(t, h.sent.msgs, 2)
	assert.Equal(t, ws.TypeDealUpdated, h.sent.msgs[1].Type)
	assert.Equal(t, int64(8029), h.sent.msgs[1].DealID)

	events := h.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, mqcontracts.RoutingKeyDealSynced, events[0].RoutingKey)
	assert.True(t, events[0].Payload.(mqcontracts.DealSyncedPayload).Created)
	assert.False(t, events[1].Payload.(mqcontracts.DealSyncedPayload).Created)
}

func TestSyncDeal_FieldMapping(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.users["12"] = &crmwire.User{ID: "12", Name: "Ana", LastName: "Souza", Email: "ana@example.com"}
	h.crm.setDeal(8029, crmwire.Record{
		"ID":                             "8029",
		"TITLE":                          "Impressora",
		"STAGE_ID":                       "C25:NEW",
		"ASSIGNED_BY_ID":                 "12",
		"DATE_CREATE":                    "2025-11-20T10:00:00+03:00",
		"BEGINDATE":                      "not a date",
		crmwire.FieldDescription:         "Quebrou" + remoteSignature,
		crmwire.FieldPriority:            "1559",
		crmwire.FieldSystem:              "9999",
		crmwire.FieldCategory:            "1565",
		crmwire.FieldBranch:              "1413",
		crmwire.FieldDepartment:          "1301",
		crmwire.FieldRequesterDepartment: "",
		crmwire.FieldMatriculaUserID:     "77",
		crmwire.FieldClientPhone:         "+55 11 99999-0000",
	})
	require.NoError(t, h.engine.SyncDeal(ctx, 8029))

	d, err := h.store.DealByRemoteID(ctx, 8029)
	require.NoError(t, err)
	assert.Equal(t, "Impressora", d.Title)
	assert.Equal(t, "C25:NEW", d.StageID)
	assert.Equal(t, "Quebrou", d.Description)
	assert.Equal(t, "Alto/Urgente", d.Priority)
	assert.Equal(t, "9999", d.SystemType)
	assert.Equal(t, "Interno", d.ServiceCategory)
	assert.Equal(t, "São Paulo (SAO)", d.Branch)
	assert.Equal(t, "Abastecimento", d.AssigneeDepartment)
	assert.Empty(t, d.RequesterDepartment)
	assert.Equal(t, "77", d.Matricula)
	assert.Equal(t, "+55 11 99999-0000", d.ClientPhone)
	assert.Equal(t, "Ana Souza", d.Responsible)
	assert.Equal(t, "ana@example.com", d.ResponsibleEmail)
	require.NotNil(t, d.RemoteCreatedAt)
	assert.Equal(t, time.Date(2025, 11, 20, 7, 0, 0, 0, time.UTC), *d.RemoteCreatedAt)
	assert.Nil(t, d.BeginDate)
}

func TestSyncDeal_PreservesLocalFields(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	uid := int64(42)

	err := h.store.WithinUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, _, err := repository.UpsertDeal(ctx, tx, model.DealPatch{
			DealID:   8029,
			Title:    model.String("local"),
			Priority: model.String("Baixo"),
			UserID:   &uid,
			IsUnread: model.Bool(true),
		})
		return err
	})
	require.NoError(t, err)

	h.crm.setDeal(8029, crmwire.Record{"ID": "8029", "TITLE": "remote"})
	require.NoError(t, h.engine.SyncDeal(ctx, 8029))

	d, err := h.store.DealByRemoteID(ctx, 8029)
	require.NoError(t, err)
	assert.Equal(t, "remote", d.Title)
	assert.Equal(t, "Baixo", d.Priority)
	require.NotNil(t, d.UserID)
	assert.Equal(t, uid, *d.UserID)
	assert.True(t, d.IsUnread)
}

func TestSyncDeal_AbsentIsSkipped(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.engine.SyncDeal(context.Background(), 1))

	deals, _, _ := h.store.Counts()
	assert.Zero(t, deals)
	assert.Empty(t, h.sent.msgs)
}

func TestSyncDeal_LegacyAttachmentField(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.files[300] = &crm.Download{Filename: "nota.pdf", Data: []byte("pdf")}
	h.crm.setDeal(8029, crmwire.Record{
		"ID":                    "8029",
		crmwire.FieldAttachment: map[string]any{"id": "300", "url": "/show?id=300"},
	})
	require.NoError(t, h.engine.SyncDeal(ctx, 8029))

	d, err := h.store.DealByRemoteID(ctx, 8029)
	require.NoError(t, err)
	files, err := h.store.AttachmentsByOwner(ctx, model.Owner{Kind: model.OwnerDeal, ID: d.ID})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, files[0].StorageKey, d.FileID)

	// 广播的是附件落库后的最新状态
	require.Len(t, h.sent.msgs, 1)
	assert.Equal(t, d.FileID, h.sent.msgs[0].Data.(*model.Deal).FileID)
}

// 场景 B：活动先于 Deal 到达，引擎先补齐 Deal
func TestSyncActivity_SelfHealsParent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000", "TITLE": "pai"})
	h.crm.activities[500] = activityRecord("500", "9000")

	require.NoError(t, h.engine.SyncActivity(ctx, 500))

	d, err := h.store.DealByRemoteID(ctx, 9000)
	require.NoError(t, err)
	assert.Equal(t, "pai", d.Title)

	acts, err := h.store.ActivitiesByDeal(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	a := acts[0]
	assert.Equal(t, int64(500), a.ActivityID)
	assert.Equal(t, d.ID, a.DealID)
	assert.Equal(t, int64(9000), a.RemoteDealID)
	assert.Equal(t, "Oi", a.Description)
	assert.Equal(t, "Oi"+remoteSignature, a.BodyHTML)
	assert.False(t, a.ReadConfirmed)

	// 客户来信把 Deal 标为未读
	assert.True(t, d.IsUnread)

	require.Len(t, h.sent.msgs, 2)
	assert.Equal(t, ws.TypeDealUpdated, h.sent.msgs[0].Type)
	assert.Equal(t, ws.TypeActivityCreated, h.sent.msgs[1].Type)
	assert.Equal(t, int64(9000), h.sent.msgs[1].DealID)
}

func TestSyncActivity_ParentUnavailableIsDropped(t *testing.T) {
	h := newHarness()
	h.crm.activities[500] = activityRecord("500", "9000")

	require.NoError(t, h.engine.SyncActivity(context.Background(), 500))

	deals, activities, _ := h.store.Counts()
	assert.Zero(t, deals)
	assert.Zero(t, activities)
}

func TestSyncActivity_NonDealOwnerIgnored(t *testing.T) {
	h := newHarness()
	rec := activityRecord("500", "9000")
	rec["OWNER_TYPE_ID"] = "3"
	h.crm.activities[500] = rec
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000"})

	require.NoError(t, h.engine.SyncActivity(context.Background(), 500))
	deals, activities, _ := h.store.Counts()
	assert.Zero(t, deals)
	assert.Zero(t, activities)
}

func TestSyncActivity_FieldMapping(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.users["5"] = &crmwire.User{ID: "5", Name: "Rui", Email: "rui@example.com"}
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000"})
	rec := activityRecord("500", "9000")
	rec["DIRECTION"] = "2"
	rec["STATUS"] = "2"
	rec["RESPONSIBLE_ID"] = "5"
	rec["SETTINGS"] = map[string]any{"EMAIL_META": map[string]any{"from": "a@x.com", "to": "b@y.com"}}
	h.crm.activities[500] = rec

	require.NoError(t, h.engine.SyncActivity(ctx, 500))

	d, err := h.store.DealByRemoteID(ctx, 9000)
	require.NoError(t, err)
	assert.False(t, d.IsUnread)

	acts, err := h.store.ActivitiesByDeal(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	a := acts[0]
	assert.True(t, a.ReadConfirmed)
	assert.Equal(t, "a@x.com", a.FromEmail)
	assert.Equal(t, "a@x.com", a.SenderEmail)
	assert.Equal(t, "b@y.com", a.ToEmail)
	assert.Equal(t, "b@y.com", a.ReceiverEmail)
	assert.Equal(t, "Rui", a.ResponsibleName)
	assert.Equal(t, "rui@example.com", a.ResponsibleEmail)
	require.NotNil(t, a.RemoteCreatedAt)
	assert.Equal(t, time.UTC, a.RemoteCreatedAt.Location())
}

// 场景 C：两个附件一个失败，只保留成功的一个
func TestSyncActivity_PartialAttachmentFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000"})
	h.crm.files[101] = &crm.Download{Filename: "a.pdf", Data: []byte("a")}
	h.crm.activities[500] = activityRecord("500", "9000",
		map[string]any{"id": "101"},
		map[string]any{"id": "102"},
	)

	require.NoError(t, h.engine.SyncActivity(ctx, 500))

	d, err := h.store.DealByRemoteID(ctx, 9000)
	require.NoError(t, err)
	acts, err := h.store.ActivitiesByDeal(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)

	files, err := h.store.AttachmentsByOwner(ctx, model.Owner{Kind: model.OwnerActivity, ID: acts[0].ID})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(101), files[0].RemoteFileID)
	assert.Equal(t, files[0].StorageKey, acts[0].FileID)
	assert.Equal(t, files[0].StorageKey, acts[0].FileURL)

	events := h.store.Events()
	last := events[len(events)-1].Payload.(mqcontracts.ActivitySyncedPayload)
	assert.Equal(t, 1, last.Attachments)
}

func TestSyncActivity_Idempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000"})
	h.crm.files[101] = &crm.Download{Filename: "a.pdf", Data: []byte("a")}
	h.crm.files[102] = &crm.Download{Filename: "b.pdf", Data: []byte("b")}
	h.crm.activities[500] = activityRecord("500", "9000",
		map[string]any{"id": "101"},
		map[string]any{"id": "102"},
	)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.SyncActivity(ctx, 500))
	}

	deals, activities, attachments := h.store.Counts()
	assert.Equal(t, 1, deals)
	assert.Equal(t, 1, activities)
	assert.Equal(t, 2, attachments)
	assert.Equal(t, 2, h.crm.downloads)
	assert.Equal(t, 2, h.objects.Puts())

	types := make([]string, 0, len(h.sent.msgs))
	for _, m := range h.sent.msgs {
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{ws.TypeDealUpdated, ws.TypeActivityCreated, ws.TypeActivityUpdated, ws.TypeActivityUpdated}, types)
}

func TestOutOfOrderDeliveryConverges(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000", "TITLE": "v2"})
	h.crm.activities[500] = activityRecord("500", "9000")

	// 活动通知先处理，随后才到达较早的 Deal 通知；两者都回源读取最新状态
	require.NoError(t, h.engine.SyncActivity(ctx, 500))
	require.NoError(t, h.engine.SyncDeal(ctx, 9000))

	d, err := h.store.DealByRemoteID(ctx, 9000)
	require.NoError(t, err)
	assert.Equal(t, "v2", d.Title)
	acts, err := h.store.ActivitiesByDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestConcurrentSyncs_SingleRows(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.crm.setDeal(9000, crmwire.Record{"ID": "9000", "TITLE": "race"})
	h.crm.activities[500] = activityRecord("500", "9000")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- h.engine.SyncDeal(ctx, 9000)
		}()
		go func() {
			defer wg.Done()
			errs <- h.engine.SyncActivity(ctx, 500)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	deals, activities, _ := h.store.Counts()
	assert.Equal(t, 1, deals)
	assert.Equal(t, 1, activities)
}
