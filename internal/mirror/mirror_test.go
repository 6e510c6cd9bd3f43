package mirror

import (
	"context"
	"strings"
	"sync"
	"testing"

	"helpdesk-sync/internal/crm"
	"helpdesk-sync/internal/model"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDownloader struct {
	mu      sync.Mutex
	files   map[int64]*crm.Download
	byURL   map[string]*crm.Download
	calls   int
	fetched []model.RemoteFileRef
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		files: make(map[int64]*crm.Download),
		byURL: make(map[string]*crm.Download),
	}
}

func (f *fakeDownloader) DownloadAttachment(ctx context.Context, ref model.RemoteFileRef) (*crm.Download, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.fetched = append(f.fetched, ref)
	if ref.ID != 0 {
		dl, ok := f.files[ref.ID]
		return dl, ok
	}
	dl, ok := f.byURL[ref.URL]
	return dl, ok
}

type fixture struct {
	repo    *repository.MemoryStore
	objects *storage.MemoryStore
	dl      *fakeDownloader
	mirror  *Mirror
	owner   model.Owner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    repository.NewMemoryStore(),
		objects: storage.NewMemoryStore("test"),
		dl:      newFakeDownloader(),
	}
	f.mirror = New(f.dl, f.objects, "", zap.NewNop())

	err := f.repo.WithinUnit(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		d, _, err := repository.UpsertDeal(ctx, tx, model.DealPatch{DealID: 8029})
		if err != nil {
			return err
		}
		a, _, err := repository.UpsertActivity(ctx, tx, model.ActivityPatch{ActivityID: 500, DealID: d.ID, RemoteDealID: 8029})
		if err != nil {
			return err
		}
		f.owner = model.Owner{Kind: model.OwnerActivity, ID: a.ID}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) mirrorAll(t *testing.T, refs ...model.RemoteFileRef) []string {
	t.Helper()
	var keys []string
	err := f.repo.WithinUnit(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		keys = f.mirror.MirrorAll(ctx, tx, refs, f.owner)
		return nil
	})
	require.NoError(t, err)
	return keys
}

func TestMirrorAll_TwoFiles(t *testing.T) {
	f := newFixture(t)
	f.dl.files[101] = &crm.Download{Filename: "a.pdf", Data: []byte("pdf")}
	f.dl.files[102] = &crm.Download{Filename: "b.png", Data: []byte("png")}

	keys := f.mirrorAll(t, model.RemoteFileRef{ID: 101}, model.RemoteFileRef{ID: 102})
	require.Len(t, keys, 2)
	assert.True(t, strings.HasPrefix(keys[0], "attachments/"))
	assert.True(t, strings.HasSuffix(keys[0], ".pdf"))
	assert.True(t, strings.HasSuffix(keys[1], ".png"))

	data, ct, err := f.objects.Get(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))
	assert.Equal(t, "application/pdf", ct)

	files, err := f.repo.AttachmentsByOwner(context.Background(), f.owner)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	d, err := f.repo.DealByRemoteID(context.Background(), 8029)
	require.NoError(t, err)
	acts, err := f.repo.ActivitiesByDeal(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, keys[0], acts[0].FileID)
	assert.Equal(t, keys[0], acts[0].FileURL)
}

func TestMirrorAll_RedeliveryDoesNotDownloadAgain(t *testing.T) {
	f := newFixture(t)
	f.dl.files[101] = &crm.Download{Filename: "a.pdf", Data: []byte("pdf")}
	f.dl.files[102] = &crm.Download{Filename: "b.png", Data: []byte("png")}
	refs := []model.RemoteFileRef{{ID: 101}, {ID: 102}}

	first := f.mirrorAll(t, refs...)
	second := f.mirrorAll(t, refs...)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, f.dl.calls)
	assert.Equal(t, 2, f.objects.Puts())
	_, _, attachments := f.repo.Counts()
	assert.Equal(t, 2, attachments)
}

func TestMirrorAll_DedupByURLWhenNoID(t *testing.T) {
	f := newFixture(t)
	f.dl.byURL["/disk/show?id=7"] = &crm.Download{Filename: "scan.jpg", Data: []byte("jpg")}

	first := f.mirrorAll(t, model.RemoteFileRef{URL: "/disk/show?id=7"})
	second := f.mirrorAll(t, model.RemoteFileRef{URL: "/disk/show?id=7"})

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.dl.calls)
}

func TestMirrorAll_FailedFileDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	f.dl.files[102] = &crm.Download{Filename: "b.txt", Data: []byte("ok")}

	keys := f.mirrorAll(t,
		model.RemoteFileRef{ID: 101},
		model.RemoteFileRef{},
		model.RemoteFileRef{ID: 102},
	)

	require.Len(t, keys, 1)
	assert.True(t, strings.HasSuffix(keys[0], ".txt"))
	assert.Equal(t, 2, f.dl.calls)
}

func TestMirror_RefFilenameWins(t *testing.T) {
	f := newFixture(t)
	f.dl.files[9] = &crm.Download{Filename: "download", Data: []byte("x")}

	var key string
	err := f.repo.WithinUnit(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		key, err = f.mirror.Mirror(ctx, tx, model.RemoteFileRef{ID: 9, Filename: "Contrato.DOCX"}, f.owner)
		return err
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".docx"))

	files, err := f.repo.AttachmentsByOwner(context.Background(), f.owner)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Contrato.DOCX", files[0].Filename)
}

func TestMirror_UnavailableDownload(t *testing.T) {
	f := newFixture(t)

	err := f.repo.WithinUnit(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := f.mirror.Mirror(ctx, tx, model.RemoteFileRef{ID: 404}, f.owner)
		return err
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, f.objects.Puts())
}
