package crm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"helpdesk-sync/internal/model"
	"helpdesk-sync/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const hookPath = "/rest/1/secret"

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
}

// fakeCRM 按方法名返回预设响应，并记录收到的请求
type fakeCRM struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]http.HandlerFunc
}

func newFakeCRM(t *testing.T) (*fakeCRM, *httptest.Server) {
	f := &fakeCRM{handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Body != nil {
			b, _ := io.ReadAll(r.Body)
			if len(b) > 0 {
				_ = json.Unmarshal(b, &rec.body)
			}
		}
		f.mu.Lock()
		f.calls = append(f.calls, rec)
		h, ok := f.handlers[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCRM) on(method string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[hookPath+"/"+method+".json"] = h
}

func (f *fakeCRM) onPath(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeCRM) callsTo(method string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, c := range f.calls {
		if c.path == hookPath+"/"+method+".json" {
			out = append(out, c)
		}
	}
	return out
}

func result(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": v})
	}
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.CRMConfig{
		WebhookURL:      srv.URL + hookPath + "/",
		StagePrefix:     "C25",
		CategoryID:      25,
		DefaultAssignee: "6185",
		EmailSender:     "helpdesk@example.com",
	}, nil, zap.NewNop())
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://acme.bitrix24.com.br/rest/1/x", normalizeBaseURL("acme.bitrix24.com.br/rest/1/x/"))
	assert.Equal(t, "http://localhost:8080/rest", normalizeBaseURL(" http://localhost:8080/rest "))
	assert.Equal(t, "", normalizeBaseURL(""))
}

func TestFetchEntity_Deal(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.deal.get", result(map[string]any{"ID": "8029", "TITLE": "T1", "ASSIGNED_BY_ID": "12"}))
	c := newTestClient(srv)

	rec, ok := c.FetchEntity(context.Background(), KindDeal, 8029)
	require.True(t, ok)

	id, _ := rec.Int("ID")
	title, _ := rec.String("TITLE")
	assert.Equal(t, int64(8029), id)
	assert.Equal(t, "T1", title)

	calls := f.callsTo("crm.deal.get")
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodGet, calls[0].method)
	assert.Equal(t, "id=8029", calls[0].query)
}

func TestFetchEntity_AbsentResults(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"error envelope", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"NOT_FOUND","error_description":"Not found"}`))
		}},
		{"missing result", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"time":{}}`))
		}},
		{"null result", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result":null}`))
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeCRM(t)
			f.on("crm.activity.get", tt.handler)
			c := newTestClient(srv)

			rec, ok := c.FetchEntity(context.Background(), KindActivity, 500)
			assert.False(t, ok)
			assert.Nil(t, rec)
		})
	}
}

func TestFetchEntity_TransportErrorIsAbsent(t *testing.T) {
	_, srv := newFakeCRM(t)
	c := newTestClient(srv)
	srv.Close()

	_, ok := c.FetchEntity(context.Background(), KindDeal, 1)
	assert.False(t, ok)
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	f, srv := newFakeCRM(t)
	var hits int32
	f.on("crm.deal.get", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := NewClient(config.CRMConfig{WebhookURL: srv.URL + hookPath, FailureThreshold: 2}, nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, ok := c.FetchEntity(context.Background(), KindDeal, 1)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRejectedCallsDoNotOpenBreaker(t *testing.T) {
	f, srv := newFakeCRM(t)
	var hits int32
	f.on("crm.deal.get", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND","error_description":"Not found"}`))
	})
	c := NewClient(config.CRMConfig{WebhookURL: srv.URL + hookPath, FailureThreshold: 2}, nil, zap.NewNop())

	for i := 0; i < 4; i++ {
		c.FetchEntity(context.Background(), KindDeal, 1)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestFetchUser(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("user.get", result([]map[string]any{{"ID": "12", "NAME": "Ana", "LAST_NAME": "Souza", "EMAIL": "ana@example.com"}}))
	c := newTestClient(srv)

	u, ok := c.FetchUser(context.Background(), "12")
	require.True(t, ok)
	assert.Equal(t, "Ana Souza", u.FullName())
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, "ID=12", f.callsTo("user.get")[0].query)
}

func TestFetchUser_EmptyListIsAbsent(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("user.get", result([]any{}))
	c := newTestClient(srv)

	_, ok := c.FetchUser(context.Background(), "12")
	assert.False(t, ok)

	_, ok = c.FetchUser(context.Background(), "")
	assert.False(t, ok)
	assert.Len(t, f.callsTo("user.get"), 1)
}

func TestDownloadAttachment_ByFileID(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("disk.file.get", result(map[string]any{"ID": "101", "NAME": "laudo.pdf", "DOWNLOAD_URL": srv.URL + "/download/101"}))
	f.onPath("/download/101", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	c := newTestClient(srv)

	dl, ok := c.DownloadAttachment(context.Background(), model.RemoteFileRef{ID: 101})
	require.True(t, ok)
	assert.Equal(t, "laudo.pdf", dl.Filename)
	assert.Equal(t, "application/pdf", dl.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), dl.Data)
}

func TestDownloadAttachment_RelativeURL(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("disk.file.get", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"ERROR_NOT_FOUND","error_description":"Could not find entity"}`))
	})
	f.onPath("/bitrix/tools/show_file.php", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="foto.png"`)
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	c := newTestClient(srv)

	dl, ok := c.DownloadAttachment(context.Background(), model.RemoteFileRef{ID: 7, URL: "/bitrix/tools/show_file.php?fileId=7"})
	require.True(t, ok)
	assert.Equal(t, "foto.png", dl.Filename)
	assert.Len(t, dl.Data, 4)
}

func TestDownloadAttachment_FailureIsAbsent(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.onPath("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(srv)

	_, ok := c.DownloadAttachment(context.Background(), model.RemoteFileRef{URL: srv.URL + "/missing"})
	assert.False(t, ok)

	_, ok = c.DownloadAttachment(context.Background(), model.RemoteFileRef{})
	assert.False(t, ok)
}

// 附件地址失效或下载服务故障都不能让实体读取被熔断
func TestDownloadFailuresDoNotBlockEntityReads(t *testing.T) {
	f, srv := newFakeCRM(t)
	var missing, broken int32
	f.onPath("/missing", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&missing, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	f.onPath("/broken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&broken, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	f.on("crm.deal.get", result(map[string]any{"ID": "8029", "TITLE": "T1"}))
	c := NewClient(config.CRMConfig{WebhookURL: srv.URL + hookPath, FailureThreshold: 2}, nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, ok := c.DownloadAttachment(context.Background(), model.RemoteFileRef{URL: srv.URL + "/missing"})
		assert.False(t, ok)
	}
	// 4xx 不计入熔断，每次都真正请求
	assert.Equal(t, int32(5), atomic.LoadInt32(&missing))

	for i := 0; i < 5; i++ {
		_, ok := c.DownloadAttachment(context.Background(), model.RemoteFileRef{URL: srv.URL + "/broken"})
		assert.False(t, ok)
	}
	// 5xx 打开下载熔断器
	assert.Equal(t, int32(2), atomic.LoadInt32(&broken))

	rec, ok := c.FetchEntity(context.Background(), KindDeal, 8029)
	require.True(t, ok)
	title, _ := rec.String("TITLE")
	assert.Equal(t, "T1", title)
}

func TestCreateDeal(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.contact.list", result([]any{}))
	f.on("crm.contact.add", result(77))
	f.on("crm.deal.add", result("9001"))
	f.on("crm.timeline.comment.add", result(1))
	c := newTestClient(srv)

	id, err := c.CreateDeal(context.Background(), TicketInput{
		Title:              "Impressora parada",
		Description:        "Não imprime",
		FullName:           "Ana Maria Souza",
		Email:              "ana@example.com",
		Priority:           "Alto",
		SystemType:         "sacflow",
		ServiceCategory:    "Interno",
		AssigneeDepartment: "TI",
		Branch:             "Matriz (MTZ)",
		Attachments:        []Attachment{{Name: "a.txt", Data: []byte("hi")}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9001), id)

	contact := f.callsTo("crm.contact.add")
	require.Len(t, contact, 1)
	cf := contact[0].body["fields"].(map[string]any)
	assert.Equal(t, "Ana", cf["NAME"])
	assert.Equal(t, "Maria Souza", cf["LAST_NAME"])
	assert.Equal(t, "2", cf["COMPANY_ID"])

	deal := f.callsTo("crm.deal.add")
	require.Len(t, deal, 1)
	fields := deal[0].body["fields"].(map[string]any)
	assert.Equal(t, "C25:NEW", fields["STAGE_ID"])
	assert.Equal(t, float64(25), fields["CATEGORY_ID"])
	assert.Equal(t, "77", fields["CONTACT_ID"])
	assert.Equal(t, "6185", fields["ASSIGNED_BY_ID"])
	assert.Equal(t, "1559", fields["UF_CRM_1763744705"])
	assert.Equal(t, "771", fields["UF_CRM_67C9AA4AEA56A"])
	assert.Equal(t, "1385", fields["UF_CRM_1763129004"])
	assert.Equal(t, "1417", fields["UF_CRM_665F6893CECAE"])
	assert.NotContains(t, fields, "UF_CRM_617728A6C16A5", "empty phone is dropped")
	assert.True(t, strings.HasPrefix(fields["COMMENTS"].(string), "Não imprime\n\n# Detalhes Adicionais"))

	comment := f.callsTo("crm.timeline.comment.add")
	require.Len(t, comment, 1)
	files := comment[0].body["fields"].(map[string]any)["FILES"].([]any)
	require.Len(t, files, 1)
	pair := files[0].([]any)
	assert.Equal(t, "a.txt", pair[0])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hi")), pair[1])
}

func TestCreateDeal_RemoteFailure(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.contact.list", result([]map[string]any{{"ID": "5"}}))
	f.on("crm.deal.add", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"ACCESS_DENIED","error_description":"denied"}`))
	})
	c := newTestClient(srv)

	_, err := c.CreateDeal(context.Background(), TicketInput{Title: "x", Email: "a@b.c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Empty(t, f.callsTo("crm.contact.add"))
}

func TestCloseDeal(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.deal.update", result(true))
	c := newTestClient(srv)

	require.NoError(t, c.CloseDeal(context.Background(), 9001, 5, ""))

	calls := f.callsTo("crm.deal.update")
	require.Len(t, calls, 1)
	assert.Equal(t, float64(9001), calls[0].body["id"])
	fields := calls[0].body["fields"].(map[string]any)
	assert.Equal(t, "C25:WON", fields["STAGE_ID"])
	assert.Equal(t, float64(5), fields["UF_CRM_CSAT_RATING"])
	assert.Equal(t, closeComment, fields["COMMENTS"])
}

func TestUpdateDeal_FalseResultIsError(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.deal.update", result(false))
	c := newTestClient(srv)

	err := c.UpdateDeal(context.Background(), 1, map[string]any{"TITLE": "x"})
	assert.ErrorIs(t, err, ErrRemote)
}

func TestSendEmail(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.activity.add", result(321))
	c := newTestClient(srv)

	id, err := c.SendEmail(context.Background(), EmailInput{
		DealID:      9001,
		Subject:     "Re: chamado",
		Message:     "<p>ok</p>",
		To:          "cliente@example.com",
		Attachments: []Attachment{{Name: "r.pdf", Data: []byte("pdf")}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(321), id)

	fields := f.callsTo("crm.activity.add")[0].body["fields"].(map[string]any)
	assert.Equal(t, float64(2), fields["DIRECTION"])
	assert.Equal(t, "CRM_EMAIL", fields["PROVIDER_ID"])
	assert.Equal(t, "helpdesk@example.com", fields["SETTINGS"].(map[string]any)["MESSAGE_FROM"])
	comm := fields["COMMUNICATIONS"].([]any)[0].(map[string]any)
	assert.Equal(t, "cliente@example.com", comm["VALUE"])
	file := fields["FILES"].([]any)[0].(map[string]any)["fileData"].([]any)
	assert.Equal(t, "r.pdf", file[0])
}

func TestSearchOrCreateContact_Existing(t *testing.T) {
	f, srv := newFakeCRM(t)
	f.on("crm.contact.list", result([]map[string]any{{"ID": "42"}, {"ID": "43"}}))
	c := newTestClient(srv)

	id, err := c.SearchOrCreateContact(context.Background(), "Ana", "ana@example.com", "Cliente PF", "")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	filter := f.callsTo("crm.contact.list")[0].body["filter"].(map[string]any)
	assert.Equal(t, "ana@example.com", filter["EMAIL"])
	assert.Empty(t, f.callsTo("crm.contact.add"))
}
