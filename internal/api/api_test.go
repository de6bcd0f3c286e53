package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"neoexcelsync/internal/auth"
	"neoexcelsync/internal/cache"
	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/journal"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/internal/settings"
	"neoexcelsync/internal/splits"
	"neoexcelsync/internal/store"
	"neoexcelsync/pkg/errors"
)

const (
	unityCSV = "Execution ID,Account,Instrument,Сумма тг,Рынок ЦБ\n" +
		"1001,KZ-100,[EQ]UNH,8 000 000,EQUITY\n" +
		"1002,KZ-200,[EQ]AAPL,1000,EQUITY\n"

	aisCSV = "ID сделки на бирже,Субсчет в учетной организации,Сумма тг,Рынок ЦБ\n" +
		"1001,S-100,7000000,EQUITY\n" +
		"1009,S-777,9000,EQUITY\n"

	dealsCSV = "Ценная бумага,Сумма в валюте\n" +
		"KZTO,100\n" +
		"KZTO,100.00\n" +
		"AAPL,5\n"
)

type fakeUsers struct {
	users map[string]*store.User
}

func (f *fakeUsers) UserByUsername(_ context.Context, username string) (*store.User, error) {
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, errors.New(errors.CategoryStorage, errors.CodeNotFound, "user not found")
}

type fakeClients struct {
	mu      sync.Mutex
	clients map[int64]store.Client
	nextID  int64
}

func newFakeClients() *fakeClients {
	return &fakeClients{clients: make(map[int64]store.Client)}
}

func (f *fakeClients) notFound(id int64) error {
	return errors.New(errors.CategoryStorage, errors.CodeNotFound, "client not found").
		WithContext("client_id", id)
}

func (f *fakeClients) SearchClients(_ context.Context, search string) ([]store.ClientListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.ClientListItem
	for _, c := range f.clients {
		if search == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(search)) {
			items = append(items, store.ClientListItem{ID: c.ID, Name: c.Name, Status: c.Status})
		}
	}
	return items, nil
}

func (f *fakeClients) GetClient(_ context.Context, id int64) (*store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return nil, f.notFound(id)
	}
	return &c, nil
}

func (f *fakeClients) CreateClient(_ context.Context, c store.Client) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(c.Name) == "" {
		return 0, errors.ValidationError(errors.CodeMissingField, "name", "", nil)
	}
	f.nextID++
	c.ID = f.nextID
	c.Status = store.StatusGray
	f.clients[c.ID] = c
	return c.ID, nil
}

func (f *fakeClients) UpdateClient(_ context.Context, c store.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.clients[c.ID]
	if !ok {
		return f.notFound(c.ID)
	}
	c.Status = old.Status
	f.clients[c.ID] = c
	return nil
}

func (f *fakeClients) SetClientStatus(_ context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return f.notFound(id)
	}
	c.Status = status
	f.clients[id] = c
	return nil
}

func (f *fakeClients) DeleteClient(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[id]; !ok {
		return f.notFound(id)
	}
	delete(f.clients, id)
	return nil
}

type fakeJournal struct {
	mu   sync.Mutex
	runs []journal.Run
}

func (f *fakeJournal) Record(_ context.Context, r journal.Run) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = fmt.Sprintf("run-%03d", len(f.runs)+1)
	f.runs = append([]journal.Run{r}, f.runs...)
	return r.ID, nil
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type testEnv struct {
	server  *Server
	auth    *auth.Service
	clients *fakeClients
	journal *fakeJournal
	token   string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	loader, err := parsers.NewLoader(nil)
	require.NoError(t, err)
	svc, err := reconciler.NewReconciliationService(loader, nil)
	require.NoError(t, err)
	exp, err := exporter.NewExporter(nil)
	require.NoError(t, err)
	results, err := cache.New(nil)
	require.NoError(t, err)
	authSvc, err := auth.NewService(&auth.Config{
		JWTSecret:   "test-secret",
		TokenExpiry: time.Hour,
		BcryptCost:  bcrypt.MinCost,
	})
	require.NoError(t, err)
	hash, err := authSvc.HashPassword("s3cret")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{auth: authSvc, clients: newFakeClients(), journal: &fakeJournal{}}
	env.server, err = NewServer(cfg, Deps{
		Service:  svc,
		Splits:   splits.NewDetector(loader),
		Settings: settings.NewStore(filepath.Join(dir, "settings.yaml")),
		Exporter: exp,
		Results:  results,
		Auth:     authSvc,
		Clients:  env.clients,
		Users: &fakeUsers{users: map[string]*store.User{
			"analyst": {ID: 1, Username: "analyst", PasswordHash: hash},
		}},
		Journal: env.journal,
	})
	require.NoError(t, err)

	env.token, err = authSvc.GenerateToken("analyst")
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	if req.Header.Get("Authorization") == "" && e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target string, files map[string]string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestNewServer_RequiresCoreServices(t *testing.T) {
	_, err := NewServer(nil, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMissingConfig))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	login := func(user, password string) *httptest.ResponseRecorder {
		form := url.Values{"username": {user}, "password": {password}}
		req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid credentials", func(t *testing.T) {
		rec := login("analyst", "s3cret")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "bearer", body["token_type"])

		user, err := env.auth.ValidateToken(body["access_token"].(string))
		require.NoError(t, err)
		assert.Equal(t, "analyst", user)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := login("analyst", "nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := login("ghost", "s3cret")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "incorrect username or password", decode(t, rec)["detail"])
	})
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/compare", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCORS_AllowedOrigins(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.AllowedOrigins = []string{"https://sverka.example.kz/"}
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/compare", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://sverka.example.kz")
	assert.Equal(t, "https://sverka.example.kz", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestConfig_NoAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = nil
	assert.True(t, errors.IsCode(cfg.Validate(), errors.CodeMissingConfig))
}

func TestIPLimiter_IdleBucketsExpire(t *testing.T) {
	l := newIPLimiter(0.001, 1, 20*time.Millisecond)

	require.True(t, l.get("10.0.0.1").Allow())
	require.False(t, l.get("10.0.0.1").Allow())
	l.get("10.0.0.2")
	assert.Equal(t, 2, l.size())

	require.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 10*time.Millisecond)
	assert.True(t, l.get("10.0.0.1").Allow(), "an expired bucket starts full again")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = env.do(httptest.NewRequest(http.MethodGet, "/", nil)).Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSettings_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7000000", decode(t, rec)["podft_threshold"])

	body := `{"podft_threshold": "8000000", "overlap_accounts": ["777"]}`
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	saved := decode(t, rec)
	assert.Equal(t, "8000000", saved["podft_threshold"])
	assert.Equal(t, []interface{}{"777"}, saved["overlap_accounts"])
}

func TestCompare_AndLastResult(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/last-result", nil))
	assert.Equal(t, "empty", decode(t, rec)["status"])

	req := multipartRequest(t, "/api/compare", map[string]string{"file1": unityCSV, "file2": aisCSV}, nil)
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["token"])
	for _, key := range []string{"matches", "unmatched1", "unmatched2", "summary1", "summary2",
		"podft_7m_deals", "podft_45m_bo_deals", "crypto_deals", "duplicates1", "duplicates2", "found_overlaps"} {
		assert.Contains(t, body, key)
	}
	assert.Len(t, body["matches"], 1)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/last-result", nil))
	assert.Equal(t, "success", decode(t, rec)["status"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/tools/reconcile/download/"+body["token"].(string), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), exporter.BundleFilename)

	require.Len(t, env.journal.runs, 1)
	assert.Equal(t, journal.ModeCompare, env.journal.runs[0].Mode)
	assert.Equal(t, "analyst", env.journal.runs[0].User)
	assert.Equal(t, 1, env.journal.runs[0].Counts["matches"])
}

func TestCompare_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(multipartRequest(t, "/api/compare", map[string]string{"file1": unityCSV}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.CodeMissingField), decode(t, rec)["code"])
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/export", strings.NewReader(`{"status":"success"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "PK", string(rec.Body.Bytes()[:2]))

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/export", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDuplicatesSingle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(multipartRequest(t, "/api/tools/reconcile/duplicates-single",
		map[string]string{"file1": dealsCSV}, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["found"])
	assert.Equal(t, []interface{}{"PaperKey", "Amount", "count"}, body["columns"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/tools/reconcile/download/"+body["token"].(string), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), exporter.DuplicatesFilename)
}

func TestDuplicatesSingle_InvalidOptions(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		fields map[string]string
		code   errors.ErrorCode
	}{
		{"min repeats below two", map[string]string{"min_repeats": "1"}, errors.CodeOutOfRange},
		{"round to too large", map[string]string{"round_to": "9"}, errors.CodeOutOfRange},
		{"not a number", map[string]string{"min_repeats": "two"}, errors.CodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(multipartRequest(t, "/api/tools/reconcile/duplicates-single",
				map[string]string{"file1": dealsCSV}, tt.fields))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tt.code), decode(t, rec)["code"])
		})
	}
	assert.Empty(t, env.journal.runs)
}

func TestDownload_UnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/tools/reconcile/download/deadbeef", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(errors.CodeCacheMiss), decode(t, rec)["code"])
}

func TestCheckSplits_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(multipartRequest(t, "/api/check-splits", map[string]string{"daily_file": dealsCSV}, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Сплиты не обнаружены", body["message"])
	assert.Equal(t, []interface{}{}, body["data"])
}

func TestCheckSplits_MissingList(t *testing.T) {
	env := newTestEnv(t, nil)

	fields := map[string]string{"settings_json": `{"split_check_enabled": true, "split_list_path": "/no/such/list.xlsx"}`}
	rec := env.do(multipartRequest(t, "/api/check-splits", map[string]string{"daily_file": dealsCSV}, fields))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestClients_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	form := url.Values{"name": {"Acme"}, "email": {"ops@acme.kz"}, "account": {"KZ-100"}}
	req := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["id"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/clients?search=acm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var items []store.ClientListItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, store.StatusGray, items[0].Status)

	rec = env.do(httptest.NewRequest(http.MethodPut, "/api/clients/1/status", strings.NewReader(`{"status":"green"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/clients/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var client store.Client
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &client))
	assert.Equal(t, "green", client.Status)
	assert.Equal(t, "KZ-100", client.AccountNumber)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/clients/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/clients/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, decode(t, rec), "context")
}

func TestClients_EmptySearch(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/clients", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestClients_Unavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.deps.Clients = nil
	env.server.deps.Journal = nil

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/clients", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecentRuns(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(multipartRequest(t, "/api/tools/reconcile/duplicates-single", map[string]string{"file1": dealsCSV}, nil))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, journal.ModeDuplicates, runs[0]["mode"])
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(0)
	assert.Equal(t, 1, pool.Size())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Do(ctx, func() error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeProcessingError))

	close(release)
	assert.Eventually(t, func() bool {
		return pool.Do(context.Background(), func() error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)
}
