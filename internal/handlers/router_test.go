package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/services"
	"github.com/mobiledetail/backend/internal/store"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "correct horse battery"
)

type stubNotifier struct {
	mu   sync.Mutex
	sent []services.Message
	err  error
}

func (n *stubNotifier) Send(_ context.Context, msg services.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type testServer struct {
	router   *gin.Engine
	store    store.MetadataStore
	notifier *stubNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		Env:                         "test",
		PublicBaseURL:               "https://detail.example.com",
		UploadsDir:                  dir,
		UploadsURLPrefix:            "/uploads",
		UploadMaxImageSize:          1 << 20,
		MetadataPath:                filepath.Join(dir, "metadata.json"),
		JWTSecret:                   "test-secret",
		JWTAccessTokenDuration:      time.Hour,
		AdminEmail:                  testAdminEmail,
		AdminPassword:               testAdminPassword,
		BcryptCost:                  4,
		LeadNotifyEmail:             "owner@example.com",
		AdminRateLimitActions:       30,
		AdminRateLimitWindowMinutes: 5,
		OrphanGracePeriod:           time.Hour,
	}
	log := zerolog.Nop()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	st, err := store.NewJSONStore(cfg.MetadataPath, log)
	require.NoError(t, err)
	files, err := services.NewStorageService(cfg)
	require.NoError(t, err)
	authService, err := services.NewAuthService(nil, cfg, log)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	leads := services.NewLeadService(db, notifier, cfg, log)
	orphans := services.NewOrphanService(st, files, cfg.OrphanGracePeriod, log)
	orphans.SkipPath(cfg.MetadataPath)

	router := NewRouter(RouterDeps{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Auth:     authService,
		Audit:    services.NewAuditService(db, log),
		Gallery:  services.NewGalleryService(st, files, nil, log),
		Storage:  files,
		Leads:    leads,
		QuotePDF: services.NewQuotePDFService(cfg, leads),
		Orphans:  orphans,
		Backups:  services.NewBackupService(db, st, nil, log),
	})
	return &testServer{router: router, store: st, notifier: notifier}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    testAdminEmail,
		"password": testAdminPassword,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func (s *testServer) upload(t *testing.T, token, title string) models.ImageRecord {
	t.Helper()
	req := multipartRequest(t, "/api/v1/admin/images", token,
		map[string]string{"section": "gallery", "category": "wheels", "title": title, "tags": "rims, polish"},
		map[string][]byte{"beforeImage": testPNG, "afterImage": testPNG})
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Message string             `json:"message"`
		Entry   models.ImageRecord `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "File(s) uploaded", resp.Message)
	return resp.Entry
}

func (s *testServer) list(t *testing.T, path string) []models.ImageRecord {
	t.Helper()
	w := s.do(httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var records []models.ImageRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	return records
}

func jsonRequest(t *testing.T, method, path, token string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func multipartRequest(t *testing.T, path, token string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func TestMutatingRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/admin/images"},
		{http.MethodPost, "/api/v1/admin/images/edit"},
		{http.MethodPut, "/api/v1/admin/images/01HZX"},
		{http.MethodPost, "/api/v1/admin/images/delete"},
		{http.MethodDelete, "/api/v1/admin/images/01HZX"},
		{http.MethodPost, "/api/upload"},
		{http.MethodPost, "/api/admin/edit"},
		{http.MethodPost, "/api/admin/delete"},
		{http.MethodGet, "/api/v1/admin/audit/logs"},
		{http.MethodPost, "/api/v1/admin/orphans/sweep"},
		{http.MethodPost, "/api/v1/admin/backups"},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			w := s.do(jsonRequest(t, r.method, r.path, "", map[string]int{"index": 0}))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Unauthorized", errorMessage(t, w))

			w = s.do(jsonRequest(t, r.method, r.path, "not-a-token", map[string]int{"index": 0}))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	records, err := s.store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoginAndSession(t *testing.T) {
	s := newTestServer(t)

	w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": testAdminEmail, "password": "wrong",
	}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil))
	assert.JSONEq(t, `{"is_admin":false}`, w.Body.String())

	token := s.login(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "admin_token", Value: token})
	w = s.do(req)
	assert.JSONEq(t, `{"is_admin":true}`, w.Body.String())

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/logout", token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "admin_token=;")
}

func TestGalleryUploadEditDelete(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	first := s.upload(t, token, "Rim polish")
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, []string{"rims", "polish"}, first.Tags)
	assert.True(t, strings.HasPrefix(first.BeforeImage, "/uploads/"))

	w := s.do(httptest.NewRequest(http.MethodGet, first.BeforeImage, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	second := s.upload(t, token, "Tire shine")
	records := s.list(t, "/api/v1/images")
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, records, s.list(t, "/uploads/metadata.json"))
	assert.Len(t, s.list(t, "/api/v1/images?category=wheels"), 2)
	assert.Empty(t, s.list(t, "/api/v1/images?category=interior"))

	t.Run("edit by index", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/admin/images/edit", token, map[string]interface{}{
			"index": 1,
			"title": "Rim polish, after",
			"tags":  []string{"rims"},
		}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"success":true}`, w.Body.String())

		records := s.list(t, "/api/v1/images")
		assert.Equal(t, "Rim polish, after", records[1].Title)
		assert.Equal(t, []string{"rims"}, records[1].Tags)
		assert.Equal(t, first.BeforeImage, records[1].BeforeImage)
	})

	t.Run("edit rejects bad references", func(t *testing.T) {
		cases := []struct {
			name   string
			body   map[string]interface{}
			status int
			msg    string
		}{
			{"missing index", map[string]interface{}{"title": "x"}, http.StatusBadRequest, "Invalid index"},
			{"non-integer index", map[string]interface{}{"index": "abc"}, http.StatusBadRequest, "Invalid index"},
			{"fractional index", map[string]interface{}{"index": 1.5}, http.StatusBadRequest, "Invalid index"},
			{"out of range", map[string]interface{}{"index": 7}, http.StatusBadRequest, "Invalid index"},
			{"unknown id", map[string]interface{}{"id": "01ARZ3NDEKTSV4RRFFQ69G5FAV"}, http.StatusNotFound, "Image not found"},
			{"stale index", map[string]interface{}{"id": first.ID, "index": 0}, http.StatusConflict, ""},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				before, err := s.store.LoadAll(context.Background())
				require.NoError(t, err)

				w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/admin/images/edit", token, tc.body))
				assert.Equal(t, tc.status, w.Code)
				if tc.msg != "" {
					assert.Equal(t, tc.msg, errorMessage(t, w))
				}

				after, err := s.store.LoadAll(context.Background())
				require.NoError(t, err)
				assert.Equal(t, before, after)
			})
		}
	})

	t.Run("edit by id with a new image", func(t *testing.T) {
		req := multipartRequest(t, "/api/v1/admin/images/edit", token,
			map[string]string{"id": second.ID, "description": "Glossy"},
			map[string][]byte{"afterImage": testPNG})
		w := s.do(req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		records := s.list(t, "/api/v1/images")
		assert.Equal(t, "Glossy", records[0].Description)
		assert.Equal(t, "Tire shine", records[0].Title)
		assert.NotEqual(t, second.AfterImage, records[0].AfterImage)
	})

	t.Run("delete by id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/images/"+first.ID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := s.do(req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"success":true}`, w.Body.String())

		w = s.do(httptest.NewRequest(http.MethodGet, first.BeforeImage, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		req = httptest.NewRequest(http.MethodDelete, "/api/v1/admin/images/"+first.ID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w = s.do(req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete by index", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/admin/images/delete", token, map[string]int{"index": 0}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Empty(t, s.list(t, "/api/v1/images"))
	})

	w = s.do(jsonRequest(t, http.MethodGet, "/api/v1/admin/audit/logs?action=image_upload", token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.EqualValues(t, 2, logs.Pagination.Total)
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	t.Run("no before image", func(t *testing.T) {
		w := s.do(multipartRequest(t, "/api/v1/admin/images", token,
			map[string]string{"title": "x"}, map[string][]byte{"afterImage": testPNG}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No before image uploaded", errorMessage(t, w))
	})

	t.Run("not an image", func(t *testing.T) {
		w := s.do(multipartRequest(t, "/api/v1/admin/images", token,
			nil, map[string][]byte{"beforeImage": []byte("plain text, not a picture")}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid category", func(t *testing.T) {
		w := s.do(multipartRequest(t, "/api/v1/admin/images", token,
			map[string]string{"category": "boats"}, map[string][]byte{"beforeImage": testPNG}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid category: boats", errorMessage(t, w))
	})

	t.Run("too large", func(t *testing.T) {
		big := append(append([]byte{}, testPNG...), make([]byte, 1<<20)...)
		w := s.do(multipartRequest(t, "/api/v1/admin/images", token, nil, map[string][]byte{"beforeImage": big}))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	records, err := s.store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLegacyRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)
	cookie := &http.Cookie{Name: "admin_token", Value: token}

	req := multipartRequest(t, "/api/upload", "", map[string]string{"title": "Legacy"}, map[string][]byte{"beforeImage": testPNG})
	req.AddCookie(cookie)
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	records := s.list(t, "/uploads/metadata.json")
	require.Len(t, records, 1)
	assert.Equal(t, models.SectionGallery, records[0].Section)
	assert.Equal(t, models.CategoryExterior, records[0].Category)

	req = multipartRequest(t, "/api/admin/edit", "", map[string]string{"index": "0", "tags": "a, b"}, nil)
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"a", "b"}, s.list(t, "/uploads/metadata.json")[0].Tags)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/delete", strings.NewReader("index=0"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, s.list(t, "/uploads/metadata.json"))

	// The same positional delete again now points past the end.
	req = httptest.NewRequest(http.MethodPost, "/api/admin/delete", strings.NewReader("index=0"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w = s.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid index", errorMessage(t, w))
	assert.Empty(t, s.list(t, "/uploads/metadata.json"))
}

func TestQuoteEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/quotes/catalog", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ceramic Coating")

	w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/quotes/calculate", "", map[string]interface{}{
		"vehicle_type": "suv", "service_package": "full", "addons": []string{"wax"},
	}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":349,"breakdown":["Full Interior & Exterior: $299","Premium Wax: $50"],"is_valid":true}`, w.Body.String())

	quote := map[string]interface{}{
		"name": "Jordan", "phone": "+12055551234", "email": "jordan@example.com",
		"vehicle_type": "suv", "service_package": "full", "addons": []string{"wax"},
	}

	t.Run("incomplete selection", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/quotes", "", map[string]string{"name": "Jordan"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, services.MsgIncompleteSelection, errorMessage(t, w))
	})

	t.Run("submitted and notified", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/quotes", "", quote))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.Len(t, s.notifier.sent, 1)
		assert.Equal(t, "owner@example.com", s.notifier.sent[0].To)
	})

	t.Run("notification failure", func(t *testing.T) {
		s.notifier.err = errors.New("smtp down")
		defer func() { s.notifier.err = nil }()

		w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/quotes", "", quote))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, msgNotifyFailed, errorMessage(t, w))
	})

	t.Run("booking", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/v1/bookings", "", map[string]string{
			"name": "Jordan", "phone": "+12055551234", "email": "jordan@example.com",
			"service": "Ceramic Coating", "date": "2026-11-02",
		}))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = s.do(jsonRequest(t, http.MethodPost, "/api/v1/bookings", "", map[string]string{
			"name": "J", "phone": "+12055551234", "email": "jordan@example.com", "service": "x",
		}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("pdf", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/quotes/pdf?vehicle_type=sedan&service_package=basic&addons=wax,engine", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

		w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/quotes/pdf?vehicle_type=sedan", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		w := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	}
}
