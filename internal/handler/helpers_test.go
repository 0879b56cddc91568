package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sentorial-chat/internal/history"
	"sentorial-chat/internal/middleware"
	"sentorial-chat/internal/model"
	"sentorial-chat/internal/pipeline"
	"sentorial-chat/internal/repository"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/hash"
	"sentorial-chat/pkg/storage"
	"sentorial-chat/pkg/tasks"
	"sentorial-chat/pkg/token"
)

const testPassphrase = "open sesame"

type fixedRand struct{ f float64 }

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) Intn(int) int     { return 0 }

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjectStore) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[name] = data
	return nil
}

func (m *memObjectStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for name, data := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, storage.ObjectInfo{Name: name, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	return out, nil
}

func (m *memObjectStore) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://minio.local/" + name, nil
}

type memQueue struct {
	mu    sync.Mutex
	tasks []tasks.ResponseImportTask
}

func (q *memQueue) Enqueue(_ context.Context, task tasks.ResponseImportTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

type testServer struct {
	router  *gin.Engine
	chat    service.ChatService
	objects *memObjectStore
	queue   *memQueue
	unknown repository.UnknownQuestionRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.TaughtResponse{}, &model.ChatMessage{}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	responses := repository.NewResponseRepository(db)
	_, err = responses.SeedDefaults(context.Background(), model.DefaultResponses)
	require.NoError(t, err)
	unknown := repository.NewUnknownQuestionRepository(rdb)
	quick := repository.NewQuickMessageRepository(rdb)

	recorder := pipeline.NewRecorder(unknown, "anonymous")
	factory := func(string) *pipeline.Resolver {
		return pipeline.NewResolver(responses, nil, recorder, history.NewBuffer(10), fixedRand{f: 0.99}, 0.7, nil)
	}
	chat := service.NewChatService(repository.NewMessageRepository(db, rdb), quick, factory, 0, nil)

	ts := &testServer{chat: chat, objects: &memObjectStore{}, queue: &memQueue{}, unknown: unknown}
	admin := service.NewAdminService(responses, unknown, quick, ts.objects, ts.queue)

	passHash, err := hash.HashPassword(testPassphrase)
	require.NoError(t, err)
	auth := service.NewAuthService(passHash, token.NewJWTManager("test-secret", 1), rdb)

	r := gin.New()
	api := r.Group("/api/v1")
	messages := NewMessageHandler(chat)
	api.POST("/chat/device", messages.RegisterDevice)
	api.GET("/chat/:deviceId/messages", messages.ListMessages)
	api.POST("/chat/:deviceId/messages", messages.SendMessage)
	api.DELETE("/chat/:deviceId/messages", messages.ClearMessages)
	api.GET("/quick-messages", messages.QuickMessages)
	api.POST("/teach", NewTeachHandler(admin).Teach)

	authHandler := NewAuthHandler(auth)
	api.POST("/admin/login", authHandler.Login)
	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.AuthMiddleware(auth), middleware.AdminAuthMiddleware())
	{
		h := NewAdminHandler(admin)
		adminGroup.POST("/logout", authHandler.Logout)
		adminGroup.GET("/responses", h.ListResponses)
		adminGroup.PUT("/responses", h.SetResponse)
		adminGroup.DELETE("/responses", h.DeleteResponse)
		adminGroup.GET("/responses/export", h.ExportResponses)
		adminGroup.POST("/responses/import", h.ImportResponses)
		adminGroup.POST("/responses/backup", h.BackupResponses)
		adminGroup.GET("/responses/backups", h.ListBackups)
		adminGroup.GET("/unknown-questions", h.ListUnknownQuestions)
		adminGroup.DELETE("/unknown-questions", h.DeleteUnknownQuestion)
		adminGroup.GET("/unknown-questions/export", h.ExportUnknownQuestions)
		adminGroup.PUT("/quick-messages", h.SetQuickMessages)
	}
	r.GET("/chat/:deviceId", NewChatHandler(chat, nil).Handle)

	ts.router = r
	return ts
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Disposition") == "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	w, env := ts.do(t, http.MethodPost, "/api/v1/admin/login", "", gin.H{"passphrase": testPassphrase})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}
