package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentorial-chat/internal/model"
	"sentorial-chat/internal/pipeline"
	"sentorial-chat/internal/repository"
	"sentorial-chat/pkg/storage"
	"sentorial-chat/pkg/tasks"
)

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (m *memObjectStore) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
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
			out = append(out, storage.ObjectInfo{Name: name, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memObjectStore) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://minio.local/" + name + "?sig=x", nil
}

type memQueue struct {
	tasks []tasks.ResponseImportTask
	err   error
}

func (q *memQueue) Enqueue(_ context.Context, task tasks.ResponseImportTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type adminFixture struct {
	svc       AdminService
	responses repository.ResponseRepository
	unknown   repository.UnknownQuestionRepository
	quick     repository.QuickMessageRepository
	objects   *memObjectStore
	queue     *memQueue
}

func newAdminFixture(t *testing.T) adminFixture {
	t.Helper()
	rdb := newTestRedis(t)
	f := adminFixture{
		responses: repository.NewResponseRepository(newTestDB(t)),
		unknown:   repository.NewUnknownQuestionRepository(rdb),
		quick:     repository.NewQuickMessageRepository(rdb),
		objects:   &memObjectStore{},
		queue:     &memQueue{},
	}
	svc := NewAdminService(f.responses, f.unknown, f.quick, f.objects, f.queue)
	svc.(*adminService).now = func() time.Time { return time.Date(2025, 1, 31, 23, 30, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

func TestAdminService_TeachRemovesUnknown(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	_, err := f.unknown.IncrementOrCreate(ctx, "what is go", "What is Go", "anonymous", time.Now())
	require.NoError(t, err)

	require.NoError(t, f.svc.Teach(ctx, "What is Go ", "A programming language."))

	got, err := f.responses.FindByQuestion(ctx, "what is go")
	require.NoError(t, err)
	assert.Equal(t, "A programming language.", got.Answer)

	q, err := f.unknown.Get(ctx, "what is go")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestAdminService_SetResponseValidation(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.SetResponse(ctx, "hello", "  "), ErrEmptyAnswer)
	assert.ErrorIs(t, f.svc.SetResponse(ctx, "  ", "answer"), repository.ErrEmptyQuestion)
}

func TestAdminService_UpdateResponseRename(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetResponse(ctx, "helo", "typo"))

	require.NoError(t, f.svc.UpdateResponse(ctx, "helo", "Hello", "fixed"))
	list, err := f.svc.ListResponses(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list.Content, 1)
	assert.Equal(t, "hello", list.Content[0].Question)
	assert.Equal(t, "fixed", list.Content[0].Answer)

	// 只改答案时键保持不变
	require.NoError(t, f.svc.UpdateResponse(ctx, "hello", "HELLO", "again"))
	list, err = f.svc.ListResponses(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list.Content, 1)
	assert.Equal(t, "again", list.Content[0].Answer)
}

func TestAdminService_ListResponsesPaging(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	_, err := f.responses.SeedDefaults(ctx, model.DefaultResponses)
	require.NoError(t, err)

	page, err := f.svc.ListResponses(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(9), page.TotalElements)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Content, 4)
	assert.Equal(t, "help", page.Content[0].Question)

	page, err = f.svc.ListResponses(ctx, 5, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Content)
}

func TestAdminService_Exports(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetResponse(ctx, "bye", "Goodbye!"))
	for i := 0; i < 2; i++ {
		_, err := f.unknown.IncrementOrCreate(ctx, "why", "Why", "", time.UnixMilli(42))
		require.NoError(t, err)
	}

	file, err := f.svc.ExportResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bot-responses-2025-01-31.json", file.FileName)
	assert.Equal(t, "{\n  \"bye\": \"Goodbye!\"\n}", string(file.Content))

	file, err = f.svc.ExportUnknownQuestions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unknown-questions-2025-01-31.json", file.FileName)
	var rows []model.UnknownQuestionExport
	require.NoError(t, json.Unmarshal(file.Content, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, model.UnknownQuestionExport{Text: "Why", Question: "Why", Timestamp: 42, Count: 2, UserID: "anonymous"}, rows[0])
}

func TestAdminService_RenameToOverlongQuestionKeepsOriginal(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetResponse(ctx, "weather", "sunny"))

	long := strings.Repeat("w", model.MaxQuestionLength+1)
	err := f.svc.UpdateResponse(ctx, "weather", long, "rainy")
	assert.ErrorIs(t, err, repository.ErrQuestionTooLong)

	got, err := f.responses.FindByQuestion(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, "sunny", got.Answer)
}

func TestAdminService_ExportKeepsInsertionOrder(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetResponse(ctx, "zebra facts", "Zebras have stripes."))
	require.NoError(t, f.svc.SetResponse(ctx, "apple", "Apples are red."))

	file, err := f.svc.ExportResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"zebra facts\": \"Zebras have stripes.\",\n  \"apple\": \"Apples are red.\"\n}", string(file.Content))

	parsed, err := pipeline.ParseResponseImport(file.Content)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "zebra facts", parsed[0].Question)
	assert.Equal(t, "apple", parsed[1].Question)

	// 导入到空库后，关键词并列时仍由先写入的条目胜出
	restored := repository.NewResponseRepository(newTestDB(t))
	_, err = restored.BulkUpsert(ctx, parsed)
	require.NoError(t, err)
	table, err := restored.FindAll(ctx)
	require.NoError(t, err)
	answer, ok := pipeline.Match("zebra facts about apple", table)
	require.True(t, ok)
	assert.Equal(t, "Zebras have stripes.", answer)
}

func TestAdminService_ExportEmptyTable(t *testing.T) {
	f := newAdminFixture(t)
	file, err := f.svc.ExportResponses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "{}", string(file.Content))
}

func TestAdminService_ImportResponses(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	data := []byte(`{"Weather": "sunny"}`)

	task, err := f.svc.ImportResponses(ctx, "mine.json", data, "admin")
	require.NoError(t, err)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, *task, f.queue.tasks[0])
	assert.Equal(t, "mine.json", task.FileName)
	assert.True(t, strings.HasPrefix(task.ObjectName, "imports/"))
	assert.Equal(t, data, f.objects.objects[task.ObjectName])

	// 队列消费方即 Processor，把对象交给它处理后写入应答表
	p := pipeline.NewProcessor(objectsReader{f.objects}, f.responses, nil)
	require.NoError(t, p.Process(ctx, *task))
	got, err := f.responses.FindByQuestion(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, "sunny", got.Answer)
}

func TestAdminService_ImportRejectsInvalidFile(t *testing.T) {
	f := newAdminFixture(t)
	_, err := f.svc.ImportResponses(context.Background(), "bad.json", []byte(`["a"]`), "admin")
	assert.ErrorIs(t, err, pipeline.ErrInvalidImport)
	assert.Empty(t, f.queue.tasks)
	assert.Empty(t, f.objects.objects)
}

func TestAdminService_ImportQueueFailure(t *testing.T) {
	f := newAdminFixture(t)
	f.queue.err = errors.New("broker down")
	_, err := f.svc.ImportResponses(context.Background(), "ok.json", []byte(`{}`), "admin")
	assert.Error(t, err)
}

func TestAdminService_BackupAndList(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetResponse(ctx, "hi", "Hi there!"))

	name, err := f.svc.BackupResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backups/bot-responses-20250131-233000.json", name)

	backups, err := f.svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "bot-responses-20250131-233000.json", backups[0].Name)
	assert.Contains(t, backups[0].URL, "sig=")
}

func TestAdminService_SetQuickMessages(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetQuickMessages(ctx, []string{" hello ", "", "help"}))
	got, err := f.quick.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "help"}, got)
}

type objectsReader struct{ m *memObjectStore }

func (o objectsReader) Get(_ context.Context, name string) (io.ReadCloser, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	data, ok := o.m.objects[name]
	if !ok {
		return nil, errors.New("missing")
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}
