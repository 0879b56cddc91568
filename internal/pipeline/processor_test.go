package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentorial-chat/internal/model"
	"sentorial-chat/pkg/tasks"
)

type memObjects map[string]string

func (m memObjects) Get(_ context.Context, name string) (io.ReadCloser, error) {
	body, ok := m[name]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type recordingWriter struct {
	got []model.TaughtResponse
	err error
}

func (w *recordingWriter) BulkUpsert(_ context.Context, responses []model.TaughtResponse) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.got = append(w.got, responses...)
	return len(responses), nil
}

func TestParseResponseImport(t *testing.T) {
	got, err := ParseResponseImport([]byte(`{"Zebra": "stripes", "count": 3, "apple": "red", "nested": {"a": "b"}, "nil": null}`))
	require.NoError(t, err)
	assert.Equal(t, []model.TaughtResponse{
		{Question: "Zebra", Answer: "stripes"},
		{Question: "apple", Answer: "red"},
	}, got)
}

func TestParseResponseImport_Invalid(t *testing.T) {
	for _, body := range []string{
		`["hello", "hi"]`,
		`"just a string"`,
		`{"open": "object"`,
		`{"a": "b"} {"c": "d"}`,
		``,
	} {
		_, err := ParseResponseImport([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidImport, body)
	}
}

func TestProcessor_Process(t *testing.T) {
	objects := memObjects{
		"imports/ok.json":  `{"hello": "Hey!", "weather": "sunny"}`,
		"imports/bad.json": `[1, 2, 3]`,
	}

	t.Run("merges", func(t *testing.T) {
		w := &recordingWriter{}
		p := NewProcessor(objects, w, nil)
		require.NoError(t, p.Process(context.Background(), tasks.ResponseImportTask{ImportID: "1", ObjectName: "imports/ok.json"}))
		assert.Len(t, w.got, 2)
	})

	t.Run("invalid file is dropped", func(t *testing.T) {
		w := &recordingWriter{}
		p := NewProcessor(objects, w, nil)
		require.NoError(t, p.Process(context.Background(), tasks.ResponseImportTask{ImportID: "2", ObjectName: "imports/bad.json"}))
		assert.Empty(t, w.got)
	})

	t.Run("missing object is retried", func(t *testing.T) {
		p := NewProcessor(objects, &recordingWriter{}, nil)
		assert.Error(t, p.Process(context.Background(), tasks.ResponseImportTask{ImportID: "3", ObjectName: "imports/none.json"}))
	})

	t.Run("store failure is retried", func(t *testing.T) {
		p := NewProcessor(objects, &recordingWriter{err: errors.New("db down")}, nil)
		assert.Error(t, p.Process(context.Background(), tasks.ResponseImportTask{ImportID: "4", ObjectName: "imports/ok.json"}))
	})
}
