package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sentorial-chat/internal/model"
)

func questions(responses []model.TaughtResponse) []string {
	out := make([]string, len(responses))
	for i, r := range responses {
		out[i] = r.Question
	}
	return out
}

func TestResponseRepository_UpsertKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewResponseRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, "  Hello ", "first"))
	require.NoError(t, repo.Upsert(ctx, "help", "help text"))
	require.NoError(t, repo.Upsert(ctx, "HELLO", "second"))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "help"}, questions(all))
	assert.Equal(t, "second", all[0].Answer)
}

func TestResponseRepository_UpsertRejectsBlankQuestion(t *testing.T) {
	repo := NewResponseRepository(newTestDB(t))
	err := repo.Upsert(context.Background(), "   ", "x")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestResponseRepository_FindAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewResponseRepository(newTestDB(t))
	require.NoError(t, repo.Upsert(ctx, "bye", "Goodbye!"))

	got, err := repo.FindByQuestion(ctx, " BYE ")
	require.NoError(t, err)
	assert.Equal(t, "Goodbye!", got.Answer)

	require.NoError(t, repo.Delete(ctx, "Bye"))
	_, err = repo.FindByQuestion(ctx, "bye")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	// 删除不存在的键不报错
	assert.NoError(t, repo.Delete(ctx, "missing"))
}

func TestResponseRepository_BulkUpsertMerges(t *testing.T) {
	ctx := context.Background()
	repo := NewResponseRepository(newTestDB(t))
	require.NoError(t, repo.Upsert(ctx, "hello", "old"))

	n, err := repo.BulkUpsert(ctx, []model.TaughtResponse{
		{Question: "Hello", Answer: "new"},
		{Question: "  ", Answer: "skipped"},
		{Question: "weather", Answer: "sunny"},
		{Question: "WEATHER", Answer: "rainy"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "hello", all[0].Question)
	assert.Equal(t, "new", all[0].Answer)
	assert.Equal(t, "weather", all[1].Question)
	assert.Equal(t, "rainy", all[1].Answer)
}

func TestResponseRepository_SeedDefaultsOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewResponseRepository(newTestDB(t))

	seeded, err := repo.SeedDefaults(ctx, model.DefaultResponses)
	require.NoError(t, err)
	assert.True(t, seeded)
	for _, d := range model.DefaultResponses {
		assert.Zero(t, d.ID, "defaults must not be mutated")
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, questions(model.DefaultResponses), questions(all))

	seeded, err = repo.SeedDefaults(ctx, model.DefaultResponses)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestResponseRepository_SeedDefaultsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewResponseRepository(newTestDB(t))

	_, err := repo.SeedDefaults(ctx, []model.TaughtResponse{
		{Question: "hello", Answer: "a"},
		{Question: "HELLO", Answer: "b"},
	})
	require.Error(t, err)
	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	seeded, err := repo.SeedDefaults(ctx, model.DefaultResponses)
	require.NoError(t, err)
	assert.True(t, seeded)
}

func TestResponseRepository_QuestionLengthLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewResponseRepository(newTestDB(t))

	// 按字符而非字节计数
	longest := strings.Repeat("é", model.MaxQuestionLength)
	require.NoError(t, repo.Upsert(ctx, longest, "fits"))
	assert.ErrorIs(t, repo.Upsert(ctx, longest+"e", "too long"), ErrQuestionTooLong)

	n, err := repo.BulkUpsert(ctx, []model.TaughtResponse{
		{Question: strings.Repeat("x", model.MaxQuestionLength+1), Answer: "skipped"},
		{Question: "short", Answer: "kept"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{longest, "short"}, questions(all))
}
