package pipeline

import (
	"context"
	"sentorial-chat/internal/model"
	"sentorial-chat/internal/repository"
	"strings"
	"time"
)

// Recorder 记录无法回答的问题，按规范化文本去重计数。
type Recorder struct {
	store       repository.UnknownQuestionRepository
	submitterID string
	now         func() time.Time
}

// NewRecorder 创建一个未知问题记录器。
func NewRecorder(store repository.UnknownQuestionRepository, submitterID string) *Recorder {
	if submitterID == "" {
		submitterID = "anonymous"
	}
	return &Recorder{store: store, submitterID: submitterID, now: time.Now}
}

// Record 创建记录或将计数加一，首次出现的时间戳保持不变。空问题被忽略。
func (r *Recorder) Record(ctx context.Context, question string) error {
	normalized := model.NormalizeQuestion(question)
	if normalized == "" {
		return nil
	}
	_, err := r.store.IncrementOrCreate(ctx, normalized, strings.TrimSpace(question), r.submitterID, r.now())
	return err
}
