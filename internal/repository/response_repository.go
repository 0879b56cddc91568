// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"sentorial-chat/internal/model"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmptyQuestion 表示规范化后的问题为空，不能作为应答表的键。
var ErrEmptyQuestion = errors.New("规范化后的问题为空")

// ErrQuestionTooLong 表示问题超出 model.MaxQuestionLength 个字符。
var ErrQuestionTooLong = fmt.Errorf("问题长度不能超过 %d 个字符", model.MaxQuestionLength)

// NormalizeKey 规范化问题并校验其可以作为应答表的键。
func NormalizeKey(question string) (string, error) {
	normalized := model.NormalizeQuestion(question)
	if normalized == "" {
		return "", ErrEmptyQuestion
	}
	if utf8.RuneCountInString(normalized) > model.MaxQuestionLength {
		return "", ErrQuestionTooLong
	}
	return normalized, nil
}

// ResponseRepository 定义了应答表（规范化问题 -> 答案）的持久化操作。
type ResponseRepository interface {
	// FindAll 按插入顺序返回全部应答。
	FindAll(ctx context.Context) ([]model.TaughtResponse, error)
	FindByQuestion(ctx context.Context, question string) (*model.TaughtResponse, error)
	// Upsert 写入或覆盖一条应答（后写者胜），已存在的键保持原插入位置。
	Upsert(ctx context.Context, question, answer string) error
	Delete(ctx context.Context, question string) error
	// BulkUpsert 批量合并应答，返回写入条数。
	BulkUpsert(ctx context.Context, responses []model.TaughtResponse) (int, error)
	Count(ctx context.Context) (int64, error)
	// SeedDefaults 仅在表为空时写入默认应答，返回是否写入。
	SeedDefaults(ctx context.Context, defaults []model.TaughtResponse) (bool, error)
}

type responseRepository struct {
	db *gorm.DB
}

// NewResponseRepository 创建一个新的 ResponseRepository 实例。
func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "question"}},
		DoUpdates: clause.AssignmentColumns([]string{"answer", "updated_at"}),
	}
}

// FindAll 按自增 ID 升序返回，即"先插入者优先"的确定性顺序。
func (r *responseRepository) FindAll(ctx context.Context) ([]model.TaughtResponse, error) {
	var responses []model.TaughtResponse
	err := r.db.WithContext(ctx).Order("id asc").Find(&responses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load taught responses: %w", err)
	}
	return responses, nil
}

// FindByQuestion 根据规范化问题查找应答，不存在时返回 gorm.ErrRecordNotFound。
func (r *responseRepository) FindByQuestion(ctx context.Context, question string) (*model.TaughtResponse, error) {
	var resp model.TaughtResponse
	err := r.db.WithContext(ctx).Where("question = ?", model.NormalizeQuestion(question)).First(&resp).Error
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upsert 写入或覆盖一条应答。
func (r *responseRepository) Upsert(ctx context.Context, question, answer string) error {
	normalized, err := NormalizeKey(question)
	if err != nil {
		return err
	}
	record := &model.TaughtResponse{Question: normalized, Answer: answer}
	if err := r.db.WithContext(ctx).Clauses(upsertClause()).Create(record).Error; err != nil {
		return fmt.Errorf("failed to upsert taught response: %w", err)
	}
	return nil
}

// Delete 删除一条应答，键不存在时不报错。
func (r *responseRepository) Delete(ctx context.Context, question string) error {
	err := r.db.WithContext(ctx).
		Where("question = ?", model.NormalizeQuestion(question)).
		Delete(&model.TaughtResponse{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete taught response: %w", err)
	}
	return nil
}

// BulkUpsert 逐条规范化后批量写入，空键和超长的键被跳过；同一批次内重复的键以最后一次为准。
func (r *responseRepository) BulkUpsert(ctx context.Context, responses []model.TaughtResponse) (int, error) {
	index := make(map[string]int, len(responses))
	records := make([]model.TaughtResponse, 0, len(responses))
	for _, resp := range responses {
		normalized, err := NormalizeKey(resp.Question)
		if err != nil {
			continue
		}
		if i, ok := index[normalized]; ok {
			records[i].Answer = resp.Answer
			continue
		}
		index[normalized] = len(records)
		records = append(records, model.TaughtResponse{Question: normalized, Answer: resp.Answer})
	}
	if len(records) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Clauses(upsertClause()).CreateInBatches(&records, 100).Error
	if err != nil {
		return 0, fmt.Errorf("failed to bulk upsert taught responses: %w", err)
	}
	return len(records), nil
}

// Count 返回应答条数。
func (r *responseRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.TaughtResponse{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count taught responses: %w", err)
	}
	return total, nil
}

// SeedDefaults 在表为空时写入默认应答。计数与写入在同一事务内，失败时不留下部分数据。
func (r *responseRepository) SeedDefaults(ctx context.Context, defaults []model.TaughtResponse) (bool, error) {
	seeded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&model.TaughtResponse{}).Count(&total).Error; err != nil {
			return fmt.Errorf("failed to count taught responses: %w", err)
		}
		if total > 0 {
			return nil
		}
		// 复制一份，避免 gorm 回写 ID 污染调用方的切片
		records := make([]model.TaughtResponse, len(defaults))
		for i, d := range defaults {
			records[i] = model.TaughtResponse{Question: model.NormalizeQuestion(d.Question), Answer: d.Answer}
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to seed default responses: %w", err)
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return seeded, nil
}
