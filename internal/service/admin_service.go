package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sentorial-chat/internal/model"
	"sentorial-chat/internal/pipeline"
	"sentorial-chat/internal/repository"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/storage"
	"sentorial-chat/pkg/tasks"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	importPrefix = "imports/"
	backupPrefix = "backups/"
	// 备份下载链接有效期
	backupURLExpiry = 15 * time.Minute
)

// ErrEmptyAnswer 表示答案为空。
var ErrEmptyAnswer = errors.New("答案不能为空")

// ResponseDetail 是应答列表项。
type ResponseDetail struct {
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	UpdatedAt model.LocalTime `json:"updatedAt"`
}

// ResponseListResponse 定义了应答列表 API 的分页响应结构。
type ResponseListResponse struct {
	Content       []ResponseDetail `json:"content"`
	TotalElements int64            `json:"totalElements"`
	TotalPages    int              `json:"totalPages"`
	Size          int              `json:"size"`
	Number        int              `json:"number"`
}

// BackupInfo 描述一份应答表备份。
type BackupInfo struct {
	Name         string          `json:"name"`
	Size         int64           `json:"size"`
	LastModified model.LocalTime `json:"lastModified"`
	URL          string          `json:"url"`
}

// ExportFile 是导出文件的内容与建议的文件名。
type ExportFile struct {
	FileName string
	Content  []byte
}

// ObjectStore 是管理端使用的对象存储操作，*storage.ObjectStore 满足该接口。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ImportQueue 投递导入任务，kafka.Queue 满足该接口。
type ImportQueue interface {
	Enqueue(ctx context.Context, task tasks.ResponseImportTask) error
}

// AdminService 接口定义了教学与管理端的业务操作。
type AdminService interface {
	// Teach 保存答案并移除对应的未知问题。
	Teach(ctx context.Context, question, answer string) error

	// Response Management
	ListResponses(ctx context.Context, page, size int) (*ResponseListResponse, error)
	SetResponse(ctx context.Context, question, answer string) error
	UpdateResponse(ctx context.Context, oldQuestion, newQuestion, answer string) error
	DeleteResponse(ctx context.Context, question string) error

	// Unknown Questions
	ListUnknownQuestions(ctx context.Context) ([]model.UnknownQuestion, error)
	DeleteUnknownQuestion(ctx context.Context, id string) error

	// Import / Export / Backup
	ExportResponses(ctx context.Context) (*ExportFile, error)
	ExportUnknownQuestions(ctx context.Context) (*ExportFile, error)
	ImportResponses(ctx context.Context, fileName string, data []byte, submittedBy string) (*tasks.ResponseImportTask, error)
	BackupResponses(ctx context.Context) (string, error)
	ListBackups(ctx context.Context) ([]BackupInfo, error)

	// Chat UI
	SetQuickMessages(ctx context.Context, messages []string) error
}

type adminService struct {
	responseRepo repository.ResponseRepository
	unknownRepo  repository.UnknownQuestionRepository
	quickRepo    repository.QuickMessageRepository
	objects      ObjectStore
	importQueue  ImportQueue
	now          func() time.Time
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(
	responseRepo repository.ResponseRepository,
	unknownRepo repository.UnknownQuestionRepository,
	quickRepo repository.QuickMessageRepository,
	objects ObjectStore,
	importQueue ImportQueue,
) AdminService {
	return &adminService{
		responseRepo: responseRepo,
		unknownRepo:  unknownRepo,
		quickRepo:    quickRepo,
		objects:      objects,
		importQueue:  importQueue,
		now:          time.Now,
	}
}

func (s *adminService) Teach(ctx context.Context, question, answer string) error {
	if err := s.SetResponse(ctx, question, answer); err != nil {
		return err
	}
	if err := s.unknownRepo.Delete(ctx, model.NormalizeQuestion(question)); err != nil {
		// 答案已保存，未知问题残留只影响列表展示
		log.Errorf("[AdminService] 删除已教学的未知问题失败, question: %s, error: %v", question, err)
	}
	return nil
}

// ListResponses 按插入顺序分页返回应答，page 从 0 开始。
func (s *adminService) ListResponses(ctx context.Context, page, size int) (*ResponseListResponse, error) {
	all, err := s.responseRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}

	total := len(all)
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	content := make([]ResponseDetail, 0, end-start)
	for _, r := range all[start:end] {
		content = append(content, ResponseDetail{
			Question:  r.Question,
			Answer:    r.Answer,
			UpdatedAt: model.LocalTime(r.UpdatedAt),
		})
	}
	return &ResponseListResponse{
		Content:       content,
		TotalElements: int64(total),
		TotalPages:    (total + size - 1) / size,
		Size:          size,
		Number:        page,
	}, nil
}

func (s *adminService) SetResponse(ctx context.Context, question, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return ErrEmptyAnswer
	}
	return s.responseRepo.Upsert(ctx, question, answer)
}

// UpdateResponse 问题改名时先删除旧键，再写入新键。
func (s *adminService) UpdateResponse(ctx context.Context, oldQuestion, newQuestion, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return ErrEmptyAnswer
	}
	newKey, err := repository.NormalizeKey(newQuestion)
	if err != nil {
		return err
	}
	if model.NormalizeQuestion(oldQuestion) != newKey {
		if err := s.responseRepo.Delete(ctx, oldQuestion); err != nil {
			return err
		}
	}
	return s.responseRepo.Upsert(ctx, newQuestion, answer)
}

func (s *adminService) DeleteResponse(ctx context.Context, question string) error {
	return s.responseRepo.Delete(ctx, question)
}

func (s *adminService) ListUnknownQuestions(ctx context.Context) ([]model.UnknownQuestion, error) {
	return s.unknownRepo.List(ctx)
}

// DeleteUnknownQuestion 的 id 即规范化后的问题文本。
func (s *adminService) DeleteUnknownQuestion(ctx context.Context, id string) error {
	return s.unknownRepo.Delete(ctx, model.NormalizeQuestion(id))
}

// responseSnapshot 按插入顺序输出 {"问题": "答案"}，导入时保持同样的顺序。
func (s *adminService) responseSnapshot(ctx context.Context) ([]byte, error) {
	all, err := s.responseRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return encodeOrderedTable(all)
}

func encodeOrderedTable(responses []model.TaughtResponse) ([]byte, error) {
	if len(responses) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, r := range responses {
		key, err := json.Marshal(r.Question)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(r.Answer)
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(value)
		if i < len(responses)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ExportResponses 导出 {"问题": "答案"} 形式的 JSON。
func (s *adminService) ExportResponses(ctx context.Context) (*ExportFile, error) {
	content, err := s.responseSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("导出应答表失败: %w", err)
	}
	return &ExportFile{
		FileName: fmt.Sprintf("bot-responses-%s.json", model.ExportDate(s.now())),
		Content:  content,
	}, nil
}

// ExportUnknownQuestions 按计数降序导出未知问题。
func (s *adminService) ExportUnknownQuestions(ctx context.Context) (*ExportFile, error) {
	questions, err := s.unknownRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("导出未知问题失败: %w", err)
	}
	rows := make([]model.UnknownQuestionExport, 0, len(questions))
	for _, q := range questions {
		userID := q.SubmitterID
		if userID == "" {
			userID = "anonymous"
		}
		rows = append(rows, model.UnknownQuestionExport{
			Text:      q.Text,
			Question:  q.Question,
			Timestamp: q.Timestamp,
			Count:     q.Count,
			UserID:    userID,
		})
	}
	content, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		FileName: fmt.Sprintf("unknown-questions-%s.json", model.ExportDate(s.now())),
		Content:  content,
	}, nil
}

// ImportResponses 校验文件后上传到对象存储，并投递异步导入任务。
func (s *adminService) ImportResponses(ctx context.Context, fileName string, data []byte, submittedBy string) (*tasks.ResponseImportTask, error) {
	if _, err := pipeline.ParseResponseImport(data); err != nil {
		return nil, err
	}

	task := tasks.ResponseImportTask{
		ImportID:    uuid.NewString(),
		FileName:    fileName,
		SubmittedBy: submittedBy,
		SubmittedAt: s.now().UnixMilli(),
	}
	task.ObjectName = importPrefix + task.ImportID + ".json"

	if err := s.objects.Put(ctx, task.ObjectName, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return nil, err
	}
	if err := s.importQueue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("投递导入任务失败: %w", err)
	}
	log.Infof("[AdminService] 导入任务已投递, ImportID: %s, FileName: %s", task.ImportID, fileName)
	return &task, nil
}

// BackupResponses 将应答表快照写入对象存储，返回对象名。
func (s *adminService) BackupResponses(ctx context.Context) (string, error) {
	content, err := s.responseSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("备份应答表失败: %w", err)
	}
	objectName := backupPrefix + "bot-responses-" + s.now().UTC().Format("20060102-150405") + ".json"
	if err := s.objects.Put(ctx, objectName, bytes.NewReader(content), int64(len(content)), "application/json"); err != nil {
		return "", err
	}
	log.Infof("[AdminService] 应答表已备份到 %s", objectName)
	return objectName, nil
}

// ListBackups 列出备份并附带临时下载链接。
func (s *adminService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.objects.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		url, err := s.objects.PresignedURL(ctx, obj.Name, backupURLExpiry)
		if err != nil {
			return nil, err
		}
		backups = append(backups, BackupInfo{
			Name:         strings.TrimPrefix(obj.Name, backupPrefix),
			Size:         obj.Size,
			LastModified: model.LocalTime(obj.LastModified),
			URL:          url,
		})
	}
	return backups, nil
}

// SetQuickMessages 替换快捷消息，空白项被丢弃。
func (s *adminService) SetQuickMessages(ctx context.Context, messages []string) error {
	cleaned := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return s.quickRepo.Replace(ctx, cleaned)
}
