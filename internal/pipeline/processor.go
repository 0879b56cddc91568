package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sentorial-chat/internal/model"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/metrics"
	"sentorial-chat/pkg/tasks"
)

// 导入文件大小上限。
const maxImportBytes = 10 << 20

// ErrInvalidImport 表示导入文件不是 JSON 对象。
var ErrInvalidImport = errors.New("导入文件必须是 JSON 对象（问题 -> 答案）")

// ObjectReader 从对象存储读取导入文件，*storage.ObjectStore 满足该接口。
type ObjectReader interface {
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// BulkWriter 批量合并应答，repository.ResponseRepository 满足该接口。
type BulkWriter interface {
	BulkUpsert(ctx context.Context, responses []model.TaughtResponse) (int, error)
}

// Processor 处理 Kafka 中的应答表导入任务。
type Processor struct {
	objects   ObjectReader
	responses BulkWriter
	metrics   *metrics.Metrics
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(objects ObjectReader, responses BulkWriter, m *metrics.Metrics) *Processor {
	return &Processor{objects: objects, responses: responses, metrics: m}
}

// Process 下载导入文件、解析并合并到应答表，已存在的键被覆盖。
func (p *Processor) Process(ctx context.Context, task tasks.ResponseImportTask) error {
	log.Infof("[Processor] 开始处理导入任务, ImportID: %s, Object: %s", task.ImportID, task.ObjectName)

	object, err := p.objects.Get(ctx, task.ObjectName)
	if err != nil {
		p.metrics.ImportTask("failed")
		return err
	}
	defer object.Close()

	data, err := io.ReadAll(io.LimitReader(object, maxImportBytes+1))
	if err != nil {
		p.metrics.ImportTask("failed")
		return fmt.Errorf("读取导入文件失败: %w", err)
	}
	if len(data) > maxImportBytes {
		// 格式类错误重试无意义，返回 nil 让消费者提交 offset
		log.Warnf("[Processor] 导入文件过大, 处理中止, ImportID: %s", task.ImportID)
		p.metrics.ImportTask("rejected")
		return nil
	}

	responses, err := ParseResponseImport(data)
	if err != nil {
		log.Warnf("[Processor] 导入文件无效, 处理中止, ImportID: %s, Error: %v", task.ImportID, err)
		p.metrics.ImportTask("rejected")
		return nil
	}

	n, err := p.responses.BulkUpsert(ctx, responses)
	if err != nil {
		p.metrics.ImportTask("failed")
		return fmt.Errorf("合并应答表失败: %w", err)
	}
	p.metrics.ImportTask("ok")
	log.Infof("[Processor] 导入完成, ImportID: %s, 写入 %d 条应答", task.ImportID, n)
	return nil
}

// ParseResponseImport 解析 {"问题": "答案"} 形式的 JSON 对象，保留文件中的键顺序，
// 丢弃非字符串的值；规范化由存储层完成。
func ParseResponseImport(data []byte) ([]model.TaughtResponse, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, ErrInvalidImport
	}

	var responses []model.TaughtResponse
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '"' {
			continue
		}
		var answer string
		if err := json.Unmarshal(raw, &answer); err != nil {
			continue
		}
		responses = append(responses, model.TaughtResponse{Question: key, Answer: answer})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidImport)
	}
	return responses, nil
}
