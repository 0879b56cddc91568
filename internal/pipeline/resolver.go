package pipeline

import (
	"context"
	"sentorial-chat/internal/history"
	"sentorial-chat/internal/model"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/metrics"
	"time"
)

// Origin 标识产生最终回复的阶段，仅用于界面展示。
type Origin string

const (
	OriginArithmetic Origin = "arithmetic"
	OriginTaught     Origin = "taught"
	OriginAI         Origin = "ai"
	OriginCanned     Origin = "canned"
	OriginUnknown    Origin = "unknown"
)

const (
	aiMarker     = " ✨"
	cannedMarker = " 💭"

	// UnknownReply 是所有阶段都没有答案时的固定回复。
	UnknownReply = "I don't know yet 😅. Admin will teach me soon."

	DefaultFallbackProbability = 0.7
)

// Result 是一次解析的结果。NeedsTeaching 为 true 时调用方应打开教学入口。
type Result struct {
	Text          string `json:"text"`
	Origin        Origin `json:"origin"`
	NeedsTeaching bool   `json:"needsTeaching"`
	Question      string `json:"question,omitempty"`
}

// ResponseSource 提供按插入顺序排列的应答表。
type ResponseSource interface {
	FindAll(ctx context.Context) ([]model.TaughtResponse, error)
}

// Answerer 是生成式回答阶段，*Generative 满足该接口。
type Answerer interface {
	Generate(ctx context.Context, userMessage string, history []string) (string, bool)
}

// UnknownRecorder 记录未知问题，*Recorder 满足该接口。
type UnknownRecorder interface {
	Record(ctx context.Context, question string) error
}

// Resolver 按 算术 -> 关键词 -> 生成式 -> 随机兜底 -> 未知 的顺序解析一条用户消息，
// 第一个给出答案的阶段即终止。每个会话持有一个 Resolver 及其历史缓冲。
type Resolver struct {
	responses           ResponseSource
	generative          Answerer
	recorder            UnknownRecorder
	history             *history.Buffer
	rng                 RandomSource
	fallbackProbability float64
	metrics             *metrics.Metrics
}

// NewResolver 创建一个 Resolver。fallbackProbability 不在 [0,1] 内时使用默认值 0.7。
func NewResolver(
	responses ResponseSource,
	generative Answerer,
	recorder UnknownRecorder,
	buf *history.Buffer,
	rng RandomSource,
	fallbackProbability float64,
	m *metrics.Metrics,
) *Resolver {
	if fallbackProbability < 0 || fallbackProbability > 1 {
		fallbackProbability = DefaultFallbackProbability
	}
	if buf == nil {
		buf = history.NewBuffer(history.DefaultCapacity)
	}
	return &Resolver{
		responses:           responses,
		generative:          generative,
		recorder:            recorder,
		history:             buf,
		rng:                 rng,
		fallbackProbability: fallbackProbability,
		metrics:             m,
	}
}

// History 返回该会话的历史缓冲。
func (r *Resolver) History() *history.Buffer {
	return r.history
}

// Resolve 解析一条用户消息，永不返回错误；存储或服务故障只会让本轮降级。
func (r *Resolver) Resolve(ctx context.Context, text string) Result {
	start := time.Now()
	prior := r.history.Lines()
	r.history.AppendUser(text)

	res := r.resolve(ctx, text, prior)

	r.history.AppendBot(res.Text)
	r.metrics.ObserveResolution(string(res.Origin), time.Since(start))
	log.Infow("消息解析完成", "origin", res.Origin, "latency_ms", time.Since(start).Milliseconds())
	return res
}

func (r *Resolver) resolve(ctx context.Context, text string, prior []string) Result {
	if n, ok := EvaluateExpression(text); ok {
		return Result{Text: "The answer is " + FormatNumber(n), Origin: OriginArithmetic}
	}

	if r.responses != nil {
		table, err := r.responses.FindAll(ctx)
		if err != nil {
			log.Error("读取应答表失败，跳过关键词匹配", err)
		} else if answer, ok := Match(model.NormalizeQuestion(text), table); ok {
			return Result{Text: answer, Origin: OriginTaught}
		}
	}

	if r.generative != nil {
		if answer, ok := r.generative.Generate(ctx, text, prior); ok {
			return Result{Text: answer + aiMarker, Origin: OriginAI}
		}
	}

	if r.rng != nil && r.rng.Float64() < r.fallbackProbability {
		return Result{Text: SmartFallback(text, r.rng) + cannedMarker, Origin: OriginCanned}
	}

	if r.recorder != nil {
		if err := r.recorder.Record(ctx, text); err != nil {
			log.Error("记录未知问题失败", err)
		}
	}
	return Result{Text: UnknownReply, Origin: OriginUnknown, NeedsTeaching: true, Question: text}
}
