package pipeline

import (
	"context"
	"errors"
	"sentorial-chat/internal/config"
	"sentorial-chat/pkg/llm"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/metrics"
	"strings"
	"unicode/utf8"
)

// 生成参数为固定常量，不对外开放配置。
var generationParams = llm.GenerationParams{
	Temperature:     0.7,
	TopP:            0.95,
	TopK:            40,
	MaxOutputTokens: 200,
}

const (
	promptHistoryLines  = 6
	maxMessageRunes     = 1000
	maxHistoryLineRunes = 500
	maxKnowledgeRunes   = 4000
)

// DefaultPersona 在未配置人设时使用。
const DefaultPersona = `You are SenTorial-CHAT, a friendly and helpful AI assistant.

Keep your response:
- Conversational and friendly
- Helpful and informative
- Under 200 words
- Natural, like talking to a friend`

// Generative 通过外部生成式服务回答问题，任何失败都视为"没有答案"。
type Generative struct {
	client    llm.Client
	persona   string
	knowledge string
	metrics   *metrics.Metrics
}

// NewGenerative 创建生成式回答阶段。client 为 nil 时该阶段始终没有答案。
func NewGenerative(client llm.Client, prompt config.LLMPromptConfig, m *metrics.Metrics) *Generative {
	persona := strings.TrimSpace(prompt.Persona)
	if persona == "" {
		persona = DefaultPersona
	}
	return &Generative{
		client:    client,
		persona:   persona,
		knowledge: truncateRunes(strings.TrimSpace(prompt.Knowledge), maxKnowledgeRunes),
		metrics:   m,
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// BuildPrompt 拼接人设、知识块、最近的对话与用户消息。历史先截取再拼接，长度与历史大小无关。
func (g *Generative) BuildPrompt(userMessage string, history []string) string {
	if len(history) > promptHistoryLines {
		history = history[len(history)-promptHistoryLines:]
	}

	var b strings.Builder
	b.WriteString(g.persona)
	b.WriteString("\n\n")
	if g.knowledge != "" {
		b.WriteString(g.knowledge)
		b.WriteString("\n\n")
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, line := range history {
			b.WriteString(truncateRunes(line, maxHistoryLineRunes))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(`Respond naturally and conversationally to: "`)
	b.WriteString(truncateRunes(strings.TrimSpace(userMessage), maxMessageRunes))
	b.WriteString(`"`)
	return b.String()
}

// Generate 调用生成式服务，返回 (答案, true)；传输、状态码、解析或安全拦截失败时返回 ("", false)。
func (g *Generative) Generate(ctx context.Context, userMessage string, history []string) (string, bool) {
	if g == nil || g.client == nil {
		return "", false
	}
	answer, err := g.client.Generate(ctx, g.BuildPrompt(userMessage, history), generationParams)
	if err != nil {
		reason := failureReason(err)
		g.metrics.ProviderError(g.client.Name(), reason)
		log.Warnw("生成式回答失败", "provider", g.client.Name(), "reason", reason, "error", err)
		return "", false
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		g.metrics.ProviderError(g.client.Name(), "empty")
		return "", false
	}
	return answer, true
}

func failureReason(err error) string {
	var statusErr *llm.StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, llm.ErrBlocked):
		return "blocked"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
