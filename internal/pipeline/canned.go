package pipeline

import "strings"

// RandomSource 是随机选择所需的最小接口，*rand.Rand 满足该接口。
type RandomSource interface {
	Float64() float64
	Intn(n int) int
}

var (
	greetingReplies = []string{
		"Hello! How can I help you today? 😊",
		"Hi there! What's on your mind?",
		"Hey! Great to see you here!",
		"Hello! I'm here and ready to chat!",
	}
	questionReplies = []string{
		"That's an interesting question! I'd love to help you explore that topic. 🤔",
		"Great question! Let me think about that for you.",
		"I find that topic fascinating! What specifically interests you about it?",
		"That's something worth discussing! What's your take on it?",
	}
	generalReplies = []string{
		"That's interesting! Tell me more about what you're thinking. 💭",
		"I appreciate you sharing that with me! What else is on your mind?",
		"Thanks for chatting with me! I enjoy our conversations. 😊",
		"That's a great point! I'd love to hear more of your thoughts.",
		"Interesting perspective! What made you think about that?",
		"I'm here to chat about whatever interests you! 🌟",
	}
)

// SmartFallback 按问候、提问、其他三类从固定话术池中均匀随机选一条，不访问网络，结果非空。
func SmartFallback(userMessage string, rng RandomSource) string {
	pool := generalReplies
	msg := strings.ToLower(strings.TrimSpace(userMessage))
	switch {
	case strings.Contains(msg, "hello") || strings.Contains(msg, "hi") || strings.Contains(msg, "hey"):
		pool = greetingReplies
	case strings.Contains(msg, "?") ||
		strings.HasPrefix(msg, "what") || strings.HasPrefix(msg, "how") || strings.HasPrefix(msg, "why"):
		pool = questionReplies
	}
	return pool[rng.Intn(len(pool))]
}
