// Package history 提供单个会话内存中的有界对话窗口，仅作为生成式提示词的上下文。
package history

import "sync"

// DefaultCapacity 是默认保留的行数。
const DefaultCapacity = 10

// Buffer 保存最近 N 行 "User: …" / "Bot: …"，超出容量时淘汰最旧的行。
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	lines    []string
}

// NewBuffer 创建容量为 capacity 的缓冲区，capacity <= 0 时使用 DefaultCapacity。
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity, lines: make([]string, 0, capacity)}
}

// AppendUser 追加一行用户发言。
func (b *Buffer) AppendUser(text string) { b.append("User: " + text) }

// AppendBot 追加一行机器人回复。
func (b *Buffer) AppendBot(text string) { b.append("Bot: " + text) }

// append-then-trim
func (b *Buffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.capacity; over > 0 {
		b.lines = append(b.lines[:0], b.lines[over:]...)
	}
}

// Lines 返回当前窗口的副本，修改返回值不会影响内部状态。
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Last 返回最近的至多 n 行。
func (b *Buffer) Last(n int) []string {
	lines := b.Lines()
	if n >= 0 && len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

// Len 返回当前行数。
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Capacity 返回缓冲区容量。
func (b *Buffer) Capacity() int { return b.capacity }

// Reset 清空窗口。
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = b.lines[:0]
}
