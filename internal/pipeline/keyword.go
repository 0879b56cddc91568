package pipeline

import (
	"sentorial-chat/internal/model"
	"strings"
)

// Match 在应答表中查找规范化文本：先精确匹配，再按表顺序做双向子串匹配，第一个命中者胜出。
// 表顺序即存储的插入顺序。空文本与空键永不匹配。
func Match(normalized string, table []model.TaughtResponse) (string, bool) {
	if normalized == "" {
		return "", false
	}
	for _, r := range table {
		if r.Question == normalized {
			return r.Answer, true
		}
	}
	for _, r := range table {
		if r.Question == "" {
			continue
		}
		if strings.Contains(normalized, r.Question) || strings.Contains(r.Question, normalized) {
			return r.Answer, true
		}
	}
	return "", false
}
