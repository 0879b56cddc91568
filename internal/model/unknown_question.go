package model

// UnknownQuestion 记录无法回答的问题，等待管理员教学。
// ID 为规范化后的问题文本，同一问题只保留一条记录，Count 单调递增。
type UnknownQuestion struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"` // 首次出现时间（毫秒），不可变
	Count       int64  `json:"count"`
	SubmitterID string `json:"userID"`
}

// UnknownQuestionExport 是导出文件中的单行结构。
type UnknownQuestionExport struct {
	Text      string `json:"text"`
	Question  string `json:"question"`
	Timestamp int64  `json:"timestamp"`
	Count     int64  `json:"count"`
	UserID    string `json:"userID"`
}
