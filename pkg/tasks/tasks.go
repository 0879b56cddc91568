// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ResponseImportTask represents a queued import of an uploaded response-table file.
type ResponseImportTask struct {
	ImportID    string `json:"import_id"`
	ObjectName  string `json:"object_name"`
	FileName    string `json:"file_name"`
	SubmittedBy string `json:"submitted_by"`
	SubmittedAt int64  `json:"submitted_at"`
}
