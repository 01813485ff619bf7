package upload

import "zeno/internal/rag"

// ErrorResponse 上传失败响应
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details *UploadDetails `json:"details,omitempty"`
}

// UploadResponse 上传成功响应，部分文件失败时仍返回 200 并在 failed 中列出
type UploadResponse struct {
	Message string         `json:"message"`
	Details *UploadDetails `json:"details"`
}

// UploadDetails 每个文件的处理结果
type UploadDetails struct {
	FilesProcessed int               `json:"filesProcessed"`
	TotalChunks    int               `json:"totalChunks"`
	Files          []rag.FileResult  `json:"files"`
	Failed         []rag.FileFailure `json:"failed"`
}

func detailsFrom(report *rag.IngestReport) *UploadDetails {
	return &UploadDetails{
		FilesProcessed: len(report.Files),
		TotalChunks:    report.TotalChunks,
		Files:          report.Files,
		Failed:         report.Failed,
	}
}
