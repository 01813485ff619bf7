// Package upload 文档上传接口
package upload

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"

	response "zeno/api/handlers/common"
	"zeno/internal/apperr"
	"zeno/internal/logger"
	"zeno/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 表单中的文件字段，两者都接受
var fileFields = []string{"file", "files"}

// Ingester 文档入库流水线
type Ingester interface {
	Ingest(ctx context.Context, files []rag.UploadedFile) (*rag.IngestReport, error)
}

// Handler 上传处理器
type Handler struct {
	ingester Ingester
}

// NewHandler 创建上传处理器
func NewHandler(ingester Ingester) *Handler {
	return &Handler{ingester: ingester}
}

// Upload 上传并索引课程文档
// @Summary 上传课程文档
// @Description 解析、切分并向量化上传的文档（pdf、txt、md、docx），单个文件失败不影响其他文件
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文档文件，可重复"
// @Success 200 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/upload [post]
func (h *Handler) Upload(c *gin.Context) {
	files := collectFiles(c)
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No file provided"})
		return
	}

	ctx := c.Request.Context()
	report, err := h.ingester.Ingest(ctx, files)
	if err != nil {
		logger.WithContext(ctx).Error("文档上传处理失败", zap.Error(err))
		if apperr.Is(err, apperr.KindValidation) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No file provided"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error processing document"})
		return
	}

	details := detailsFrom(report)
	if report.AllFailed() {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error processing document", Details: details})
		return
	}
	c.JSON(http.StatusOK, UploadResponse{Message: "Document processed successfully", Details: details})
}

// Ready 上传接口探活
// @Summary 上传接口就绪检查
// @Tags Upload
// @Produce json
// @Success 200 {object} response.MessageResponse
// @Router /api/upload [get]
func (h *Handler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, response.MessageResponse{Message: "Upload endpoint ready"})
}

// collectFiles 读取 multipart 表单中的全部文件，解析失败视为没有文件
func collectFiles(c *gin.Context) []rag.UploadedFile {
	form, err := c.MultipartForm()
	if err != nil {
		return nil
	}
	var files []rag.UploadedFile
	for _, field := range fileFields {
		for _, fh := range form.File[field] {
			files = append(files, uploadedFile(fh))
		}
	}
	return files
}

func uploadedFile(fh *multipart.FileHeader) rag.UploadedFile {
	return rag.UploadedFile{
		Filename: fh.Filename,
		Size:     fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
