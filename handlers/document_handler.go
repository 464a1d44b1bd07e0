package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"sowforge-backend/service"
	"sowforge-backend/storage"

	"github.com/gin-gonic/gin"
)

// DocumentHandler serves rendered documents and their exports
type DocumentHandler struct {
	workflowService *service.WorkflowService
	storage         storage.Storage
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(workflowService *service.WorkflowService, store storage.Storage) *DocumentHandler {
	return &DocumentHandler{
		workflowService: workflowService,
		storage:         store,
	}
}

// GetDocument handles GET /api/cases/:id/document?format=md|html|json
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	caseID, ok := parseCaseID(c)
	if !ok {
		return
	}

	content, contentType, err := h.workflowService.RenderDocument(caseID, c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, contentType, content)
}

// ExportDocumentRequest represents the request body for exporting a document
type ExportDocumentRequest struct {
	Format string `json:"format"`
}

// ExportDocument handles POST /api/cases/:id/export
func (h *DocumentHandler) ExportDocument(c *gin.Context) {
	caseID, ok := parseCaseID(c)
	if !ok {
		return
	}

	if h.storage == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "STORAGE_NOT_CONFIGURED",
				"message": "No export storage backend is configured",
			},
		})
		return
	}

	var req ExportDocumentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_REQUEST",
					"message": err.Error(),
				},
			})
			return
		}
	}
	format := strings.ToLower(req.Format)
	if format == "" {
		format = "md"
	}

	content, _, err := h.workflowService.RenderDocument(caseID, format)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("document.%s", format)
	storagePath, err := h.storage.Upload(c.Request.Context(), caseID, filename, bytes.NewReader(content))
	if err != nil {
		log.Printf("Failed to export document for case %s: %v", caseID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EXPORT_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"storage_path": storagePath,
			"format":       format,
			"size_bytes":   len(content),
		},
	})
}

// DownloadExport handles GET /api/exports/*path
func (h *DocumentHandler) DownloadExport(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "STORAGE_NOT_CONFIGURED",
				"message": "No export storage backend is configured",
			},
		})
		return
	}

	storagePath := strings.TrimPrefix(c.Param("path"), "/")
	if storagePath == "" || strings.Contains(storagePath, "..") {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_PATH",
				"message": "Invalid export path",
			},
		})
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), storagePath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EXPORT_NOT_FOUND",
				"message": err.Error(),
			},
		})
		return
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOWNLOAD_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.Data(http.StatusOK, contentTypeForPath(storagePath), content)
}

func contentTypeForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
