package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/fairwaygolf/assetsync/internal/middleware"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxBatchFiles = 20

type MediaHandler struct {
	mediaService *services.MediaService
}

func NewMediaHandler(mediaService *services.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// GetImages lists image metadata
// GET /admin/images?folder=&tag=&type=&page=1&limit=50
func (h *MediaHandler) GetImages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	images, total, err := h.mediaService.ListImages(c.Request.Context(), services.ImageFilter{
		Folder:    c.Query("folder"),
		Tag:       c.Query("tag"),
		ImageType: c.Query("type"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"images":  images,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetImage returns one image record
// GET /admin/images/:id
func (h *MediaHandler) GetImage(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	image, err := h.mediaService.GetImage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "image": image})
}

// UploadImage handles single image upload
// POST /admin/images
// Multipart form: file (required), folder (required)
func (h *MediaHandler) UploadImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	defer file.Close()

	folder := c.PostForm("folder")
	if folder == "" {
		badRequest(c, "folder is required")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "failed to read file")
		return
	}

	image, err := h.mediaService.UploadImage(c.Request.Context(), folder, header.Filename, data, c.GetString(middleware.ContextUsername))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "image": image})
}

// UploadImages handles multiple image upload into one folder
// POST /admin/images/batch
// Multipart form: files[] (multiple files), folder (required)
func (h *MediaHandler) UploadImages(c *gin.Context) {
	maxMemory := int64(64 * 1024 * 1024)
	if err := c.Request.ParseMultipartForm(maxMemory); err != nil {
		badRequest(c, "failed to parse multipart form")
		return
	}

	form := c.Request.MultipartForm
	files, ok := form.File["files[]"]
	if !ok || len(files) == 0 {
		badRequest(c, "files[] is required")
		return
	}
	if len(files) > maxBatchFiles {
		badRequest(c, "maximum 20 files per batch")
		return
	}
	folder := c.PostForm("folder")
	if folder == "" {
		badRequest(c, "folder is required")
		return
	}
	actor := c.GetString(middleware.ContextUsername)

	type uploadResult struct {
		Filename string    `json:"filename"`
		ID       uuid.UUID `json:"id,omitempty"`
		Status   string    `json:"status"`
		Error    string    `json:"error,omitempty"`
	}
	results := make([]uploadResult, len(files))

	// at most 3 uploads in flight
	sem := make(chan struct{}, 3)
	done := make(chan int, len(files))

	for i, fileHeader := range files {
		go func(idx int, fh *multipart.FileHeader) {
			sem <- struct{}{}
			defer func() { <-sem; done <- idx }()

			results[idx].Filename = fh.Filename
			file, err := fh.Open()
			if err != nil {
				results[idx].Status, results[idx].Error = "error", "failed to open file"
				return
			}
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				results[idx].Status, results[idx].Error = "error", "failed to read file"
				return
			}

			image, err := h.mediaService.UploadImage(c.Request.Context(), folder, fh.Filename, data, actor)
			if err != nil {
				results[idx].Status, results[idx].Error = "error", err.Error()
				return
			}
			results[idx].ID, results[idx].Status = image.ID, "success"
		}(i, fileHeader)
	}

	for range files {
		<-done
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == "success" {
			succeeded++
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   succeeded == len(files),
		"total":     len(files),
		"succeeded": succeeded,
		"failed":    len(files) - succeeded,
		"results":   results,
	})
}

// UpdateTags adds and removes tags
// PUT /admin/images/:id/tags
func (h *MediaHandler) UpdateTags(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Add) == 0 && len(req.Remove) == 0 {
		badRequest(c, "add or remove is required")
		return
	}
	image, err := h.mediaService.UpdateTags(c.Request.Context(), id, req.Add, req.Remove)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "image": image})
}

// MoveImage moves the object and its record into another folder
// POST /admin/images/:id/move
func (h *MediaHandler) MoveImage(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Folder string `json:"folder" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	image, err := h.mediaService.MoveImage(c.Request.Context(), id, req.Folder, c.GetString(middleware.ContextUsername))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "image": image})
}

// DeleteImage deletes the object and its record
// DELETE /admin/images/:id
func (h *MediaHandler) DeleteImage(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.mediaService.DeleteImage(c.Request.Context(), id, c.GetString(middleware.ContextUsername)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "image deleted successfully"})
}

// RepairImage fixes a record whose file_path points at a folder
// POST /admin/images/:id/repair
func (h *MediaHandler) RepairImage(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	image, changed, err := h.mediaService.RepairImage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "repaired": changed, "image": image})
}
