package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/fairwaygolf/assetsync/pkg/validation"
	"github.com/gin-gonic/gin"
)

// AdminHandler serves folder browsing, classification and customer folder
// administration.
type AdminHandler struct {
	cfg             *config.Config
	lister          *services.Lister
	cache           *services.FolderCacheService
	classifier      *services.Classifier
	customerService *services.CustomerService
	auditService    *services.AuditService
}

func NewAdminHandler(cfg *config.Config, lister *services.Lister, cache *services.FolderCacheService, classifier *services.Classifier,
	customerService *services.CustomerService, auditService *services.AuditService) *AdminHandler {
	return &AdminHandler{
		cfg:             cfg,
		lister:          lister,
		cache:           cache,
		classifier:      classifier,
		customerService: customerService,
		auditService:    auditService,
	}
}

type snapshotResult struct {
	snap *services.FolderSnapshot
	hit  bool
	err  error
}

// GetFolders returns the recursive folder summary of root, served from the
// folder cache when fresh.
// GET /admin/folders?root=&refresh=1
//
// The scan runs detached from the request with FolderScanDeadline as budget.
// When it is still running after ListDeadline the handler answers 504 and the
// scan goes on to fill the cache for the next call.
func (h *AdminHandler) GetFolders(c *gin.Context) {
	root := c.Query("root")
	if !validation.ValidateStoragePath(root) {
		badRequest(c, "invalid root")
		return
	}
	root = validation.NormalizePath(root)
	if c.Query("refresh") == "1" {
		h.cache.Invalidate(c.Request.Context(), root)
	}

	done := make(chan snapshotResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.FolderScanDeadline)
		defer cancel()
		snap, hit, err := h.cache.Get(ctx, root, func(ctx context.Context) (*services.FolderSnapshot, error) {
			deadline, _ := ctx.Deadline()
			listing := h.lister.ListAllRecursive(ctx, root, h.cfg.ListMaxDepth, deadline)
			return services.Summarize(listing, time.Now()), nil
		})
		done <- snapshotResult{snap: snap, hit: hit, err: err}
	}()

	timer := time.NewTimer(h.cfg.ListDeadline)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			respondError(c, res.err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"cached":  res.hit,
			"data":    res.snap,
		})
	case <-timer.C:
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"success":     false,
			"error":       "folder scan is still running",
			"message":     "The folder list is being built in the background. Retry in a minute to get the cached result.",
			"retry_after": int(h.cfg.ListDeadline.Seconds()),
		})
	case <-c.Request.Context().Done():
		// client gone; the scan keeps running and fills the cache
	}
}

// InvalidateFolderCache drops cached folder summaries
// DELETE /admin/folders/cache?root=
func (h *AdminHandler) InvalidateFolderCache(c *gin.Context) {
	root, ok := c.GetQuery("root")
	if !ok {
		h.cache.InvalidateAll(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"success": true, "invalidated": "all"})
		return
	}
	if !validation.ValidateStoragePath(root) {
		badRequest(c, "invalid root")
		return
	}
	h.cache.InvalidatePath(c.Request.Context(), root)
	c.JSON(http.StatusOK, gin.H{"success": true, "invalidated": validation.NormalizePath(root)})
}

// BrowseFolder lists the immediate children of a folder
// GET /admin/folders/browse?path=&limit=&sort=name|size|updated
func (h *AdminHandler) BrowseFolder(c *gin.Context) {
	sortBy := c.DefaultQuery("sort", "name")
	if sortBy != "name" && sortBy != "size" && sortBy != "updated" {
		badRequest(c, "sort must be name, size or updated")
		return
	}
	p := c.Query("path")
	objects, err := h.lister.ListFolder(c.Request.Context(), p, services.ListOptions{
		Limit:  queryInt(c, "limit", 0),
		SortBy: sortBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	grouping := h.classifier.Group(p)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"path":     validation.NormalizePath(p),
		"grouping": grouping,
		"items":    objects,
		"count":    len(objects),
	})
}

type classifyResult struct {
	Input          string                  `json:"input"`
	ImageType      string                  `json:"image_type"`
	Grouping       services.FolderGrouping `json:"grouping"`
	CustomerFolder string                  `json:"customer_folder,omitempty"`
	CustomerID     *int64                  `json:"customer_id,omitempty"`
	Malformed      bool                    `json:"malformed_path"`
}

// Classify shows how the classifier sees filenames or paths
// POST /admin/classify
func (h *AdminHandler) Classify(c *gin.Context) {
	var req struct {
		Inputs []string `json:"inputs" binding:"required,min=1,max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	folders, err := h.customerService.FolderMap(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resolver := services.NewCustomerResolver(folders)

	results := make([]classifyResult, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		res := classifyResult{
			Input:     in,
			ImageType: h.classifier.ClassifyImageType(in),
			Grouping:  h.classifier.Group(in),
			Malformed: services.IsMalformedFilePath(in),
		}
		if key, ok := h.classifier.ExtractCustomerFolder(in); ok {
			res.CustomerFolder = key
			if id, ok := resolver.Resolve(key); ok {
				res.CustomerID = &id
			}
		}
		results = append(results, res)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results, "rules": h.classifier.Rules()})
}

// GetCustomerFolders returns the folder_name to customer id map
// GET /admin/customers/folders
func (h *AdminHandler) GetCustomerFolders(c *gin.Context) {
	folders, err := h.customerService.FolderMap(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "folders": folders, "count": len(folders)})
}

// GetCustomers lists customers
// GET /admin/customers?search=&missing_folder=1&limit=&offset=
func (h *AdminHandler) GetCustomers(c *gin.Context) {
	customers, total, err := h.customerService.ListCustomers(c.Request.Context(),
		c.Query("search"), c.Query("missing_folder") == "1",
		queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "customers": customers, "total": total})
}

// SetCustomerFolder changes a customer's storage folder key
// PUT /admin/customers/:id/folder
func (h *AdminHandler) SetCustomerFolder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req struct {
		FolderName string `json:"folder_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	customer, err := h.customerService.SetFolderName(c.Request.Context(), id, req.FolderName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "customer": customer})
}

// GetAuditLogs lists audit entries
// GET /admin/audit?action=&target_id=&limit=&offset=
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(),
		c.Query("action"), c.Query("target_id"), limit, queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logs": logs, "total": total})
}
