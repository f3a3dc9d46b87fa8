package http

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/backup"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/utils"
)

// CreateBackup asks every instance for its backup and writes an archive.
// With ?download=true the archive is returned instead of being kept.
func (h *Handlers) CreateBackup(c *gin.Context) {
	if h.backups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backups are not configured"})
		return
	}

	archive, results := h.backups.Create(c.Request.Context())

	if c.Query("download") == "true" {
		var buf bytes.Buffer
		if err := backup.Encode(&buf, archive); err != nil {
			respondError(c, err)
			return
		}
		name := "smartspacer_" + archive.CreatedAt.Format("20060102_150405") + backup.Extension
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, "application/zstd", buf.Bytes())
		return
	}

	path, err := h.backups.Save(archive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"name":    filepath.Base(path),
		"entries": len(archive.Entries),
		"results": results,
	})
}

// ListBackups lists the stored archives, newest first
func (h *Handlers) ListBackups(c *gin.Context) {
	if h.backups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backups are not configured"})
		return
	}
	names, err := h.backups.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": names, "count": len(names)})
}

// RestoreBackup restores a stored archive named in a JSON body, or an archive
// uploaded as the request body
func (h *Handlers) RestoreBackup(c *gin.Context) {
	if h.backups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backups are not configured"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, utils.MaxArchiveSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	if len(raw) > utils.MaxArchiveSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "archive too large"})
		return
	}

	archive, err := h.readArchive(raw)
	if err != nil {
		respondError(c, err)
		return
	}

	results := h.backups.Restore(c.Request.Context(), archive)
	h.logger.Info("Backup restored", zap.Int("entries", len(archive.Entries)), zap.Int("results", len(results)))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": results,
	})
}

func (h *Handlers) readArchive(raw []byte) (*backup.Archive, error) {
	if mimetype.Detect(raw).Is("application/zstd") {
		return backup.Decode(bytes.NewReader(raw))
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := bindJSON(raw, &req); err != nil {
		return nil, err
	}
	return h.backups.Load(req.Name)
}
