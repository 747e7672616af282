// Package uploads stores user images on local disk and serves them back.
package uploads

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/httpx"
)

// PublicPrefix is the URL path uploaded files are served under.
const PublicPrefix = "/uploads"

var allowedExt = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

type Service struct {
	Dir      string
	MaxBytes int64
	Logger   *zap.SugaredLogger
}

// Register mounts the upload endpoint on rg and the static file server on r.
func Register(r *gin.Engine, rg *gin.RouterGroup, s Service) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	rg.POST("/upload", s.upload)
	r.Static(PublicPrefix, s.Dir)
	return nil
}

func (s Service) upload(c *gin.Context) {
	if c.Request.ContentLength > s.MaxBytes {
		httpx.Err(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Err(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httpx.Err(c, http.StatusBadRequest, "file is required")
		return
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if _, ok := allowedExt[ext]; !ok {
		httpx.Err(c, http.StatusBadRequest, "Images only!")
		return
	}

	name := uuid.NewString() + ext
	if err := c.SaveUploadedFile(fh, filepath.Join(s.Dir, name)); err != nil {
		s.Logger.Errorw("saving upload", "name", name, "error", err)
		httpx.Err(c, http.StatusInternalServerError, "upload failed")
		return
	}

	httpx.OK(c, gin.H{"path": PublicPrefix + "/" + name})
}
