package uploads

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadAndServe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, Register(r, r.Group("/api"), Service{Dir: t.TempDir(), MaxBytes: 1 << 20, Logger: zap.NewNop().Sugar()}))

	post := func(filename string, content []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, filename, content)
		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("Avatar.PNG", []byte("not really a png"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.Path, "/uploads/"))
	require.True(t, strings.HasSuffix(resp.Path, ".png"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, resp.Path, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "not really a png", w.Body.String())

	require.Equal(t, http.StatusBadRequest, post("script.sh", []byte("echo")).Code)
	require.Equal(t, http.StatusRequestEntityTooLarge, post("big.png", bytes.Repeat([]byte("x"), 2<<20)).Code)
}
