package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/rigwatch/internal/manager"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/sudo"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// statusFor maps control errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, process.ErrUnknownKind):
		return http.StatusNotFound
	case errors.Is(err, process.ErrAlreadyRunning), errors.Is(err, manager.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, sudo.ErrNoSecret):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// trimLineEnd drops a trailing "\n" or "\r\n" in place.
func trimLineEnd(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
