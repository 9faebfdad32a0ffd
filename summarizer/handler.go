package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	x402 "github.com/x402-foundation/x402-summarizer"
)

const maxRequestBytes = 1 << 20

// Request is the body of POST /summarize
type Request struct {
	Text string `json:"text"`
}

// Response is the success body of POST /summarize
type Response struct {
	Summary string `json:"summary"`
}

const (
	errTextRequired = "Text is required"
	errFailed       = "Failed to summarize text"
)

// GinValidate rejects requests without text or over maxRequestBytes. Mount
// it before the payment middleware so a bad request never consumes a proof.
func GinValidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
		var req Request
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || strings.TrimSpace(req.Text) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errTextRequired})
			return
		}
		c.Next()
	}
}

// GinHandler serves POST /summarize on a gin router
func GinHandler(s Summarizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || strings.TrimSpace(req.Text) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": errTextRequired})
			return
		}
		summary, err := s.Summarize(c.Request.Context(), req.Text)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errFailed})
			return
		}
		c.JSON(http.StatusOK, Response{Summary: summary})
	}
}

// Handler serves POST /summarize on net/http and echo (through echo.WrapHandler)
func Handler(s Summarizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
		if err != nil || strings.TrimSpace(req.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": errTextRequired})
			return
		}
		summary, err := s.Summarize(r.Context(), req.Text)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errFailed})
			return
		}
		writeJSON(w, http.StatusOK, Response{Summary: summary})
	})
}

// Validate is the net/http counterpart of GinValidate. The body is restored
// for the next handler.
func Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		var req Request
		if err == nil {
			err = json.Unmarshal(body, &req)
		}
		if err != nil || strings.TrimSpace(req.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": errTextRequired})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Operation wraps a summarization as the gateway's protected operation
func Operation(s Summarizer, text string) x402.OperationFunc {
	return func(ctx context.Context) (interface{}, error) {
		summary, err := s.Summarize(ctx, text)
		if err != nil {
			return nil, err
		}
		return Response{Summary: summary}, nil
	}
}
