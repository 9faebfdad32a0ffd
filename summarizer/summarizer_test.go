package summarizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	req   openai.ChatCompletionRequest
	reply string
	err   error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	resp := openai.ChatCompletionResponse{}
	if f.reply != "" {
		resp.Choices = []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}}}
	}
	return resp, nil
}

func TestChatSummarize(t *testing.T) {
	fc := &fakeCompleter{reply: "  - one\n- two  "}
	s := NewChat(fc, "", 256, nil)

	got, err := s.Summarize(context.Background(), "long text")
	require.NoError(t, err)
	assert.Equal(t, "- one\n- two", got)
	assert.Equal(t, DefaultModel, fc.req.Model)
	assert.Equal(t, 256, fc.req.MaxTokens)
	require.Len(t, fc.req.Messages, 1)
	assert.Equal(t, "Summarize the following text in 3-5 concise bullet points:\n\nlong text", fc.req.Messages[0].Content)
}

func TestChatSummarizeErrors(t *testing.T) {
	_, err := NewChat(&fakeCompleter{}, "m", 0, nil).Summarize(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = NewChat(&fakeCompleter{}, "m", 0, nil).Summarize(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNoSummary)

	boom := errors.New("429 quota exceeded")
	_, err = NewChat(&fakeCompleter{err: boom}, "m", 0, nil).Summarize(context.Background(), "text")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrEmptyText)
}

func TestNewWithoutKeyServesDemo(t *testing.T) {
	s := New(Config{}, nil)
	_, ok := s.(Demo)
	require.True(t, ok)

	got, err := s.Summarize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Contains(t, got, "Demo Summary")
	assert.Contains(t, got, "5 characters long")

	_, ok = New(Config{APIKey: "k"}, nil).(*Chat)
	assert.True(t, ok)
}

func TestGinHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	fc := &fakeCompleter{reply: "- summary"}
	r.POST("/ok", GinHandler(NewChat(fc, "", 0, nil)))
	r.POST("/fail", GinHandler(NewChat(&fakeCompleter{err: errors.New("down")}, "", 0, nil)))

	tests := []struct {
		path, body string
		status     int
		want       string
	}{
		{"/ok", `{"text":"some text"}`, http.StatusOK, `{"summary":"- summary"}`},
		{"/ok", `{"text":"  "}`, http.StatusBadRequest, `{"error":"Text is required"}`},
		{"/ok", `not json`, http.StatusBadRequest, `{"error":"Text is required"}`},
		{"/fail", `{"text":"some text"}`, http.StatusInternalServerError, `{"error":"Failed to summarize text"}`},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		assert.Equal(t, tt.status, w.Code, tt.path+" "+tt.body)
		assert.JSONEq(t, tt.want, w.Body.String())
	}
}

func TestHandler(t *testing.T) {
	h := Handler(Demo{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"text":"abc"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "3 characters long")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Text is required"}`, w.Body.String())
}

func TestOperation(t *testing.T) {
	out, err := Operation(NewChat(&fakeCompleter{reply: "- x"}, "", 0, nil), "text")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Response{Summary: "- x"}, out)

	_, err = Operation(Demo{}, "")(context.Background())
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestValidateRunsBeforeNextHandler(t *testing.T) {
	var calls int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		Handler(Demo{}).ServeHTTP(w, r)
	})
	h := Validate(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"text":" "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, calls)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"text":"abcd"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	assert.Contains(t, w.Body.String(), "4 characters long")
}

func TestGinValidateKeepsBodyForHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var reached bool
	r := gin.New()
	r.POST("/summarize", GinValidate(), func(c *gin.Context) {
		reached = true
		c.Next()
	}, GinHandler(Demo{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, reached)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
	assert.Contains(t, w.Body.String(), "5 characters long")
}

func TestValidatorsCapBodySize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var reached bool
	r := gin.New()
	r.POST("/summarize", GinValidate(), func(c *gin.Context) {
		reached = true
	})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	big := `{"text":"` + strings.Repeat("a", maxRequestBytes) + `"}`
	for name, h := range map[string]http.Handler{"gin": r, "net/http": Validate(next)} {
		reached = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(big))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
		assert.False(t, reached, name)
	}
}
