package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ocrd/internal/ocr"
	"ocrd/pkg/types"
)

type mockService struct {
	mu      sync.Mutex
	status  types.StatusResponse
	info    types.ModelInfoResponse
	ready   bool
	err     error
	result  string
	calls   int
	lastReq ocr.Request
	lastCtx context.Context
}

func (m *mockService) Ready() bool { return m.ready }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) ModelInfo() types.ModelInfoResponse { return m.info }
func (m *mockService) Process(ctx context.Context, data []byte, filename string, req ocr.Request) (types.OCRResponse, error) {
	m.mu.Lock()
	m.calls++
	m.lastReq = req
	m.lastCtx = ctx
	m.mu.Unlock()
	if m.err != nil {
		return types.OCRResponse{}, m.err
	}
	return types.OCRResponse{Text: m.result, PromptUsed: req.Prompt(), ProcessingTime: 0.1}, nil
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds an upload with an optional file part and form fields.
func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postOCR(t *testing.T, h http.Handler, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, data, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ocr", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("json: %v body=%q", err, w.Body.String())
	}
	return e
}

func TestRootHandler(t *testing.T) {
	SetVersion("9.9.9")
	defer SetVersion("")
	r := NewMux(&mockService{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ServiceInfo
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Version != "9.9.9" || body.Status != "running" || body.Health != "/health" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthHandler(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "initializing" || body.ModelLoaded {
		t.Fatalf("unexpected body while loading: %+v", body)
	}

	svc.ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "healthy" || !body.ModelLoaded {
		t.Fatalf("unexpected body when ready: %+v", body)
	}
}

func TestModelsHandler(t *testing.T) {
	svc := &mockService{info: types.ModelInfoResponse{ModelPath: "/m", ModelType: "DeepseekOCRForCausalLM", MaxTokens: 4096}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.ModelPath != "/m" || body.MaxTokens != 4096 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{State: "ready", MaxInflight: 4}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.State != "ready" || body.MaxInflight != 4 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	r := NewMux(&mockService{ready: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	r := NewMux(&mockService{ready: false})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	r := NewMux(&mockService{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestSecurityHeader(t *testing.T) {
	r := NewMux(&mockService{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("nosniff header missing: %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	r := NewMux(&mockService{ready: true})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ocr", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewMux(&mockService{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"http error", mockHTTPError{msg: "nope", code: http.StatusTeapot}, http.StatusTeapot, "nope"},
		{"wrapped http error", errors.Join(errors.New("ctx"), mockHTTPError{msg: "busy", code: http.StatusTooManyRequests}), http.StatusTooManyRequests, ""},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			if got := writeError(w, tc.err); got != tc.status {
				t.Fatalf("writeError returned %d want %d", got, tc.status)
			}
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			e := decodeError(t, w)
			if e.StatusCode != tc.status {
				t.Fatalf("status_code=%d", e.StatusCode)
			}
			if tc.msg != "" && e.Error != tc.msg {
				t.Fatalf("error=%q want %q", e.Error, tc.msg)
			}
			if tc.status == http.StatusInternalServerError && e.Details != nil {
				t.Fatalf("internal errors must not leak details: %v", e.Details)
			}
		})
	}
}
