package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ocrd/internal/engine/enginetest"
	"ocrd/internal/httpapi"
	"ocrd/internal/imageproc"
	"ocrd/internal/manager"
	"ocrd/internal/ocr"
	"ocrd/pkg/types"
)

// newServer assembles manager, OCR pipeline and HTTP mux over fake. The
// engine is not initialized; call mgr.Initialize when the test needs it.
func newServer(t *testing.T, fake *enginetest.Fake, mcfg manager.ManagerConfig, ocfg ocr.Config) (*httptest.Server, *manager.Manager, *ocr.Service) {
	t.Helper()
	if mcfg.Backend == "" {
		mcfg.Backend = "fake"
	}
	if mcfg.Factory == nil {
		mcfg.Factory = enginetest.Factory(fake, nil)
	}
	if mcfg.Args.Model == "" {
		// Remote-style identifier; skips the local path sanity check.
		mcfg.Args.Model = "deepseek-ai/DeepSeek-OCR"
	}
	if ocfg.Limits.MaxFileSize == 0 {
		ocfg.Limits = imageproc.DefaultLimits()
	}
	mgr := manager.NewWithConfig(mcfg)
	svc := ocr.NewService(mgr, ocfg)
	info := types.ModelInfoResponse{ModelType: "DeepseekOCRForCausalLM", MaxTokens: 4096, GPUMemoryUtilization: 0.5}
	srv := httptest.NewServer(httpapi.NewMux(httpapi.NewService(mgr, svc, info)))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return srv, mgr, svc
}

func initialize(t *testing.T, mgr *manager.Manager) {
	t.Helper()
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func postOCR(t *testing.T, url, filename string, data []byte, fields map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(data)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url+"/api/v1/ocr", &buf)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("json: %v body=%s", err, string(body))
	}
	return v
}
