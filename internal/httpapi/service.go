package httpapi

import (
	"context"

	"ocrd/internal/manager"
	"ocrd/internal/ocr"
	"ocrd/pkg/types"
)

// stackService serves the HTTP API from the engine manager and the OCR
// pipeline.
type stackService struct {
	mgr  *manager.Manager
	ocr  *ocr.Service
	info types.ModelInfoResponse
}

// NewService adapts a manager and an OCR pipeline to Service. info is the
// static model description reported by GET /models.
func NewService(m *manager.Manager, o *ocr.Service, info types.ModelInfoResponse) Service {
	return &stackService{mgr: m, ocr: o, info: info}
}

func (s *stackService) Ready() bool { return s.mgr.Ready() }

func (s *stackService) Status() types.StatusResponse { return s.mgr.Status() }

func (s *stackService) ModelInfo() types.ModelInfoResponse {
	info := s.info
	if info.Backend == "" {
		info.Backend = s.mgr.Backend()
	}
	if info.ModelPath == "" {
		info.ModelPath = s.mgr.Args().Model
	}
	return info
}

func (s *stackService) Process(ctx context.Context, data []byte, filename string, req ocr.Request) (types.OCRResponse, error) {
	return s.ocr.Process(ctx, data, filename, req)
}
