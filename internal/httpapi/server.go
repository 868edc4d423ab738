package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocrd/internal/manager"
	"ocrd/internal/ocr"
	"ocrd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	Status() types.StatusResponse
	ModelInfo() types.ModelInfoResponse
	Process(ctx context.Context, data []byte, filename string, req ocr.Request) (types.OCRResponse, error)
}

// multipartMemory is the in-memory budget for multipart parsing; larger
// parts spill to temporary files.
const multipartMemory = 32 << 20

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ServiceInfo{
			Service:   "DeepSeek-OCR API",
			Version:   serviceVersion,
			Status:    "running",
			Docs:      "/docs",
			Health:    "/health",
			ModelInfo: "/models",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := types.HealthResponse{Status: "initializing", Message: "Model is still loading, please wait"}
		if svc.Ready() {
			resp = types.HealthResponse{Status: "healthy", ModelLoaded: true, Message: "Service is ready to process requests"}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ModelInfo())
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/api/v1/ocr", ocrHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// ocrHandler godoc
// @Summary      Run OCR on an uploaded image
// @Description  Accepts a multipart upload and returns the recognized text.
// @Tags         ocr
// @Accept       multipart/form-data
// @Produce      json
// @Param        file             formData  file    true   "Image file"
// @Param        type             formData  string  false  "document or image"
// @Param        custom_prompt    formData  string  false  "Prompt override"
// @Param        crop_mode        formData  bool    false  "Keep native resolution (default true)"
// @Param        temperature      formData  number  false  "Sampling temperature"
// @Param        max_tokens       formData  int     false  "Token limit"
// @Param        include_raw      formData  bool    false  "Include the raw model output"
// @Param        save_image_refs  formData  bool    false  "Replace image regions with markdown references (default false)"
// @Param        render_html      formData  bool    false  "Render the result as HTML"
// @Success      200  {object}  types.OCRResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /api/v1/ocr [post]
func ocrHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		lvl := requestLogLevel(r)
		end := func(status int, err error) {
			if zlog == nil || lvl == LevelOff || (lvl == LevelError && err == nil) {
				return
			}
			z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
			if rid != "" {
				z = z.Str("request_id", rid)
			}
			if err != nil {
				z = z.Err(err)
			}
			z.Msg("ocr end")
		}

		if !svc.Ready() {
			end(writeError(w, manager.ErrEngineNotReady), nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			if isBodyTooLarge(err) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "File too large",
					map[string]any{"limit_bytes": maxBodyBytes})
				end(http.StatusRequestEntityTooLarge, err)
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid multipart form", map[string]any{"reason": err.Error()})
			end(http.StatusBadRequest, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "file is required", map[string]any{"field": "file"})
			end(http.StatusBadRequest, err)
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read upload", map[string]any{"reason": err.Error()})
			end(http.StatusBadRequest, err)
			return
		}

		req, ferr := parseOCRForm(r)
		if ferr != nil {
			end(writeError(w, ferr), ferr)
			return
		}

		if lvl >= LevelInfo && zlog != nil {
			zlog.Info().
				Str("path", r.URL.Path).
				Str("request_id", rid).
				Str("filename", header.Filename).
				Int("bytes", len(data)).
				Str("type", string(req.Type)).
				Msg("ocr start")
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if requestTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(requestTimeout)*time.Second)
			defer tcancel()
		}

		resp, err := svc.Process(ctx, data, header.Filename, req)
		if err != nil {
			// Client went away; nothing to write.
			if r.Context().Err() != nil {
				end(499, err)
				return
			}
			end(writeError(w, err), err)
			return
		}
		resp.RequestID = rid
		if lvl >= LevelDebug {
			lw := &resultLineWriter{rid: rid}
			_, _ = io.WriteString(lw, resp.Text)
			lw.Flush()
		}
		writeJSON(w, http.StatusOK, resp)
		end(http.StatusOK, nil)
	}
}

// parseOCRForm reads the optional form fields of an OCR upload.
func parseOCRForm(r *http.Request) (ocr.Request, error) {
	req := ocr.NewRequest()
	if v := strings.TrimSpace(r.FormValue("type")); v != "" {
		req.Type = ocr.Type(strings.ToLower(v))
	}
	req.CustomPrompt = r.FormValue("custom_prompt")

	var err error
	if req.CropMode, err = formBool(r, "crop_mode", req.CropMode); err != nil {
		return req, err
	}
	if req.IncludeRaw, err = formBool(r, "include_raw", req.IncludeRaw); err != nil {
		return req, err
	}
	if req.SaveImageRefs, err = formBool(r, "save_image_refs", req.SaveImageRefs); err != nil {
		return req, err
	}
	if req.RenderHTML, err = formBool(r, "render_html", req.RenderHTML); err != nil {
		return req, err
	}
	if v := strings.TrimSpace(r.FormValue("temperature")); v != "" {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return req, &ocr.ValidationError{Field: "temperature", Reason: "must be a number"}
		}
		req.Temperature = &f
	}
	if v := strings.TrimSpace(r.FormValue("max_tokens")); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return req, &ocr.ValidationError{Field: "max_tokens", Reason: "must be an integer"}
		}
		req.MaxTokens = &n
	}
	return req, nil
}

// isBodyTooLarge reports whether err came from the MaxBytesReader. Some
// multipart paths flatten the error, so the message is checked as well.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func formBool(r *http.Request, field string, def bool) (bool, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def, &ocr.ValidationError{Field: field, Reason: "must be a boolean"}
	}
	return b, nil
}

func corsOptions() cors.Options {
	origins := corsAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		MaxAge:         300,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}
