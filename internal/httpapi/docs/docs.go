// Package docs registers the OpenAPI document served under /docs.
// Regenerate with `make swagger-gen` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "ocrd maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/ocr": {
            "post": {
                "description": "Accepts a multipart upload and returns the recognized text.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["ocr"],
                "summary": "Run OCR on an uploaded image",
                "parameters": [
                    {"type": "file", "description": "Image file", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "document or image", "name": "type", "in": "formData"},
                    {"type": "string", "description": "Prompt override", "name": "custom_prompt", "in": "formData"},
                    {"type": "boolean", "description": "Keep native resolution (default true)", "name": "crop_mode", "in": "formData"},
                    {"type": "number", "description": "Sampling temperature", "name": "temperature", "in": "formData"},
                    {"type": "integer", "description": "Token limit", "name": "max_tokens", "in": "formData"},
                    {"type": "boolean", "description": "Include the raw model output", "name": "include_raw", "in": "formData"},
                    {"type": "boolean", "description": "Replace image regions with markdown references (default false)", "name": "save_image_refs", "in": "formData"},
                    {"type": "boolean", "description": "Render the result as HTML", "name": "render_html", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OCRResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["service"],
                "summary": "Service health",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}}
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["service"],
                "summary": "Loaded model description",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelInfoResponse"}}}
            }
        }
    },
    "definitions": {
        "types.OCRResponse": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "raw": {"type": "string"},
                "html": {"type": "string"},
                "processing_time": {"type": "number"},
                "prompt_used": {"type": "string"},
                "request_id": {"type": "string"},
                "cached": {"type": "boolean"},
                "image_width": {"type": "integer"},
                "image_height": {"type": "integer"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "object"},
                "status_code": {"type": "integer"}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "model_loaded": {"type": "boolean"},
                "message": {"type": "string"}
            }
        },
        "types.ModelInfoResponse": {
            "type": "object",
            "properties": {
                "model_path": {"type": "string"},
                "model_type": {"type": "string"},
                "max_tokens": {"type": "integer"},
                "gpu_memory_utilization": {"type": "number"},
                "backend": {"type": "string"},
                "architectures": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "DeepSeek-OCR API",
	Description:      "HTTP API for OCR over an inference engine.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
