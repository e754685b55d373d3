package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the sidecar's
// small admission/accounting surface.
func OpenAPISpec() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "claude-auditlimit",
			"description": "Device-count and token-quota admission sidecar",
			"version":     "1.0.0",
		},
		"paths": map[string]interface{}{
			"/audit_limit": map[string]interface{}{
				"get":  auditLimitOp(),
				"post": auditLimitOp(),
			},
			"/response_notify": map[string]interface{}{
				"post": simpleOp("Accounts for response tokens"),
			},
			"/document_notify": map[string]interface{}{
				"post": simpleOp("No-op document accounting callback"),
			},
			"/token_stats":       map[string]interface{}{"get": simpleOp("Per-key rolling-window usage")},
			"/devices":           map[string]interface{}{"get": simpleOp("List devices for the calling key")},
			"/logout":            map[string]interface{}{"get": simpleOp("Remove the calling device")},
			"/all_token_devices": map[string]interface{}{"get": simpleOp("List devices for every key")},
			"/all_token_usage":   map[string]interface{}{"get": simpleOp("Per-conversation usage for every key")},
		},
		"security": []map[string]interface{}{{"BearerAuth": []string{}}},
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"BearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer"},
			},
		},
	}
}

func auditLimitOp() map[string]interface{} {
	return map[string]interface{}{
		"summary": "Admit or deny a request, accounting tokens on allow",
		"responses": map[string]interface{}{
			"200": map[string]interface{}{"description": "Admitted"},
			"403": map[string]interface{}{"description": "Device cap exceeded"},
			"429": map[string]interface{}{"description": "Quota exceeded"},
		},
	}
}

func simpleOp(summary string) map[string]interface{} {
	return map[string]interface{}{
		"summary":   summary,
		"responses": map[string]interface{}{"200": map[string]interface{}{"description": "OK"}},
	}
}

// OpenAPIHandler serves the spec as JSON.
func OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(OpenAPISpec())
}

// DocsHandler serves a minimal Swagger UI page pointed at /openapi.json.
func DocsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>claude-auditlimit docs</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
<script>window.onload = () => SwaggerUIBundle({url: "/openapi.json", dom_id: "#swagger-ui"});</script>
</body>
</html>`)
}
