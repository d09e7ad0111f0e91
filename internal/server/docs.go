package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
)

// setupDocsRoutes serves the gateway's OpenAPI document and a Swagger
// UI page, grounded on the teacher's internal/server/swagger.go
// setupSwaggerRoutes/handleOpenAPISpec/handleSwaggerUI routes, but
// loaded and validated through kin-openapi's loader instead of a bare
// yaml.v2 Unmarshal-then-reserialize (see DESIGN.md "Dropped teacher
// dependencies" for gopkg.in/yaml.v2).
func (s *Server) setupDocsRoutes(r *mux.Router) {
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPISpec).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)
	r.HandleFunc("/docs/", s.handleSwaggerUI).Methods(http.MethodGet)
}

// handleOpenAPISpec loads and validates the gateway's OpenAPI document
// from cfg.OpenAPIPath, then serves it as JSON.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(s.cfg.OpenAPIPath)
	if err != nil {
		http.Error(w, "OpenAPI spec not found", http.StatusNotFound)
		return
	}
	if err := doc.Validate(loader.Context); err != nil {
		http.Error(w, fmt.Sprintf("OpenAPI spec is invalid: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// handleSwaggerUI serves a minimal Swagger UI page pointed at
// /docs/openapi.json, the same CDN-bundle approach as the teacher's
// serveSwaggerIndex.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(swaggerIndexHTML))
}

const swaggerIndexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Gateway API Documentation</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
<style>body { margin: 0; } .swagger-ui .topbar { display: none; }</style>
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
<script>
window.onload = function() {
  SwaggerUIBundle({
    url: '/docs/openapi.json',
    dom_id: '#swagger-ui',
    deepLinking: true,
    presets: [SwaggerUIBundle.presets.apis],
  });
};
</script>
</body>
</html>`
