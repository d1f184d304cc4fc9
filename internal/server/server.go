package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tasktracker/internal/engine"
	"tasktracker/internal/events"
	"tasktracker/internal/migrate"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
	// Metrics is created when nil.
	Metrics *Metrics
}

// New returns an HTTP handler exposing the task tracker API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Auth.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	basePath := normalizeBasePath(cfg.BasePath)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	installErrorEnvelope()

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(metrics.Middleware(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, logger))

	hcfg := huma.DefaultConfig("Task Tracker API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	v0 := huma.NewGroup(api, basePath)

	registerHealth(v0, cfg.Engine)
	registerAuth(v0, cfg.Engine, cfg.Auth, basePath)
	registerMe(v0, cfg.Engine)
	registerTasks(v0, cfg.Engine, basePath)
	registerLabels(v0, cfg.Engine)
	registerWorkers(v0, cfg.Engine)
	registerProjects(v0, cfg.Engine)
	registerEvents(v0, cfg.Engine)

	registerMetrics(router, metrics)
	registerDocs(router, api, basePath, cfg.Auth.cookieName())
	return router, nil
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/v0"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

// registerDocs serves the decorated OpenAPI document under the base path and
// a Swagger UI page at /docs.
func registerDocs(r chi.Router, api huma.API, basePath, cookieName string) {
	specURL := path.Join(basePath, "openapi.json")
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(specURL, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, publicPaths(basePath), cookieName)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	page := swaggerPage(specURL)
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})
}

// decorateOpenAPI declares the three credential schemes and gives every
// operation the shared error response. Public routes get empty security.
func decorateOpenAPI(oas *huma.OpenAPI, public map[string]bool, cookieName string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	schemes := oas.Components.SecuritySchemes
	schemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	schemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	schemes["cookieAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "cookie", Name: cookieName}

	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}, {"cookieAuth": {}}}
	oas.Security = security
	errSchema := &huma.Schema{Type: huma.TypeObject}
	if oas.Components.Schemas != nil {
		errSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	errResponse := &huma.Response{
		Description: "Error envelope",
		Content:     map[string]*huma.MediaType{"application/json": {Schema: errSchema}},
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errResponse
			if public[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = security
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Patch, item.Delete, item.Head, item.Options, item.Trace} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func swaggerPage(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <title>Task Tracker API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
  <div id="ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
  <script>
    SwaggerUIBundle({url: %q, dom_id: "#ui", withCredentials: true});
  </script>
</body>
</html>`, specURL)
}

type healthBody struct {
	Status        string `json:"status" example:"ok"`
	SchemaVersion int    `json:"schema_version"`
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Store readiness and schema version",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body healthBody `json:"body"`
	}, error) {
		version, err := migrate.Version(ctx, e.DB)
		if err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "store_unavailable", err.Error(), nil)
		}
		return &struct {
			Body healthBody `json:"body"`
		}{Body: healthBody{Status: "ok", SchemaVersion: version}}, nil
	})
}

type eventsInput struct {
	EntityKind string `query:"entity_kind" enum:"task,worker,project,task_type,position,team,api_key"`
	EntityID   int64  `query:"entity_id"`
	Limit      int    `query:"limit" default:"50" doc:"1 to 500"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit events, latest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *eventsInput) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.Events.List(ctx, events.Filter{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := eventList{Items: make([]EventResponse, 0, len(items))}
		for _, evt := range items {
			out.Items = append(out.Items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current worker",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkerDetailResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetWorkerDetail(ctx, p.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerDetailResponse `json:"body"`
		}{Body: workerDetailResponse(d)}, nil
	})
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 500:
		return 500
	}
	return in
}
