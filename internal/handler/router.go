package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	documentHandler "github.com/laborare/docchat/internal/handler/document"
	sessionHandler "github.com/laborare/docchat/internal/handler/session"
	streamHandler "github.com/laborare/docchat/internal/handler/stream"
	"github.com/laborare/docchat/internal/middleware"
	"github.com/laborare/docchat/internal/service/ai"
	relayService "github.com/laborare/docchat/internal/service/relay"
	sessionService "github.com/laborare/docchat/internal/service/session"
	"github.com/laborare/docchat/pkg/utils"
)

// NewRouter wires HTTP routes to core services. A nil aiClient disables
// the document and Q&A surfaces but keeps session management available.
func NewRouter(aiClient *ai.Client, sessions *sessionService.Service, relay *relayService.Service, maxFileSizeMB int64, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.New(sessions, logger).RegisterRoutes(api)

		if aiClient != nil {
			documentHandler.New(aiClient, maxFileSizeMB, logger).RegisterRoutes(api)
		}
		if relay != nil {
			streamHandler.New(relay, logger).RegisterRoutes(api)
		}

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":       "healthy",
				"aiConfigured": aiClient != nil,
			})
		})
	})

	return r
}
