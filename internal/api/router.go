package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Reviewer-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/bids", apiHandler.ListBidsHandler)
			r.Route("/bids/{bidID}", func(r chi.Router) {
				r.Route("/evaluation", func(r chi.Router) {
					r.Get("/", apiHandler.GetEvaluationHandler)
					r.Get("/document", apiHandler.GetDocumentHandler)
					r.Put("/cursor", apiHandler.UpdateCursorHandler)
					r.Post("/initialize", apiHandler.InitializeHandler)
					r.Put("/cells/{cellKey}", apiHandler.EditCellHandler)
					r.Put("/approvals", apiHandler.ApprovalHandler)
					r.Put("/combined/{fieldKey}", apiHandler.EditCombinedHandler)
					r.Put("/multipliers/{year}", apiHandler.EditMultiplierHandler)
					r.Post("/bookmarks", apiHandler.BookmarkHandler)
					r.Post("/queries", apiHandler.QueryHandler)
					r.Post("/save", apiHandler.SaveHandler)
					r.Post("/reset", apiHandler.ResetHandler)
					r.Get("/export", apiHandler.ExportHandler)
				})

				r.Get("/pages", apiHandler.PageCountHandler)
				r.Get("/pages/{page}", apiHandler.PageHandler)
			})
		})
	})

	return r
}
