// internal/controller/router.go
package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unclebandit/campaign-dispatcher/internal/handler"
)

// Routes bundles everything the HTTP surface needs.
type Routes struct {
	Dispatch       *DispatchController
	Campaigns      *CampaignController
	CampaignStats  *handler.CampaignHandler
	AllowedOrigins []string
}

func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := rt.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", Health)

	r.Route("/api/email-campaigns", func(r chi.Router) {
		r.Post("/process-scheduled", rt.Dispatch.ProcessScheduled)
		r.Get("/process-scheduled", rt.Dispatch.ProcessorStatus)

		r.Group(func(r chi.Router) {
			r.Use(rt.Dispatch.Auth.RequireBearer)
			r.Get("/", rt.Campaigns.ListCampaigns)
			r.Get("/{id}", rt.CampaignStats.GetCampaignHandlerWithStats)
			r.Post("/{id}/preview", rt.Campaigns.PersonalizedPreview)
		})
	})

	return r
}
