package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campaignengine/internal/middleware"
)

// NewRouter wires every API route
func NewRouter(campaigns *CampaignHandler, segments *SegmentHandler, health *HealthHandler, log *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Instrument)

	router.HandleFunc("/health", health.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Registered before the {id} routes
	router.HandleFunc("/campaigns/delivery-receipt", campaigns.DeliveryReceipt).Methods(http.MethodPost)

	router.HandleFunc("/campaigns", campaigns.Create).Methods(http.MethodPost)
	router.HandleFunc("/campaigns", campaigns.List).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id:[0-9]+}", campaigns.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id:[0-9]+}", campaigns.Update).Methods(http.MethodPut)
	router.HandleFunc("/campaigns/{id:[0-9]+}", campaigns.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/campaigns/{id:[0-9]+}/activate", campaigns.Activate).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id:[0-9]+}/stop", campaigns.Stop).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id:[0-9]+}/customers", campaigns.Customers).Methods(http.MethodGet)

	router.HandleFunc("/segments/preview", segments.Preview).Methods(http.MethodPost)

	return router
}
