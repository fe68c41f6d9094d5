package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full route table. The emergency gate wraps everything,
// including /health and /metrics: while tripped the process serves nothing.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.EmergencyGate)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	auth := r.PathPrefix("/api/v1/auth").Subrouter()
	auth.HandleFunc("/signup", h.Signup).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/refresh", h.Refresh).Methods("POST")
	auth.HandleFunc("/logout", h.Logout).Methods("POST")

	authed := r.PathPrefix("/api/v1").Subrouter()
	authed.Use(h.AuthMiddleware)
	authed.HandleFunc("/auth/password", h.ChangePassword).Methods("POST")
	authed.HandleFunc("/auth/my-profile", h.MyProfile).Methods("GET")
	authed.HandleFunc("/user/balance", h.GetBalance).Methods("GET")
	authed.HandleFunc("/user/fullname", h.UpdateFullName).Methods("PATCH")
	authed.HandleFunc("/user/bulk", h.SearchUsers).Methods("GET")
	authed.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	authed.HandleFunc("/payments", h.ListPayments).Methods("GET")
	authed.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")

	return r
}
