package router

import (
	"net/http"

	"github.com/honeyhive/backend/internal/auth"
	"github.com/honeyhive/backend/internal/dashboard"
	"github.com/honeyhive/backend/internal/handlers"
	"github.com/honeyhive/backend/internal/jobs"
	"github.com/honeyhive/backend/internal/middleware"
	"github.com/honeyhive/backend/internal/models"
)

const base = "/api/v1"

// New returns an http.Handler that serves the API under /api/v1. Everything
// except register and login needs a valid bearer token; role checks here are
// coarse and the coordinator still authorizes each application.
func New(
	authHandler *auth.Handler,
	jobsHandler *jobs.Handler,
	appHandler *handlers.ApplicationHandler,
	dashHandler *dashboard.Handler,
	tokens middleware.TokenValidator,
) http.Handler {
	mux := http.NewServeMux()
	authed := middleware.Authenticate(tokens)
	route := func(pattern string, h http.HandlerFunc, roles ...string) {
		var next http.Handler = h
		if len(roles) > 0 {
			next = middleware.RequireRole(roles...)(next)
		}
		mux.Handle(pattern, authed(next))
	}

	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	route("POST "+base+"/jobs", jobsHandler.CreateJob, models.RoleClient)
	route("GET "+base+"/jobs", jobsHandler.ListJobs)
	route("GET "+base+"/jobs/{id}", jobsHandler.GetJob)

	route("POST "+base+"/applications/preview", appHandler.Preview, models.RoleFreelancer)
	route("POST "+base+"/applications", appHandler.Submit, models.RoleFreelancer)
	route("POST "+base+"/applications/{id}/accept", appHandler.Accept, models.RoleClient)
	route("POST "+base+"/applications/{id}/reject", appHandler.Reject, models.RoleClient, models.RoleAdmin)
	route("POST "+base+"/applications/{id}/withdraw", appHandler.Withdraw, models.RoleFreelancer)
	route("GET "+base+"/applications", appHandler.ListMine, models.RoleFreelancer)
	route("GET "+base+"/applications/{id}", appHandler.GetApplication)

	route("GET "+base+"/balance", dashHandler.GetBalance)
	route("GET "+base+"/ledger", dashHandler.ListLedger)
	route("POST "+base+"/admin/balances/{user_id}/credit", dashHandler.CreditBalance, models.RoleAdmin)

	return mux
}
