package models

// User roles. Role checks happen in middleware.RequireRole and services.Authorizer.
const (
	RoleFreelancer = "freelancer"
	RoleClient     = "client"
	RoleAdmin      = "admin"
)

// Job status enums from the job catalog.
const (
	JobStatusOpen   = "open"
	JobStatusFilled = "filled"
	JobStatusClosed = "closed"
)
