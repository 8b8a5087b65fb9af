package auth

// Known OAuth scopes used by the backend services.
const (
	ScopeCasesRead         = "cases:read"
	ScopeCasesWrite        = "cases:write"
	ScopeSchedulerCallback = "scheduler:callback"
)
