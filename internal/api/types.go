package api

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Provider       string `json:"provider"`
	ActiveSessions int    `json:"active_sessions"`
}
