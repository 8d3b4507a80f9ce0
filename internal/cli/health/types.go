// Package health provides shared types for admin health check responses.
package health

// Response mirrors the GET /healthz body served by the admin listener.
type Response struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Healthy reports whether the response indicates a serving process.
func (r Response) Healthy() bool {
	return r.Status == "ok"
}
