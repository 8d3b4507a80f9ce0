package telemetry

// Config selects the trace backend and sampling for the pipeline.
type Config struct {
	// Enabled turns span export on. Off, every span helper is a no-op.
	Enabled bool

	// ServiceName is reported to the trace backend, normally "iwplogd".
	ServiceName string

	// ServiceVersion is reported alongside the service name.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces kept, 0 through 1.
	SampleRate float64
}

// DefaultConfig returns the values used when the config file carries no
// telemetry section: tracing off, local collector, sample everything.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "iwplogd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
