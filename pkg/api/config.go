package api

import "time"

// APIConfig configures the HTTP server carrying the REST API and the
// websocket upgrade endpoint.
type APIConfig struct {
	// Port is the HTTP port. Honors the PORT environment variable.
	// Default: 3000
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// CORSOrigins is the comma-separated allowlist from CORS_ORIGINS.
	// Empty means allow any origin (development default).
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`

	// ReadTimeout bounds reading the entire request including the body.
	// Zero (the default) disables it: uploads run to 500 MiB and must not
	// be cut off mid-stream.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Zero (the default) disables it;
	// the websocket endpoint hijacks its connection and large media
	// responses stream for longer than any sane fixed limit.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 3000
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
