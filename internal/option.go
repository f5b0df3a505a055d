package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

// Admin surfaces.
const (
	SurfaceHTTP = "http"
	SurfaceMCP  = "mcp"
)

type application struct {
	config    *Config
	surface   string
	version   string
	logOutput io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMCP serves the admin tools over stdio instead of HTTP. Logs move to
// w, since stdout carries the protocol.
func WithMCP(w io.Writer) Option {
	return func(a *application) {
		a.surface = SurfaceMCP
		a.logOutput = w
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
