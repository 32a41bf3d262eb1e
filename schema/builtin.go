package schema

import "embed"

//go:embed schemas
var builtinFS embed.FS

// WithBuiltin registers the embedded OCPP 1.6 core profile schemas under
// DefaultVersion.
func WithBuiltin() Option {
	return WithFS(DefaultVersion, builtinFS, "schemas/ocpp1.6")
}
