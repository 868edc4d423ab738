package httpapi

// maxBodyBytes bounds the multipart upload body. It should exceed the image
// size limit so oversized files reach the image validator and get a 413 with
// details instead of a truncated read.
var maxBodyBytes int64 = 11 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 11 << 20
		return
	}
	maxBodyBytes = n
}

// requestTimeout controls the maximum duration an OCR request may run before timing out.
// Zero means no additional timeout beyond server/connection timeouts.
var requestTimeout = int64(0) // seconds

// SetRequestTimeoutSeconds sets the OCR request timeout in seconds (0 disables).
func SetRequestTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	requestTimeout = sec
}

// serviceVersion is reported by GET /.
var serviceVersion = "dev"

// SetVersion sets the version string reported by GET /.
func SetVersion(v string) {
	if v == "" {
		v = "dev"
	}
	serviceVersion = v
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
