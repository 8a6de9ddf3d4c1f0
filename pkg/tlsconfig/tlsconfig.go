// Package tlsconfig provides small helpers for describing negotiated TLS
// parameters back to a caller (get_ssl_cipher / get_ssl_peercert).
package tlsconfig

import "crypto/tls"

// VersionName returns a human-readable name for a TLS version identifier.
func VersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}

// CipherSuiteName returns a human-readable name for a cipher suite
// identifier, delegating to the standard library's own table where
// possible and falling back for suites it does not know.
func CipherSuiteName(suite uint16) string {
	for _, s := range tls.CipherSuites() {
		if s.ID == suite {
			return s.Name
		}
	}
	for _, s := range tls.InsecureCipherSuites() {
		if s.ID == suite {
			return s.Name
		}
	}
	return "unknown"
}
