package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mileusna/useragent"
)

// fingerprintHeaders is the fixed, ordered header set hashed into the device
// fingerprint. Order matters: changing it invalidates every embedded claim.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Accept",
}

// Fingerprint hashes a fixed set of stable request headers into a device
// identity signal. Distinct clients with identical browser, OS and locale
// configurations collide, so this is a weak secondary signal only, never a
// primary authorization control.
func Fingerprint(headers http.Header) string {
	var b strings.Builder
	for i, name := range fingerprintHeaders {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(headers.Get(name))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// clientMetadata extracts parsed user-agent details for audit events.
func clientMetadata(req Request) map[string]string {
	metadata := make(map[string]string)

	rawUA := req.Headers.Get("User-Agent")
	if rawUA == "" {
		return metadata
	}

	ua := useragent.Parse(rawUA)
	if ua.Name != "" {
		metadata["client_browser"] = ua.Name
	}
	if ua.Version != "" {
		metadata["client_browser_version"] = ua.Version
	}
	if ua.OS != "" {
		metadata["client_os"] = ua.OS
	}
	if ua.Bot {
		metadata["client_bot"] = "true"
	}

	return metadata
}
