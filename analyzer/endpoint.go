package analyzer

import (
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is a discovered remote service location.
type Endpoint struct {
	Host string
	Port int
	// APIRoot is the versioned API prefix, e.g. "/api/v2".
	APIRoot string
}

// IsZero reports whether e is unset.
func (e Endpoint) IsZero() bool { return e.Host == "" }

// BaseURL returns "http://host:port".
func (e Endpoint) BaseURL() string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the absolute URL of path below the API root with the given query.
func (e Endpoint) URL(path string, query url.Values) string {
	u := e.BaseURL() + e.APIRoot + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return u
}

func (e Endpoint) String() string { return e.BaseURL() + e.APIRoot }

// Identity is the decoded identification document.
type Identity struct {
	// Family is the product family, e.g. "X-550".
	Family string
	// Apps lists the analysis modes, e.g. "Mining" and "Soil".
	Apps []string
	Raw  json.RawMessage
}

// HasApp reports whether mode is one of the analyzer's modes, ignoring case.
func (id Identity) HasApp(mode string) bool {
	for _, a := range id.Apps {
		if strings.EqualFold(a, mode) {
			return true
		}
	}

	return false
}

// parseIdentity accepts a JSON object that carries a "family" or an "apps" field.
func parseIdentity(body []byte) (Identity, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return Identity{}, false
	}

	rawFamily, hasFamily := doc["family"]
	rawApps, hasApps := doc["apps"]
	if !hasFamily && !hasApps {
		return Identity{}, false
	}

	id := Identity{Raw: append(json.RawMessage(nil), body...)}
	if hasFamily {
		_ = json.Unmarshal(rawFamily, &id.Family)
	}
	if hasApps {
		_ = json.Unmarshal(rawApps, &id.Apps)
	}

	return id, true
}
