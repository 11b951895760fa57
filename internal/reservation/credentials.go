package reservation

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/page"
)

// Cookie defaults applied when an exported cookie omits them.
const (
	DefaultCookieDomain = ".dish.co"
	DefaultCookiePath   = "/"
)

// Credentials are the account secrets used when no valid session exists.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no secret was supplied.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Validate requires both secrets or neither.
func (c Credentials) Validate() error {
	if (c.Username == "") != (c.Password == "") {
		return failure.Newf(failure.KindConfiguration, "both username and password must be set")
	}
	return nil
}

type cookieJSON struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   *bool   `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	SameSite string  `json:"sameSite"`
	Expires  float64 `json:"expires"`
}

// DecodeCookies parses exported session cookies. raw is either a JSON array
// or its base64 encoding. Missing attributes default to domain .dish.co,
// path /, secure and SameSite Lax.
func DecodeCookies(raw string) ([]page.Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && bytes.HasPrefix(bytes.TrimSpace(decoded), []byte("[")) {
		data = decoded
	}

	var in []cookieJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, failure.Newf(failure.KindConfiguration, "session cookies are neither base64 nor a JSON array: %w", err)
	}

	out := make([]page.Cookie, 0, len(in))
	for i, c := range in {
		if c.Name == "" {
			return nil, failure.Newf(failure.KindConfiguration, "session cookie %d has no name", i)
		}
		pc := page.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   true,
			HTTPOnly: c.HTTPOnly,
			SameSite: normalizeSameSite(c.SameSite),
			Expires:  c.Expires,
		}
		if pc.Domain == "" {
			pc.Domain = DefaultCookieDomain
		}
		if pc.Path == "" {
			pc.Path = DefaultCookiePath
		}
		if c.Secure != nil {
			pc.Secure = *c.Secure
		}
		out = append(out, pc)
	}
	return out, nil
}

func normalizeSameSite(s string) string {
	switch strings.ToLower(s) {
	case "strict":
		return "Strict"
	case "none", "no_restriction":
		return "None"
	default:
		return "Lax"
	}
}
