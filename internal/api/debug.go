package api

import (
	"net/http"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"

	"ecoroute/internal/buildinfo"
	"ecoroute/internal/config"
)

// DebugJSON reports build info and the effective configuration with
// credentials removed.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg, err := redactedConfig(s.Config)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Config unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": cfg,
	})
}

// redactedConfig round-trips through YAML so keys and durations match the
// config file format.
func redactedConfig(c config.Config) (map[string]any, error) {
	c.Catalog.DSN = redactURL(c.Catalog.DSN)
	c.Events.RedisURL = redactURL(c.Events.RedisURL)
	if c.Webhooks.Secret != "" {
		c.Webhooks.Secret = "redacted"
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// redactURL strips the password from URL-shaped values and hides anything
// else that is not empty.
func redactURL(v string) string {
	if v == "" {
		return ""
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" {
		return "redacted"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
