package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr   string   `yaml:"server_addr"`
	TrustProxy   bool     `yaml:"trust_proxy"`
	DNTRespect   bool     `yaml:"dnt_respect"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"` // bytes for /collect payload
	Outputs      []string `yaml:"outputs"`        // enabled sinks: log, kafka, postgres
	TestMode     bool     `yaml:"test_mode"`

	EnableHTTPS bool   `yaml:"enable_https"`
	SSLCertFile string `yaml:"ssl_cert_file"`
	SSLKeyFile  string `yaml:"ssl_key_file"`

	// Middleware mode proxies unknown paths to ForwardDestination.
	MiddlewareMode     bool   `yaml:"middleware_mode"`
	ForwardDestination string `yaml:"forward_destination"`
	InjectTracker      bool   `yaml:"inject_tracker"`
	ImageTracking      bool   `yaml:"image_tracking"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	Matomo  Matomo  `yaml:"matomo"`
	Cookies Cookies `yaml:"cookies"`
}

// Matomo locates the Matomo instance requests are sent to.
type Matomo struct {
	URL       string        `yaml:"url"` // e.g. https://analytics.example.com
	SiteID    int           `yaml:"site_id"`
	AuthToken string        `yaml:"auth_token"`
	Proxy     string        `yaml:"proxy"`
	Timeout   time.Duration `yaml:"timeout"`
	// SendClientIP forwards the visitor IP as cip; needs AuthToken.
	SendClientIP bool `yaml:"send_client_ip"`
}

// Cookies configures the first-party tracking cookies written by /collect.
type Cookies struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Path     string `yaml:"path"`
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"http_only"`
	SameSite string `yaml:"same_site"` // lax, strict, none
	Prefix   string `yaml:"prefix"`
}

// TrackingEndpoint is the absolute matomo.php URL.
func (m Matomo) TrackingEndpoint() string {
	return strings.TrimSuffix(m.URL, "/") + "/matomo.php"
}

// ReportingEndpoint is the absolute index.php URL.
func (m Matomo) ReportingEndpoint() string {
	return strings.TrimSuffix(m.URL, "/") + "/index.php"
}

// Host is the Matomo URL without scheme, as the JavaScript tracker wants it.
func (m Matomo) Host() string {
	u, err := url.Parse(m.URL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(m.URL, "/")
	}
	return strings.TrimSuffix(u.Host+u.Path, "/")
}

// SameSiteMode maps SameSite to its net/http value.
func (c Cookies) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	}
	return http.SameSiteDefaultMode
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		ServerAddr:   ":19890",
		DNTRespect:   true,
		MaxBodyBytes: 1 << 20, // 1 MiB
		Outputs:      []string{"log"},
		Matomo: Matomo{
			SiteID:  1,
			Timeout: 10 * time.Second,
		},
		Cookies: Cookies{
			Path:     "/",
			SameSite: "lax",
			Prefix:   "_pk_",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE when set, then environment variables.
func Load() (Config, error) {
	c := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, &c); err != nil {
			return c, err
		}
	}
	applyEnv(&c)
	return c, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current value.
func LoadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.ServerAddr = getOr("SERVER_ADDR", c.ServerAddr)
	c.TrustProxy = getBool("TRUST_PROXY", c.TrustProxy)
	c.DNTRespect = getBool("DNT_RESPECT", c.DNTRespect)
	c.MaxBodyBytes = getInt64("MAX_BODY_BYTES", c.MaxBodyBytes)
	c.Outputs = getStringSlice("OUTPUTS", strings.Join(c.Outputs, ","))
	c.TestMode = getBool("TEST_MODE", c.TestMode)

	c.EnableHTTPS = getBool("ENABLE_HTTPS", c.EnableHTTPS)
	c.SSLCertFile = getOr("SSL_CERT_FILE", c.SSLCertFile)
	c.SSLKeyFile = getOr("SSL_KEY_FILE", c.SSLKeyFile)

	c.MiddlewareMode = getBool("MIDDLEWARE_MODE", c.MiddlewareMode)
	c.ForwardDestination = getOr("FORWARD_DESTINATION", c.ForwardDestination)
	c.InjectTracker = getBool("INJECT_TRACKER", c.InjectTracker)
	c.ImageTracking = getBool("IMAGE_TRACKING", c.ImageTracking)

	c.MetricsEnabled = getBool("METRICS_ENABLED", c.MetricsEnabled)

	c.Matomo.URL = getOr("MATOMO_URL", c.Matomo.URL)
	c.Matomo.SiteID = int(getInt64("MATOMO_SITE_ID", int64(c.Matomo.SiteID)))
	c.Matomo.AuthToken = getOr("MATOMO_AUTH_TOKEN", c.Matomo.AuthToken)
	c.Matomo.Proxy = getOr("MATOMO_PROXY", c.Matomo.Proxy)
	c.Matomo.Timeout = getDuration("MATOMO_TIMEOUT", c.Matomo.Timeout)
	c.Matomo.SendClientIP = getBool("MATOMO_SEND_CLIENT_IP", c.Matomo.SendClientIP)

	c.Cookies.Enabled = getBool("COOKIES_ENABLED", c.Cookies.Enabled)
	c.Cookies.Domain = getOr("COOKIE_DOMAIN", c.Cookies.Domain)
	c.Cookies.Path = getOr("COOKIE_PATH", c.Cookies.Path)
	c.Cookies.Secure = getBool("COOKIE_SECURE", c.Cookies.Secure)
	c.Cookies.HTTPOnly = getBool("COOKIE_HTTP_ONLY", c.Cookies.HTTPOnly)
	c.Cookies.SameSite = getOr("COOKIE_SAME_SITE", c.Cookies.SameSite)
	c.Cookies.Prefix = getOr("COOKIE_PREFIX", c.Cookies.Prefix)
}
