// Package config loads the service configuration from a .env file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Store backends.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config is the complete service configuration.
type Config struct {
	MongoURI string
	MongoDB  string
	Store    string

	JWTSecret       string
	JWTKeys         map[string]string
	JWTActiveKid    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	HTTPAddr       string
	GRPCAddr       string
	RedisURL       string
	NodeID         string
	RateLimitRPM   int
	AllowedOrigins []string
	InviteURL      string
	StorageURL     string

	TLSCert    string
	TLSKey     string
	RequireTLS bool

	LogLevel  string
	LogFormat string
}

// Load reads .env (when present) and the environment, then applies flags
// from args. args excludes the program name.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(args, os.Getenv)
}

func parse(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	hostname, _ := os.Hostname()

	var (
		c        Config
		jwtKeys  string
		origins  string
		rpm      string
		access   string
		refresh  string
		reqTLS   string
		settings = pflag.NewFlagSet("realtyhub", pflag.ContinueOnError)
	)
	settings.StringVar(&c.MongoURI, "mongodb-uri", env("MONGODB_URI", ""), "MongoDB connection string")
	settings.StringVar(&c.MongoDB, "mongodb-db", env("MONGODB_DB", "realtyhub"), "MongoDB database name")
	settings.StringVar(&c.Store, "store", env("STORE", StoreMongo), "entity store backend: mongo or memory")
	settings.StringVar(&c.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "HMAC secret for credentials")
	settings.StringVar(&jwtKeys, "jwt-keys", env("JWT_KEYS", ""), "rotating HMAC secrets as kid:secret,...")
	settings.StringVar(&c.JWTActiveKid, "jwt-active-kid", env("JWT_ACTIVE_KID", ""), "kid used to sign new credentials")
	settings.StringVar(&access, "access-token-ttl", env("ACCESS_TOKEN_TTL", "15m"), "access credential lifetime")
	settings.StringVar(&refresh, "refresh-token-ttl", env("REFRESH_TOKEN_TTL", "720h"), "refresh credential lifetime")
	settings.StringVar(&c.HTTPAddr, "http-addr", env("HTTP_ADDR", ":8080"), "REST and WebSocket listen address")
	settings.StringVar(&c.GRPCAddr, "grpc-addr", env("GRPC_ADDR", ":50051"), "gRPC listen address")
	settings.StringVar(&c.RedisURL, "redis-url", env("REDIS_URL", ""), "Redis URL for cross-process live events")
	settings.StringVar(&c.NodeID, "node-id", env("NODE_ID", hostname), "prefix of this process's connection ids")
	settings.StringVar(&rpm, "rate-limit-rpm", env("RATE_LIMIT_RPM", "10"), "requests per minute on sign-in endpoints")
	settings.StringVar(&origins, "allowed-origins", env("ALLOWED_ORIGINS", "*"), "comma separated CORS origins")
	settings.StringVar(&c.InviteURL, "invite-url", env("INVITE_URL", "http://localhost:8080/invite"), "link sent in contact invites")
	settings.StringVar(&c.StorageURL, "storage-url", env("STORAGE_URL", "http://localhost:8080/storage"), "base URL of development object storage")
	settings.StringVar(&c.TLSCert, "tls-cert", env("TLS_CERT", ""), "TLS certificate file")
	settings.StringVar(&c.TLSKey, "tls-key", env("TLS_KEY", ""), "TLS key file")
	settings.StringVar(&reqTLS, "require-tls", env("REQUIRE_TLS", "false"), "refuse to start without TLS")
	settings.StringVar(&c.LogLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	settings.StringVar(&c.LogFormat, "log-format", env("LOG_FORMAT", "text"), "text or json")

	if err := settings.Parse(args); err != nil {
		return nil, err
	}

	var errs []error
	var err error
	if c.AccessTokenTTL, err = time.ParseDuration(access); err != nil || c.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL: invalid duration %q", access))
	}
	if c.RefreshTokenTTL, err = time.ParseDuration(refresh); err != nil || c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_TTL: %q must be a duration longer than the access TTL", refresh))
	}
	if c.RateLimitRPM, err = strconv.Atoi(rpm); err != nil || c.RateLimitRPM <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPM: %q is not a positive integer", rpm))
	}
	if c.RequireTLS, err = strconv.ParseBool(reqTLS); err != nil {
		errs = append(errs, fmt.Errorf("REQUIRE_TLS: %q is not a boolean", reqTLS))
	}
	if jwtKeys != "" {
		if c.JWTKeys, err = parseKeys(jwtKeys); err != nil {
			errs = append(errs, err)
		} else if _, ok := c.JWTKeys[c.JWTActiveKid]; !ok {
			errs = append(errs, fmt.Errorf("JWT_ACTIVE_KID: %q is not one of JWT_KEYS", c.JWTActiveKid))
		}
	} else if c.JWTSecret == "" {
		errs = append(errs, errors.New("either JWT_SECRET or JWT_KEYS must be set"))
	}
	switch c.Store {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI must be set when STORE=mongo"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE: unknown backend %q", c.Store))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("TLS_CERT and TLS_KEY must be set together"))
	} else if c.RequireTLS && c.TLSCert == "" {
		errs = append(errs, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured"))
	}
	if c.NodeID == "" || strings.Contains(c.NodeID, ".") {
		errs = append(errs, fmt.Errorf("NODE_ID: %q must be non-empty and contain no dots", c.NodeID))
	}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &c, nil
}

// parseKeys parses "kid:secret,kid2:secret2".
func parseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[kid] = secret
	}
	return keys, nil
}
