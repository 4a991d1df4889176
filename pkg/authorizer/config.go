package authorizer

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
	"github.com/StricklySoft/gateway-authorizer/pkg/identity"
)

// EnvPrefix prefixes every environment variable the authorizer reads.
const EnvPrefix = "AUTHORIZER"

// ConfigFileEnv names the environment variable that may point at a YAML
// or JSON config file.
const ConfigFileEnv = "AUTHORIZER_CONFIG_FILE"

// Mode selects the process entry point.
type Mode string

const (
	// ModeLambda serves API Gateway custom-authorizer invocations.
	ModeLambda Mode = "lambda"

	// ModeHTTP serves decisions over HTTP.
	ModeHTTP Mode = "http"
)

// Config is the process configuration. Load it with the config package:
//
//	cfg, err := config.Load[authorizer.Config](
//	    config.New().WithEnvPrefix(authorizer.EnvPrefix).WithFileFromEnv(authorizer.ConfigFileEnv),
//	)
type Config struct {
	// Issuer is the trusted user pool URL, e.g.
	// "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_AbC".
	Issuer string `env:"USER_POOL_URL" yaml:"user_pool_url" json:"user_pool_url" required:"true"`

	// IdentityPoolID is the federated identity pool, "<region>:<uuid>".
	IdentityPoolID string `env:"IDENTITY_POOL_ID" yaml:"identity_pool_id" json:"identity_pool_id" required:"true"`

	// TokenUse is the token_use claim tokens must carry.
	TokenUse string `env:"TOKEN_USE" envDefault:"id" yaml:"token_use" json:"token_use"`

	// ClockSkew is the leeway for exp, nbf and iat.
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"0s" yaml:"clock_skew" json:"clock_skew"`

	// HTTPTimeout bounds each key-set request.
	HTTPTimeout time.Duration `env:"JWKS_HTTP_TIMEOUT" envDefault:"10s" yaml:"jwks_http_timeout" json:"jwks_http_timeout"`

	// Mode is "lambda" or "http".
	Mode Mode `env:"MODE" envDefault:"lambda" yaml:"mode" json:"mode"`

	// ListenAddr is the HTTP listen address in ModeHTTP.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr" json:"listen_addr"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" json:"log_level"`
}

// Validate checks field values beyond presence.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Issuer)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return sserr.Newf(sserr.CodeValidation, "authorizer: issuer %q must be an absolute http(s) URL", c.Issuer)
	}
	if _, err := identity.RegionFromPoolID(c.IdentityPoolID); err != nil {
		return err
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeValidation, "authorizer: clock skew must be non-negative")
	}
	if c.HTTPTimeout <= 0 {
		return sserr.New(sserr.CodeValidation, "authorizer: key-set HTTP timeout must be positive")
	}
	switch c.Mode {
	case ModeLambda, ModeHTTP:
	default:
		return sserr.Newf(sserr.CodeValidation, "authorizer: mode %q must be %q or %q", c.Mode, ModeLambda, ModeHTTP)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, sserr.Wrapf(err, sserr.CodeValidation, "authorizer: invalid log level %q", c.LogLevel)
	}
	return level, nil
}
