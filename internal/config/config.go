package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Credential store backends.
const (
	StoreDynamo   = "dynamo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
// It is built once in main and passed by pointer; nothing mutates it afterwards.
type Config struct {
	AppPort        string
	AppEnv         string
	LogLevel       string
	AllowedOrigins []string // CORS allowed origins
	TrustedProxies []string // CIDRs or addresses whose X-Forwarded-For is honoured

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	CredentialStore string // dynamo | postgres | memory
	PostgresURL     string
	PostgresMaxConn int32

	StoreTimeout time.Duration

	Redis     Redis
	Token     Token
	OTP       OTP
	RateLimit RateLimit
	Sweep     Sweep

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	GoogleClientID string
}

// DynamoDB table names.
type DynamoTables struct {
	Users         string
	Identifiers   string
	RefreshTokens string
}

type Redis struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Token configures JWT issuance. Secret is the HS256 key.
type Token struct {
	Secret          string
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
}

type OTP struct {
	Expiration   time.Duration
	MaxAttempts  int
	BlockFor     time.Duration
	ResendLimit  int
	ResendWindow time.Duration
	Cooldown     time.Duration
	AuditGrace   time.Duration
	CountryCode  string
	SendTimeout  time.Duration
}

// Limit is a fixed-window budget.
type Limit struct {
	Max    int
	Window time.Duration
}

type RateLimit struct {
	Login          Limit
	OTPSend        Limit
	Register       Limit
	PasswordReset  Limit
	ChangePassword Limit
	// Local per-IP token bucket in front of the distributed limits.
	BurstRPS float64
	Burst    int
}

// Sweep controls the background removal of expired refresh records.
type Sweep struct {
	Interval  time.Duration
	Retention time.Duration
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "*"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", ""),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
			Identifiers:   getEnv("DYNAMO_TABLE_USER_IDENTIFIERS", "user_identifiers"),
			RefreshTokens: getEnv("DYNAMO_TABLE_REFRESH_TOKENS", "refresh_tokens"),
		},

		CredentialStore: strings.ToLower(getEnv("CREDENTIAL_STORE", StoreDynamo)),
		PostgresURL:     getEnv("DATABASE_URL", ""),
		PostgresMaxConn: int32(getEnvInt("DATABASE_MAX_CONNS", 10)),

		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 2*time.Second),

		Redis: Redis{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Token: Token{
			Secret:          getEnv("JWT_SECRET", ""),
			Issuer:          getEnv("JWT_ISSUER", "go-auth-nosql"),
			AccessLifetime:  getEnvDuration("JWT_ACCESS_LIFETIME", 15*time.Minute),
			RefreshLifetime: getEnvDuration("JWT_REFRESH_LIFETIME", 7*24*time.Hour),
		},
		OTP: OTP{
			Expiration:   getEnvDuration("OTP_EXPIRATION", 5*time.Minute),
			MaxAttempts:  getEnvInt("OTP_MAX_ATTEMPTS", 5),
			BlockFor:     getEnvDuration("OTP_BLOCK_DURATION", 15*time.Minute),
			ResendLimit:  getEnvInt("OTP_RESEND_LIMIT", 5),
			ResendWindow: getEnvDuration("OTP_RESEND_WINDOW", time.Hour),
			Cooldown:     getEnvDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
			AuditGrace:   getEnvDuration("OTP_AUDIT_GRACE", 5*time.Second),
			CountryCode:  getEnv("PHONE_DEFAULT_COUNTRY_CODE", "84"),
			SendTimeout:  getEnvDuration("OTP_SEND_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimit{
			Login:          Limit{Max: getEnvInt("RATE_LOGIN_MAX", 10), Window: getEnvDuration("RATE_LOGIN_WINDOW", 15*time.Minute)},
			OTPSend:        Limit{Max: getEnvInt("RATE_OTP_SEND_MAX", 10), Window: getEnvDuration("RATE_OTP_SEND_WINDOW", time.Hour)},
			Register:       Limit{Max: getEnvInt("RATE_REGISTER_MAX", 5), Window: getEnvDuration("RATE_REGISTER_WINDOW", time.Hour)},
			PasswordReset:  Limit{Max: getEnvInt("RATE_PASSWORD_RESET_MAX", 5), Window: getEnvDuration("RATE_PASSWORD_RESET_WINDOW", time.Hour)},
			ChangePassword: Limit{Max: getEnvInt("RATE_CHANGE_PASSWORD_MAX", 5), Window: getEnvDuration("RATE_CHANGE_PASSWORD_WINDOW", 15*time.Minute)},
			BurstRPS:       getEnvFloat("RATE_BURST_RPS", 5),
			Burst:          getEnvInt("RATE_BURST", 10),
		},
		Sweep: Sweep{
			Interval:  getEnvDuration("REFRESH_SWEEP_INTERVAL", time.Hour),
			Retention: getEnvDuration("REFRESH_SWEEP_RETENTION", 24*time.Hour),
		},

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),

		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
	}
}

// Validate checks the invariants the services rely on. It is called once at
// startup; a failure is fatal.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.Token.AccessLifetime <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_LIFETIME must be positive"))
	}
	if c.Token.AccessLifetime >= c.Token.RefreshLifetime {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_LIFETIME (%s) must be shorter than JWT_REFRESH_LIFETIME (%s)",
			c.Token.AccessLifetime, c.Token.RefreshLifetime))
	}
	if c.OTP.Expiration <= 0 || c.OTP.MaxAttempts <= 0 || c.OTP.ResendLimit <= 0 {
		errs = append(errs, errors.New("OTP expiration, max attempts and resend limit must be positive"))
	}
	if c.OTP.ResendWindow <= 0 || c.OTP.BlockFor <= 0 {
		errs = append(errs, errors.New("OTP resend window and block duration must be positive"))
	}
	if _, err := ParsePrefixes(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	switch c.CredentialStore {
	case StoreDynamo, StoreMemory:
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when CREDENTIAL_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CREDENTIAL_STORE %q", c.CredentialStore))
	}
	return errors.Join(errs...)
}

// ParsePrefixes parses CIDRs and bare addresses. A bare address becomes a
// single-host prefix.
func ParsePrefixes(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, v := range list {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("15m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	parts := strings.Split(getEnv(key, fallback), ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
