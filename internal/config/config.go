package config

import (
	"os"
	"strings"
	"time"

	"gearhead-backend/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string   `envconfig:"port" default:"8080"`
	Env         string   `envconfig:"app_env" default:"development"`
	GinMode     string   `envconfig:"gin_mode" default:"debug"`
	DemoMode    bool     `envconfig:"demo_mode"`
	DatabaseURL string   `envconfig:"database_url"`
	AutoMigrate bool     `envconfig:"auto_migrate"`
	CORSOrigins []string `envconfig:"cors_origins" default:"http://localhost:3000"`

	Database    DatabaseConfig `envconfig:"db"`
	Supabase    SupabaseConfig
	Storage     StorageConfig
	Attachments AttachmentsConfig
	Messaging   MessagingConfig
	RateLimit   RateLimitConfig `envconfig:"rate_limit"`
	Redis       RedisConfig
	Firebase    FirebaseConfig
	Mailgun     MailgunConfig
}

type DatabaseConfig struct {
	Host     string `envconfig:"host" default:"localhost"`
	Port     string `envconfig:"port" default:"5432"`
	User     string `envconfig:"user" default:"postgres"`
	Password string `envconfig:"password"`
	DBName   string `envconfig:"name" default:"postgres"`
	SSLMode  string `envconfig:"sslmode" default:"require"`
}

type SupabaseConfig struct {
	URL            string `envconfig:"url" validate:"required,url"`
	AnonKey        string `envconfig:"anon_key" validate:"required"`
	ServiceRoleKey string `envconfig:"service_role_key"`
	JWTSecret      string `envconfig:"jwt_secret"`
	// Base URL of the edge functions that issue signed upload tickets.
	FunctionsURL string `envconfig:"functions_url"`
}

type StorageConfig struct {
	Backend       string        `envconfig:"backend" default:"supabase" validate:"oneof=supabase s3"`
	SignedURLTTL  time.Duration `envconfig:"signed_url_ttl" default:"168h"`
	S3Endpoint    string        `envconfig:"s3_endpoint"`
	S3Region      string        `envconfig:"s3_region" default:"us-east-1"`
	S3AccessKey   string        `envconfig:"s3_access_key_id"`
	S3SecretKey   string        `envconfig:"s3_secret_access_key"`
	PublicBaseURL string        `envconfig:"public_base_url"`
}

type AttachmentsConfig struct {
	MaxBytes  int64 `envconfig:"max_bytes" default:"10485760" validate:"gt=0"`
	MaxWidth  int   `envconfig:"max_width" default:"1920" validate:"gt=0"`
	MaxPixels int   `envconfig:"max_pixels" default:"40000000" validate:"gte=0"`
	Quality   int   `envconfig:"quality" default:"80" validate:"gte=1,lte=100"`
}

type MessagingConfig struct {
	UnlockFailClosed bool          `envconfig:"unlock_fail_closed"`
	SendGuardTTL     time.Duration `envconfig:"send_guard_ttl" default:"5s"`
}

type RateLimitConfig struct {
	Rate  time.Duration `envconfig:"rate" default:"1s"`
	Limit uint          `envconfig:"limit" default:"10"`
}

type RedisConfig struct {
	Addr     string `envconfig:"addr"`
	Password string `envconfig:"password"`
	DB       int    `envconfig:"db"`
}

type FirebaseConfig struct {
	CredentialsFile string `envconfig:"credentials_file"`
}

type MailgunConfig struct {
	Domain string `envconfig:"domain"`
	APIKey string `envconfig:"api_key"`
	From   string `envconfig:"from" default:"Gearhead <no-reply@gearhead.app>"`
}

// Load reads .env (outside release mode) and then the process environment.
func Load() (*Config, error) {
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			logger.Debug().Msg("No .env file found")
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Attachments); err != nil {
		return err
	}
	if err := v.Struct(c.Storage); err != nil {
		return err
	}
	if c.DemoMode {
		return nil
	}
	return v.Struct(c.Supabase)
}

func (c *Config) GetDatabaseURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.buildDatabaseURL()
}

func (c *Config) buildDatabaseURL() string {
	var sb strings.Builder

	sb.WriteString("postgres://")
	sb.WriteString(c.Database.User)
	if c.Database.Password != "" {
		sb.WriteString(":")
		sb.WriteString(c.Database.Password)
	}
	sb.WriteString("@")
	sb.WriteString(c.Database.Host)
	sb.WriteString(":")
	sb.WriteString(c.Database.Port)
	sb.WriteString("/")
	sb.WriteString(c.Database.DBName)

	if c.Database.SSLMode != "" {
		sb.WriteString("?sslmode=")
		sb.WriteString(c.Database.SSLMode)
	}

	return sb.String()
}

func (c *Config) GetCORSOrigins() []string {
	origins := make([]string, 0, len(c.CORSOrigins))
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// RealtimeURL derives the websocket endpoint from the project URL.
func (s SupabaseConfig) RealtimeURL() string {
	u := strings.TrimRight(s.URL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket"
}

// SignedUploadEndpoint is where upload tickets are requested. Empty when
// no functions URL is configured.
func (s SupabaseConfig) SignedUploadEndpoint() string {
	if s.FunctionsURL == "" {
		return ""
	}
	return strings.TrimRight(s.FunctionsURL, "/") + "/storage/signed-upload"
}
