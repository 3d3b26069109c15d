package config

import "time"

// Config holds runtime configuration for the flock API service.
type Config struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	AppURL        string

	TokenSecret    string
	AccessTokenTTL time.Duration
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration

	SMTPAddr string
	SMTPFrom string
	SMTPUser string
	SMTPPass string

	RedisAddr string
	RedisPass string
	RedisDB   int

	SearchLimit int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://flock:flock@db:5432/flock?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		AppURL:        GetString("APP_URL", "http://localhost:3000"),

		TokenSecret:    GetString("TOKEN_SECRET", "supersecuresecret"),
		AccessTokenTTL: GetDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		VerifyTokenTTL: GetDuration("VERIFY_TOKEN_TTL", 72*time.Hour),
		ResetTokenTTL:  GetDuration("RESET_TOKEN_TTL", time.Hour),

		SMTPAddr: GetString("SMTP_ADDR", ""),
		SMTPFrom: GetString("SMTP_FROM", "no-reply@flock.local"),
		SMTPUser: GetString("SMTP_USER", ""),
		SMTPPass: GetString("SMTP_PASSWORD", ""),

		RedisAddr: GetString("REDIS_ADDR", ""),
		RedisPass: GetString("REDIS_PASSWORD", ""),
		RedisDB:   GetInt("REDIS_DB", 0),

		SearchLimit: GetInt("SEARCH_RESULT_LIMIT", 10),
	}
}
