package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr            string        // API bind address
	LogDir          string        // logs directory
	LogLevel        string        // debug | info | warn | error
	DatabasePath    string        // sqlite file; empty means in-memory stores
	CredentialsPath string        // encrypted credential store file
	CredentialsKey  string        // master passphrase for the credential store
	MaxConcurrent   int           // global probe concurrency ceiling
	Tick            time.Duration // scheduling pass interval
	DefaultTimeout  int           // per-check timeout in seconds for nodes that set none
	SlackWebhook    string        // optional alert channel
	AlertOnRecovery bool
	AlertCooldown   time.Duration
	PublicAPIKeys   []string
	AdminAPIKeys    []string
	RateLimitPerMin int
}

func FromEnv() Config {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	credPath := os.Getenv("CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "credentials.json"
	}

	maxConcurrent := 100
	if v := os.Getenv("MAX_CONCURRENT_CHECKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxConcurrent = n
		}
	}

	tick := time.Second
	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			tick = time.Duration(ms) * time.Millisecond
		}
	}

	defaultTimeout := 0
	if v := os.Getenv("DEFAULT_CHECK_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			defaultTimeout = n
		}
	}

	cooldown := 15 * time.Minute
	if v := os.Getenv("ALERT_COOLDOWN_MIN"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 0 {
			cooldown = time.Duration(m) * time.Minute
		}
	}

	rate := 120
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rate = n
		}
	}

	return Config{
		Addr:            addr,
		LogDir:          logDir,
		LogLevel:        logLevel,
		DatabasePath:    os.Getenv("DATABASE_PATH"),
		CredentialsPath: credPath,
		CredentialsKey:  os.Getenv("CREDENTIALS_KEY"),
		MaxConcurrent:   maxConcurrent,
		Tick:            tick,
		DefaultTimeout:  defaultTimeout,
		SlackWebhook:    os.Getenv("SLACK_WEBHOOK_URL"),
		AlertOnRecovery: os.Getenv("ALERT_ON_RECOVERY") != "false",
		AlertCooldown:   cooldown,
		PublicAPIKeys:   splitKeys(os.Getenv("PUBLIC_API_KEYS")),
		AdminAPIKeys:    splitKeys(os.Getenv("ADMIN_API_KEYS")),
		RateLimitPerMin: rate,
	}
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
