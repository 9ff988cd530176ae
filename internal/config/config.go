package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

var keyPrefixPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken        string
	AdminID         int64
	LogLevel        string
	PollTimeout     int
	StoreBackend    string
	DataDir         string
	KeyPrefix       string
	MaxKeyBatch     int
	MySQLDSN        string
	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string
	BackupBackend   string
	BackupDir       string
	BackupInterval  time.Duration
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UsePathStyle  bool
	S3Prefix        string
}

// AdminIdentity is the admin id in the string form used as user identity.
func (c Config) AdminIdentity() string {
	return strconv.FormatInt(c.AdminID, 10)
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PollTimeout:     getInt("TELEGRAM_POLL_TIMEOUT_SECONDS", 60),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendFile)),
		DataDir:         getEnv("DATA_DIR", "."),
		KeyPrefix:       strings.ToUpper(strings.TrimSpace(getEnv("KEY_PREFIX", "MIKU"))),
		MaxKeyBatch:     getInt("MAX_KEY_BATCH", 500),
		AdminListenAddr: os.Getenv("ADMIN_LISTEN_ADDR"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		BackupBackend:   strings.ToLower(os.Getenv("BACKUP_BACKEND")),
		BackupDir:       getEnv("BACKUP_DIR", "backups"),
		BackupInterval:  time.Minute * time.Duration(getInt("BACKUP_INTERVAL_MINUTES", 0)),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "keybot"),
	}

	cfg.BotToken = firstEnv("TELEGRAM_BOT_TOKEN", "BOT_API_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	adminRaw := strings.TrimSpace(os.Getenv("ADMIN_ID"))
	if adminRaw == "" {
		missing = append(missing, "ADMIN_ID")
	} else {
		id, err := strconv.ParseInt(adminRaw, 10, 64)
		if err != nil || id == 0 {
			return Config{}, fmt.Errorf("ADMIN_ID must be a numeric telegram user id, got %q", adminRaw)
		}
		cfg.AdminID = id
	}

	switch cfg.StoreBackend {
	case BackendFile, BackendMemory:
	case BackendMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case BackendS3:
		missing = append(missing, cfg.missingS3()...)
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q; allowed: file, s3, mysql, memory", cfg.StoreBackend)
	}

	switch cfg.BackupBackend {
	case "", BackendFile:
	case BackendS3:
		if cfg.StoreBackend != BackendS3 {
			missing = append(missing, cfg.missingS3()...)
		}
	default:
		return Config{}, fmt.Errorf("unknown BACKUP_BACKEND %q; allowed: file, s3", cfg.BackupBackend)
	}

	if cfg.AdminListenAddr != "" && cfg.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	// Codes are posted with Markdown, so the prefix must not carry markup.
	if !keyPrefixPattern.MatchString(cfg.KeyPrefix) {
		return Config{}, fmt.Errorf("KEY_PREFIX must contain only letters A-Z and digits, got %q", cfg.KeyPrefix)
	}
	if cfg.MaxKeyBatch < 0 {
		return Config{}, fmt.Errorf("MAX_KEY_BATCH must be >= 0")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func (c Config) missingS3() []string {
	var missing []string
	if c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	return missing
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first env file found. Running without one is fine
// when the variables come from the process environment.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
