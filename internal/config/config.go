// Пакет config - загрузка и валидация конфигурации Proof Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды content-addressed хранилища.
const (
	StoreBackendIPFS  = "ipfs"
	StoreBackendLocal = "local"
)

// Config содержит все параметры конфигурации Proof Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Хранилище содержимого ---

	// Бэкенд: ipfs или local
	StoreBackend string
	// Адрес Kubo RPC API
	IPFSAPIURL string
	// Адрес HTTP-шлюза IPFS (используется для мониторинга зависимостей)
	IPFSGatewayURL string
	// Таймаут HTTP-запросов к IPFS
	IPFSTimeout time.Duration
	// Закреплять загруженное содержимое
	IPFSPin bool
	// Директория локального хранилища
	LocalDataDir string
	// Сжимать объекты локального хранилища zstd
	LocalCompress bool

	// --- Загрузка ---

	// Максимальный размер тела запроса загрузки в байтах
	MaxUploadSize int64

	// --- Кэш записей ---

	CacheMaxSize int
	CacheTTL     time.Duration

	// --- API ---

	// Валидация запросов по OpenAPI-описанию
	OpenAPIValidation bool

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей (DEPHEALTH_ISENTRY)
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PM_PORT - порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("PM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("PM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PM_PORT: порт вне диапазона 1-65535: %d", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("PM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("PM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("PM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("PM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("PM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("PM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("PM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("PM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PM_DB_SSL_MODE", "disable")

	// --- Хранилище содержимого ---

	cfg.StoreBackend = strings.ToLower(getEnvDefault("PM_STORE_BACKEND", StoreBackendIPFS))
	if cfg.StoreBackend != StoreBackendIPFS && cfg.StoreBackend != StoreBackendLocal {
		return nil, fmt.Errorf("PM_STORE_BACKEND: недопустимое значение %q, допустимые: ipfs, local", cfg.StoreBackend)
	}

	cfg.IPFSAPIURL = getEnvDefault("PM_IPFS_API_URL", "http://127.0.0.1:5001")
	if err := validateHTTPURL(cfg.IPFSAPIURL); err != nil {
		return nil, fmt.Errorf("PM_IPFS_API_URL: %w", err)
	}
	cfg.IPFSGatewayURL = getEnvDefault("PM_IPFS_GATEWAY_URL", "http://127.0.0.1:8080")
	if err := validateHTTPURL(cfg.IPFSGatewayURL); err != nil {
		return nil, fmt.Errorf("PM_IPFS_GATEWAY_URL: %w", err)
	}
	cfg.IPFSTimeout, err = getEnvDuration("PM_IPFS_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_IPFS_TIMEOUT: %w", err)
	}
	cfg.IPFSPin, err = getEnvBool("PM_IPFS_PIN", true)
	if err != nil {
		return nil, fmt.Errorf("PM_IPFS_PIN: %w", err)
	}

	cfg.LocalDataDir = getEnvDefault("PM_LOCAL_DATA_DIR", "/var/lib/proof-module/data")
	cfg.LocalCompress, err = getEnvBool("PM_LOCAL_COMPRESS", false)
	if err != nil {
		return nil, fmt.Errorf("PM_LOCAL_COMPRESS: %w", err)
	}

	// --- Загрузка ---

	// PM_MAX_UPLOAD_SIZE - лимит тела загрузки (по умолчанию 10MB)
	cfg.MaxUploadSize, err = getEnvSize("PM_MAX_UPLOAD_SIZE", 10*humanize.MByte)
	if err != nil {
		return nil, fmt.Errorf("PM_MAX_UPLOAD_SIZE: %w", err)
	}

	// --- Кэш записей ---

	cfg.CacheMaxSize, err = getEnvInt("PM_CACHE_MAX_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("PM_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize <= 0 {
		return nil, fmt.Errorf("PM_CACHE_MAX_SIZE: значение должно быть > 0")
	}
	cfg.CacheTTL, err = getEnvDuration("PM_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_CACHE_TTL: %w", err)
	}

	cfg.OpenAPIValidation, err = getEnvBool("PM_OPENAPI_VALIDATION", true)
	if err != nil {
		return nil, fmt.Errorf("PM_OPENAPI_VALIDATION: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("PM_DEPHEALTH_GROUP", "matebuilder")
	cfg.DephealthCheckInterval, err = getEnvDuration("PM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для лейблов topologymetrics.
// Пароль не включается.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
// Значение должно быть > 0.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvSize возвращает размер в байтах из переменной окружения.
// Принимает число байт или значение с единицей: 10MB, 512KiB, 1GB.
func getEnvSize(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := humanize.ParseBytes(val)
	if err != nil {
		return 0, fmt.Errorf("некорректный размер: %q (примеры: 10MB, 512KiB)", val)
	}
	if n == 0 || n > uint64(1<<62) {
		return 0, fmt.Errorf("размер вне допустимого диапазона: %q", val)
	}
	return int64(n), nil
}

// validateHTTPURL проверяет, что строка - абсолютный http(s) URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ожидался http(s) URL, получено %q", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
