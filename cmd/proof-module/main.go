// main.go - точка входа Proof Module.
// Инициализирует конфигурацию, PostgreSQL, хранилище содержимого,
// сервисный слой, мониторинг зависимостей и HTTP-сервер.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/matebuilder/proof-module/internal/api/handlers"
	"github.com/matebuilder/proof-module/internal/api/middleware"
	"github.com/matebuilder/proof-module/internal/api/openapi"
	"github.com/matebuilder/proof-module/internal/config"
	"github.com/matebuilder/proof-module/internal/contentstore"
	"github.com/matebuilder/proof-module/internal/database"
	"github.com/matebuilder/proof-module/internal/repository"
	"github.com/matebuilder/proof-module/internal/server"
	"github.com/matebuilder/proof-module/internal/service"
)

// readyStore - хранилище содержимого с readiness-проверкой.
type readyStore interface {
	contentstore.Store
	CheckReady() (status, message string)
}

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Proof Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
	)

	if os.Getenv("PM_DEPHEALTH_GROUP") == "" {
		logger.Warn("PM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище содержимого
	store, err := newContentStore(cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища содержимого", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Сервисный слой
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	proofRepo := repository.NewProofRepository(pool)
	proofSvc := service.NewProofService(store, proofRepo, cache, logger)

	// 7. topologymetrics - мониторинг зависимостей (PostgreSQL + IPFS)
	dephealthParams := service.DephealthParams{
		ServiceID:     parseOwnerName(hostname()),
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}
	if cfg.StoreBackend == config.StoreBackendIPFS {
		dephealthParams.IPFSGatewayURL = cfg.IPFSGatewayURL
	}

	dephealthSvc, dephealthErr := service.NewDephealthService(dephealthParams, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. Health и API handlers
	healthHandler := handlers.NewHealthHandler(map[string]handlers.ReadinessChecker{
		"postgresql":   database.NewReadinessChecker(pool),
		"contentStore": store,
	})
	apiHandler := handlers.NewAPIHandler(proofSvc, healthHandler, cfg.MaxUploadSize, logger)

	// 9. Middleware: request id → логирование → метрики → OpenAPI-валидация
	middlewares := []func(next http.Handler) http.Handler{
		middleware.RequestID(),
		server.WithExclusions(middleware.RequestLogger(logger), "/health/", "/metrics"),
		middleware.MetricsMiddleware(),
	}
	if cfg.OpenAPIValidation {
		doc, docErr := openapi.Load()
		if docErr != nil {
			logger.Error("Ошибка загрузки OpenAPI-описания", slog.String("error", docErr.Error()))
			os.Exit(1)
		}
		validator, valErr := middleware.OpenAPIValidator(doc, logger)
		if valErr != nil {
			logger.Error("Ошибка создания OpenAPI-валидатора", slog.String("error", valErr.Error()))
			os.Exit(1)
		}
		middlewares = append(middlewares, validator)
	} else {
		logger.Info("OpenAPI-валидация запросов отключена (PM_OPENAPI_VALIDATION=false)")
	}

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Proof Module остановлен")
}

// newContentStore создаёт клиент хранилища по PM_STORE_BACKEND.
func newContentStore(cfg *config.Config, logger *slog.Logger) (readyStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendIPFS:
		logger.Info("Хранилище содержимого: IPFS",
			slog.String("api_url", cfg.IPFSAPIURL),
			slog.Bool("pin", cfg.IPFSPin),
		)
		return contentstore.NewIPFSStore(cfg.IPFSAPIURL, cfg.IPFSTimeout, cfg.IPFSPin, logger), nil
	case config.StoreBackendLocal:
		logger.Info("Хранилище содержимого: локальная ФС",
			slog.String("data_dir", cfg.LocalDataDir),
			slog.Bool("compress", cfg.LocalCompress),
		)
		local, err := contentstore.NewLocalStore(cfg.LocalDataDir, cfg.LocalCompress)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.StoreBackend)
	}
}

// hostname возвращает имя хоста или "proof-module", если оно недоступно.
func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "proof-module"
	}
	return name
}

var (
	// deploymentSuffix - суффикс пода Deployment: -<replicaset hash>-<pod hash>
	deploymentSuffix = regexp.MustCompile(`-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// statefulSetSuffix - порядковый номер пода StatefulSet
	statefulSetSuffix = regexp.MustCompile(`-\d+$`)
)

// parseOwnerName извлекает имя владельца пода (Deployment/StatefulSet) из hostname.
// Используется как имя вершины в графе зависимостей: все реплики - одна вершина.
func parseOwnerName(host string) string {
	if loc := deploymentSuffix.FindStringIndex(host); loc != nil && loc[0] > 0 {
		return host[:loc[0]]
	}
	if loc := statefulSetSuffix.FindStringIndex(host); loc != nil && loc[0] > 0 {
		return host[:loc[0]]
	}
	return host
}
