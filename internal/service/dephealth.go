// dephealth.go - интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Proof Module мониторит:
//   - PostgreSQL - SQL checker через существующий pgxpool (connection pool mode, critical)
//   - IPFS - HTTP checker к шлюзу (только при PM_STORE_BACKEND=ipfs, critical)
//
// Kubo RPC API принимает только POST, поэтому проверяется HTTP-шлюз узла:
// запрос пустого identity CID не требует сети и отвечает мгновенно.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health - состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds - задержка проверки
//   - app_dependency_status - категория статуса
//   - app_dependency_status_detail - детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ipfsGatewayHealthPath - пустой identity CID (bafkqaaa), отдаётся шлюзом без обращения к сети.
const ipfsGatewayHealthPath = "/ipfs/bafkqaaa"

// DephealthParams - параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID - имя вершины графа текущего приложения
	ServiceID string
	// Group - имя группы в метриках (PM_DEPHEALTH_GROUP)
	Group string
	// DB - *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PGConnURL - URL PostgreSQL (для лейблов, не для подключения)
	PGConnURL string
	// IPFSGatewayURL - URL шлюза IPFS; пустая строка - IPFS не мониторится
	IPFSGatewayURL string
	// CheckInterval - интервал проверки (PM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry - лейбл isentry=yes для всех зависимостей (DEPHEALTH_ISENTRY)
	IsEntry bool
}

// DephealthService - сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	deps   []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(p DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(p, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	p DephealthParams,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(p, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService - внутренний конструктор.
func newDephealthService(p DephealthParams, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		// PostgreSQL - connection pool mode через существующий pgxpool
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(p.DB)),
			dependencyOptions(p.PGConnURL, p.CheckInterval, p.IsEntry)...),
	)
	deps := []string{"postgresql"}

	if p.IPFSGatewayURL != "" {
		ipfsOpts := dependencyOptions(p.IPFSGatewayURL, p.CheckInterval, p.IsEntry)
		ipfsOpts = append(ipfsOpts, dephealth.WithHTTPHealthPath(ipfsGatewayHealthPath))
		if isHTTPS(p.IPFSGatewayURL) {
			ipfsOpts = append(ipfsOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP("ipfs", ipfsOpts...))
		deps = append(deps, "ipfs")
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(p.ServiceID, p.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		deps:   deps,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// dependencyOptions - общие опции критичной зависимости.
func dependencyOptions(rawURL string, interval time.Duration, isEntry bool) []dephealth.DependencyOption {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(rawURL),
		dephealth.CheckInterval(interval),
		dephealth.Critical(true),
	}
	if isEntry {
		opts = append(opts, dephealth.WithLabel("isentry", "yes"))
	}
	return opts
}

// isHTTPS сообщает, использует ли URL схему https.
func isHTTPS(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	return err == nil && parsed.Scheme == "https"
}

// Dependencies возвращает имена мониторируемых зависимостей.
func (ds *DephealthService) Dependencies() []string {
	return ds.deps
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.deps))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ - имя зависимости, значение - true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
