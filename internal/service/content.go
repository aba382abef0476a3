// content.go - выдача содержимого доказательства из хранилища.
// Поток передаётся вызывающему коду как есть, без буферизации и повторов.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matebuilder/proof-module/internal/contentstore"
)

// Prometheus-метрики выдачи содержимого.
var (
	contentFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_content_fetch_total",
		Help: "Общее количество запросов содержимого (по статусу).",
	}, []string{"status"})

	contentStreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_content_stream_duration_seconds",
		Help:    "Длительность выдачи содержимого (от запроса до закрытия потока).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	contentBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_content_bytes_total",
		Help: "Общее количество байт содержимого, прочитанных из хранилища.",
	})

	activeContentStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pm_active_content_streams",
		Help: "Количество открытых потоков содержимого.",
	})
)

// FetchProofContent открывает поток содержимого по адресу.
// Неизвестный адрес → ErrNotFound; недоступность хранилища → ErrStoreUnavailable.
// Вызывающий код обязан закрыть поток.
func (s *ProofService) FetchProofContent(ctx context.Context, proofHash string) (io.ReadCloser, error) {
	if proofHash == "" {
		return nil, &ValidationError{Field: "proofHash", Message: "обязателен"}
	}

	rc, err := s.store.Fetch(ctx, proofHash)
	if err != nil {
		switch {
		case errors.Is(err, contentstore.ErrNotFound):
			contentFetchTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		case errors.Is(err, contentstore.ErrUnavailable):
			contentFetchTotal.WithLabelValues("unavailable").Inc()
		default:
			contentFetchTotal.WithLabelValues("store_error").Inc()
		}
		s.logger.Warn("Ошибка получения содержимого доказательства",
			slog.String("proof_hash", proofHash),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("получение содержимого %s: %w", proofHash, err)
	}

	contentFetchTotal.WithLabelValues("success").Inc()
	activeContentStreams.Inc()

	return &meteredReadCloser{
		ReadCloser: rc,
		start:      time.Now(),
		proofHash:  proofHash,
		logger:     s.logger,
	}, nil
}

// meteredReadCloser учитывает переданные байты и длительность потока.
// Метрики фиксируются при первом Close.
type meteredReadCloser struct {
	io.ReadCloser
	start     time.Time
	proofHash string
	logger    *slog.Logger

	n    int64
	once sync.Once
}

func (m *meteredReadCloser) Read(p []byte) (int, error) {
	n, err := m.ReadCloser.Read(p)
	m.n += int64(n)
	return n, err
}

func (m *meteredReadCloser) Close() error {
	err := m.ReadCloser.Close()
	m.once.Do(func() {
		duration := time.Since(m.start)
		activeContentStreams.Dec()
		contentBytesTotal.Add(float64(m.n))
		contentStreamDuration.Observe(duration.Seconds())

		m.logger.Debug("Выдача содержимого завершена",
			slog.String("proof_hash", m.proofHash),
			slog.Int64("bytes", m.n),
			slog.Duration("duration", duration),
		)
	})
	return err
}
