// proof.go - сервис приёма доказательств выполнения задач.
// Координирует классификатор, хранилище содержимого, repository,
// LRU-кэш и Prometheus-метрики.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matebuilder/proof-module/internal/contentstore"
	"github.com/matebuilder/proof-module/internal/domain/model"
	"github.com/matebuilder/proof-module/internal/domain/prooftype"
	"github.com/matebuilder/proof-module/internal/repository"
)

// Prometheus-метрики приёма и выборок.
var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_proof_submissions_total",
		Help: "Общее количество попыток загрузки доказательств (по результату).",
	}, []string{"result"})

	submissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_proof_submission_duration_seconds",
		Help:    "Длительность приёма доказательства (загрузка + запись в БД).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_proof_upload_bytes_total",
		Help: "Общее количество байт, переданных в хранилище содержимого.",
	})

	orphanedUploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_proof_orphaned_uploads_total",
		Help: "Содержимое загружено в хранилище, но запись в БД не создана.",
	})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_proof_queries_total",
		Help: "Общее количество выборок доказательств (по области).",
	}, []string{"scope"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_proof_query_duration_seconds",
		Help:    "Длительность выборок доказательств.",
		Buckets: prometheus.DefBuckets,
	})
)

// Результаты приёма для метки result.
const (
	resultSuccess    = "success"
	resultInvalid    = "invalid"
	resultStoreError = "store_error"
	resultDBError    = "db_error"
)

// SubmitProofParams - параметры загрузки доказательства.
type SubmitProofParams struct {
	CommunityID     int64
	MemberID        int64
	TaskTitle       string
	TaskDescription *string
	// Content - поток байтов доказательства
	Content io.Reader
	// Size - объявленный размер в байтах
	Size int64
	// ContentType - объявленный MIME-тип (nil, если не передан)
	ContentType *string
	// FileName - оригинальное имя файла
	FileName string
}

// errInvalidText - сообщение для строк, которые PostgreSQL TEXT не примет.
const errInvalidText = "содержит NUL или некорректный UTF-8"

// storableText сообщает, можно ли сохранить строку в колонку TEXT.
func storableText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

// validate проверяет параметры до любого ввода-вывода.
func (p *SubmitProofParams) validate() error {
	switch {
	case p.CommunityID <= 0:
		return &ValidationError{Field: "communityId", Message: "должен быть положительным"}
	case p.MemberID <= 0:
		return &ValidationError{Field: "memberId", Message: "должен быть положительным"}
	case strings.TrimSpace(p.TaskTitle) == "":
		return &ValidationError{Field: "taskTitle", Message: "обязателен"}
	case !storableText(p.TaskTitle):
		return &ValidationError{Field: "taskTitle", Message: errInvalidText}
	case p.TaskDescription != nil && !storableText(*p.TaskDescription):
		return &ValidationError{Field: "taskDescription", Message: errInvalidText}
	case !storableText(p.FileName):
		return &ValidationError{Field: "fileName", Message: errInvalidText}
	case p.Content == nil:
		return &ValidationError{Field: "proofFile", Message: "обязателен"}
	case p.Size <= 0:
		return &ValidationError{Field: "proofFile", Message: "файл пуст"}
	}
	return nil
}

// ProofService - приём доказательств и выборки по участнику и сообществу.
// Собственного изменяемого состояния нет, вызовы независимы.
type ProofService struct {
	store  contentstore.Store
	repo   repository.ProofRepository
	cache  *CacheService
	logger *slog.Logger
}

// NewProofService создаёт сервис доказательств.
func NewProofService(
	store contentstore.Store,
	repo repository.ProofRepository,
	cache *CacheService,
	logger *slog.Logger,
) *ProofService {
	return &ProofService{
		store:  store,
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "proof_service")),
	}
}

// SubmitProof принимает доказательство.
//
// Pipeline:
//  1. Проверка параметров (без обращений к хранилищу и БД)
//  2. Классификация по объявленному MIME-типу
//  3. Загрузка содержимого в хранилище → адрес
//  4. Запись в БД
//
// Если шаг 4 не удался, загруженное содержимое не удаляется:
// возвращается *PersistenceError с адресом, событие логируется
// и учитывается в pm_proof_orphaned_uploads_total.
func (s *ProofService) SubmitProof(ctx context.Context, p SubmitProofParams) (*model.ProofRecord, error) {
	start := time.Now()

	if err := p.validate(); err != nil {
		submissionsTotal.WithLabelValues(resultInvalid).Inc()
		return nil, err
	}

	proofType := prooftype.Classify(p.ContentType)

	counter := &countingReader{r: p.Content}
	proofHash, err := s.store.Store(ctx, counter)
	if err != nil {
		submissionsTotal.WithLabelValues(resultStoreError).Inc()
		s.logger.Warn("Ошибка загрузки содержимого доказательства",
			slog.Int64("community_id", p.CommunityID),
			slog.Int64("member_id", p.MemberID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("загрузка содержимого доказательства: %w", err)
	}
	uploadBytesTotal.Add(float64(counter.n))

	memberID := p.MemberID
	record := &model.ProofRecord{
		CommunityID:     p.CommunityID,
		MemberID:        p.MemberID,
		TaskTitle:       p.TaskTitle,
		TaskDescription: p.TaskDescription,
		ProofType:       proofType,
		ProofHash:       proofHash,
		FileName:        p.FileName,
		CreatedBy:       &memberID,
		UpdatedBy:       &memberID,
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		submissionsTotal.WithLabelValues(resultDBError).Inc()
		orphanedUploadsTotal.Inc()
		s.logger.Error("Содержимое загружено, но запись доказательства не сохранена",
			slog.String("proof_hash", proofHash),
			slog.Int64("community_id", p.CommunityID),
			slog.Int64("member_id", p.MemberID),
			slog.String("error", err.Error()),
		)
		return nil, &PersistenceError{ProofHash: proofHash, Err: err}
	}

	duration := time.Since(start)
	submissionsTotal.WithLabelValues(resultSuccess).Inc()
	submissionDuration.Observe(duration.Seconds())

	s.logger.Info("Доказательство принято",
		slog.Int64("proof_id", record.ID),
		slog.Int64("community_id", record.CommunityID),
		slog.Int64("member_id", record.MemberID),
		slog.String("proof_type", string(record.ProofType)),
		slog.String("proof_hash", record.ProofHash),
		slog.String("size", humanize.Bytes(uint64(counter.n))),
		slog.Duration("duration", duration),
	)

	return record, nil
}

// ListProofsByMember возвращает доказательства участника, новые первыми.
func (s *ProofService) ListProofsByMember(ctx context.Context, memberID int64) ([]*model.ProofRecord, error) {
	return s.list(ctx, "member", memberID, s.repo.ListByMember)
}

// ListProofsByCommunity возвращает доказательства сообщества, новые первыми.
func (s *ProofService) ListProofsByCommunity(ctx context.Context, communityID int64) ([]*model.ProofRecord, error) {
	return s.list(ctx, "community", communityID, s.repo.ListByCommunity)
}

// list выполняет выборку с метриками. Пустой результат - пустой срез.
func (s *ProofService) list(
	ctx context.Context,
	scope string,
	id int64,
	fetch func(context.Context, int64) ([]*model.ProofRecord, error),
) ([]*model.ProofRecord, error) {
	start := time.Now()
	queriesTotal.WithLabelValues(scope).Inc()

	items, err := fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("выборка доказательств (%s=%d): %w", scope, id, err)
	}
	if items == nil {
		items = []*model.ProofRecord{}
	}

	duration := time.Since(start)
	queryDuration.Observe(duration.Seconds())

	s.logger.Debug("Выборка доказательств выполнена",
		slog.String("scope", scope),
		slog.Int64("id", id),
		slog.Int("returned", len(items)),
		slog.Duration("duration", duration),
	)

	return items, nil
}

// GetProof возвращает запись по идентификатору.
// Сначала проверяет LRU-кэш, при промахе - запрос к PostgreSQL, результат кэшируется.
func (s *ProofService) GetProof(ctx context.Context, id int64) (*model.ProofRecord, error) {
	if id <= 0 {
		return nil, &ValidationError{Field: "proofId", Message: "должен быть положительным"}
	}

	// Вызывающий получает копию: запись в кэше разделяется между запросами
	if cached, ok := s.cache.Get(id); ok {
		s.logger.Debug("Кэш hit для доказательства", slog.Int64("proof_id", id))
		rec := *cached
		return &rec, nil
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение доказательства: %w", err)
	}

	cached := *record
	s.cache.Set(&cached)

	return record, nil
}

// countingReader считает байты, прочитанные хранилищем.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
