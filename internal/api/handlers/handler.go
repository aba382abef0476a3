// handler.go - основной обработчик API Proof Module.
// Регистрирует маршруты на chi-роутере и сопоставляет ошибки сервисного слоя
// с HTTP-ответами.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matebuilder/proof-module/internal/api/response"
	"github.com/matebuilder/proof-module/internal/domain/model"
	"github.com/matebuilder/proof-module/internal/service"
)

// BasePath - базовый путь API доказательств.
const BasePath = "/api/community/task/proof"

// ProofService - операции сервисного слоя, используемые обработчиками.
type ProofService interface {
	SubmitProof(ctx context.Context, p service.SubmitProofParams) (*model.ProofRecord, error)
	ListProofsByMember(ctx context.Context, memberID int64) ([]*model.ProofRecord, error)
	ListProofsByCommunity(ctx context.Context, communityID int64) ([]*model.ProofRecord, error)
	GetProof(ctx context.Context, id int64) (*model.ProofRecord, error)
	FetchProofContent(ctx context.Context, proofHash string) (io.ReadCloser, error)
}

// APIHandler - основной обработчик API Proof Module.
type APIHandler struct {
	proofs        ProofService
	health        *HealthHandler
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize - лимит размера файла доказательства в байтах.
func NewAPIHandler(
	proofs ProofService,
	health *HealthHandler,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		proofs:        proofs,
		health:        health,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты Proof Module.
// Статические сегменты chi предпочитает параметрам, поэтому
// /member, /community, /content и /upload не перехватываются /{proofId}.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/upload", h.UploadProof)
		r.Get("/member/{memberId}", h.ListByMember)
		r.Get("/community/{communityId}", h.ListByCommunity)
		r.Get("/content/{proofHash}", h.GetProofContent)
		r.Get("/{proofId}", h.GetProof)
	})
}

// writeServiceError сопоставляет ошибку сервисного слоя с ответом.
// Порядок важен: PersistenceError проверяется первым, чтобы вернуть proofHash.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var persistErr *service.PersistenceError
	switch {
	case errors.As(err, &persistErr):
		response.PersistenceError(w,
			"Содержимое загружено, но запись доказательства не сохранена", persistErr.ProofHash)
	case errors.Is(err, service.ErrValidation):
		response.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(w, "Доказательство не найдено")
	case errors.Is(err, service.ErrStoreUnavailable):
		response.StoreUnavailable(w, "Хранилище содержимого недоступно")
	case errors.Is(err, service.ErrStoreIO):
		response.StoreIOError(w, "Ошибка хранилища содержимого")
	default:
		h.logger.Error("Необработанная ошибка сервиса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		response.InternalError(w, "Внутренняя ошибка")
	}
}
