// Пакет response - единый конверт JSON-ответов Proof Module.
// Формат: {"code": <int>, "message": "...", "data": ...}.
// HTTP-статус всегда совпадает с code. Все обработчики пишут ответы
// только через этот пакет.
package response

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые причины ошибок (data.reason).
const (
	ReasonValidationError  = "VALIDATION_ERROR"
	ReasonPayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ReasonNotFound         = "NOT_FOUND"
	ReasonStoreUnavailable = "STORE_UNAVAILABLE"
	ReasonStoreIOError     = "STORE_IO_ERROR"
	ReasonPersistenceError = "PERSISTENCE_ERROR"
	ReasonInternalError    = "INTERNAL_ERROR"
)

// MessageOK - сообщение успешного ответа.
const MessageOK = "OK"

// Envelope - конверт ответа.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorData - полезная нагрузка ответа с ошибкой.
type ErrorData struct {
	Reason string `json:"reason"`
	// ProofHash - адрес загруженного содержимого, если запись не сохранилась
	ProofHash string `json:"proofHash,omitempty"`
}

// write сериализует конверт с HTTP-статусом code.
func write(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Code)
	_ = json.NewEncoder(w).Encode(env)
}

// OK записывает успешный ответ 200 с данными.
func OK(w http.ResponseWriter, data any) {
	write(w, Envelope{Code: http.StatusOK, Message: MessageOK, Data: data})
}

// WriteError записывает ответ ошибки.
// status - HTTP статус и code конверта, reason - машиночитаемая причина.
func WriteError(w http.ResponseWriter, status int, reason, message string) {
	write(w, Envelope{Code: status, Message: message, Data: ErrorData{Reason: reason}})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError - 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ReasonValidationError, message)
}

// PayloadTooLarge - 413 тело запроса превышает лимит.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, ReasonPayloadTooLarge, message)
}

// NotFound - 404 запись или содержимое не найдены.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// StoreUnavailable - 503 хранилище содержимого недоступно.
func StoreUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, ReasonStoreUnavailable, message)
}

// StoreIOError - 502 хранилище ответило ошибкой.
func StoreIOError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, ReasonStoreIOError, message)
}

// PersistenceError - 500 содержимое загружено, запись не сохранена.
// proofHash возвращается клиенту для ручной сверки.
func PersistenceError(w http.ResponseWriter, message, proofHash string) {
	write(w, Envelope{
		Code:    http.StatusInternalServerError,
		Message: message,
		Data:    ErrorData{Reason: ReasonPersistenceError, ProofHash: proofHash},
	})
}

// InternalError - 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}
