// errors.go - ошибки сервисного слоя Proof Module.
// Обработчики HTTP сопоставляют их с кодами ответа через errors.Is/errors.As.
package service

import (
	"errors"
	"fmt"

	"github.com/matebuilder/proof-module/internal/contentstore"
)

// Ошибки сервисного слоя.
var (
	// ErrValidation - параметры запроса не прошли проверку.
	ErrValidation = errors.New("некорректные параметры доказательства")
	// ErrPersistence - содержимое загружено, но запись не сохранена.
	ErrPersistence = errors.New("не удалось сохранить запись доказательства")
	// ErrNotFound - запись или содержимое не найдены.
	ErrNotFound = errors.New("доказательство не найдено")

	// ErrStoreUnavailable - хранилище содержимого недоступно (транспорт).
	ErrStoreUnavailable = contentstore.ErrUnavailable
	// ErrStoreIO - хранилище ответило ошибкой при записи или чтении.
	ErrStoreIO = contentstore.ErrIO
)

// ValidationError - ошибка проверки одного поля.
// errors.Is(err, ErrValidation) == true.
type ValidationError struct {
	// Field - имя поля в терминах API (communityId, taskTitle, ...)
	Field string
	// Message - описание нарушения
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PersistenceError - запись в БД не удалась после успешной загрузки.
// Содержимое остаётся в хранилище; ProofHash позволяет сверить его вручную.
// Совпадает и с ErrPersistence, и с исходной ошибкой.
type PersistenceError struct {
	ProofHash string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s (proof_hash=%s): %v", ErrPersistence.Error(), e.ProofHash, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
