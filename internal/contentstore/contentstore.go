// Пакет contentstore - клиенты content-addressed хранилищ для байтов доказательств.
//
// Контракт узкий: Store принимает поток и возвращает адрес содержимого,
// Fetch по адресу возвращает поток. Реализации:
//   - IPFSStore - Kubo RPC API (адрес - CID)
//   - LocalStore - файловая система (адрес - hex SHA-256)
package contentstore

import (
	"context"
	"errors"
	"io"
)

// Ошибки хранилища. Реализации оборачивают их через %w,
// вызывающий код проверяет через errors.Is.
var (
	// ErrUnavailable - хранилище недоступно (транспортная ошибка).
	ErrUnavailable = errors.New("хранилище недоступно")
	// ErrIO - хранилище ответило, но операция чтения/записи не выполнена.
	ErrIO = errors.New("ошибка ввода-вывода хранилища")
	// ErrNotFound - адрес неизвестен хранилищу.
	ErrNotFound = errors.New("содержимое не найдено")
)

// Store - content-addressed хранилище.
type Store interface {
	// Store записывает поток и возвращает адрес содержимого.
	// При ошибке адрес не возвращается и частичное состояние не предполагается.
	Store(ctx context.Context, r io.Reader) (string, error)
	// Fetch возвращает поток содержимого по адресу.
	// Вызывающий код обязан закрыть ReadCloser.
	Fetch(ctx context.Context, address string) (io.ReadCloser, error)
}
