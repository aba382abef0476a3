// ipfs.go - клиент IPFS (Kubo RPC API) как content-addressed хранилище.
// Адрес содержимого - CID, возвращённый командой add.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSStore - хранилище поверх Kubo RPC API.
type IPFSStore struct {
	sh     *shell.Shell
	pin    bool
	logger *slog.Logger
}

// NewIPFSStore создаёт клиент IPFS.
// apiURL - адрес RPC API (например, http://127.0.0.1:5001).
// timeout - таймаут HTTP-запросов (PM_IPFS_TIMEOUT); ограничивает и add, и cat.
// pin - закреплять загруженное содержимое на узле (PM_IPFS_PIN).
func NewIPFSStore(apiURL string, timeout time.Duration, pin bool, logger *slog.Logger) *IPFSStore {
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			// Настройка пула idle-соединений для эффективного переиспользования
			MaxIdleConnsPerHost: 10,
		},
	}

	return &IPFSStore{
		sh:     shell.NewShellWithClient(strings.TrimRight(apiURL, "/"), httpClient),
		pin:    pin,
		logger: logger.With(slog.String("component", "ipfs_store")),
	}
}

// Store загружает поток в IPFS и возвращает CID.
func (s *IPFSStore) Store(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	start := time.Now()
	cid, err := s.sh.Add(r, shell.Pin(s.pin))
	if err != nil {
		return "", classifyIPFSError("add", err)
	}

	s.logger.Debug("Содержимое загружено в IPFS",
		slog.String("cid", cid),
		slog.Duration("duration", time.Since(start)),
	)
	return cid, nil
}

// Fetch возвращает поток содержимого по CID.
func (s *IPFSStore) Fetch(ctx context.Context, address string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if address == "" {
		return nil, fmt.Errorf("%w: пустой адрес", ErrNotFound)
	}
	// Строка, не являющаяся CID, не может быть адресом в IPFS
	if _, err := cid.Decode(address); err != nil {
		return nil, fmt.Errorf("%w: некорректный CID %q: %w", ErrNotFound, address, err)
	}

	rc, err := s.sh.Cat(address)
	if err != nil {
		return nil, classifyIPFSError("cat", err)
	}
	return rc, nil
}

// CheckReady проверяет доступность RPC API узла.
// Реализует интерфейс handlers.ReadinessChecker.
func (s *IPFSStore) CheckReady() (status, message string) {
	if !s.sh.IsUp() {
		return "fail", "IPFS RPC API недоступен"
	}
	return "ok", "IPFS RPC API доступен"
}

// classifyIPFSError переводит ошибку go-ipfs-api в ошибки пакета.
// Ответ API с ошибкой (*shell.Error) - узел доступен: "not found",
// "invalid path" и "invalid cid" → ErrNotFound, остальное → ErrIO.
// Всё прочее - транспорт → ErrUnavailable.
func classifyIPFSError(command string, err error) error {
	var apiErr *shell.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		// "command not found" - HTTP 404 от неверного base path, а не отсутствие CID
		if isUnknownAddress(msg) {
			return fmt.Errorf("%w: ipfs %s: %w", ErrNotFound, command, err)
		}
		return fmt.Errorf("%w: ipfs %s: %w", ErrIO, command, err)
	}
	return fmt.Errorf("%w: ipfs %s: %w", ErrUnavailable, command, err)
}

// isUnknownAddress сообщает, что узел не знает запрошенный адрес.
// "command not found" - HTTP 404 от неверного base path, а не отсутствие CID.
func isUnknownAddress(msg string) bool {
	switch {
	case strings.Contains(msg, "command not found"):
		return false
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "invalid path"),
		strings.Contains(msg, "invalid cid"):
		return true
	}
	return false
}
