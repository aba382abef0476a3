// local.go - content-addressed хранилище на локальной файловой системе.
// Streaming-запись с подсчётом SHA-256 на лету, адрес - hex SHA-256
// исходных (несжатых) байтов. Одинаковое содержимое хранится один раз.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	// tmpDirName - поддиректория для незавершённых записей.
	tmpDirName = ".tmp"
	// zstdSuffix - суффикс объектов, сжатых zstd.
	zstdSuffix = ".zst"
)

// LocalStore - content-addressed хранилище в директории dataDir.
// Раскладка: {dataDir}/{addr[0:2]}/{addr[2:4]}/{addr}[.zst]
type LocalStore struct {
	// dataDir - корневая директория хранения (PM_LOCAL_DATA_DIR)
	dataDir string
	// compress - сжимать новые объекты zstd (PM_LOCAL_COMPRESS)
	compress bool
}

// NewLocalStore создаёт LocalStore. Проверяет и создаёт директорию
// данных и директорию временных файлов, если они не существуют.
func NewLocalStore(dataDir string, compress bool) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, tmpDirName), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &LocalStore{dataDir: dataDir, compress: compress}, nil
}

// Store записывает данные из reader на диск и возвращает hex SHA-256.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется, адрес не возвращается.
// Если объект с таким адресом уже есть, temp файл удаляется,
// а существующий объект остаётся без изменений.
func (s *LocalStore) Store(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	tmpPath := filepath.Join(s.dataDir, tmpDirName, uuid.NewString()+".tmp")

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("%w: создание временного файла: %w", ErrIO, err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)

	if err := s.writeObject(f, tee); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: запись данных: %w", ErrIO, err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: fsync: %w", ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: закрытие файла: %w", ErrIO, err)
	}

	address := hex.EncodeToString(hasher.Sum(nil))

	// Дедупликация: содержимое уже хранится (в любом формате)
	if s.Exists(address) {
		os.Remove(tmpPath)
		return address, nil
	}

	finalPath := s.objectPath(address, s.compress)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: создание директории объекта: %w", ErrIO, err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: атомарное переименование: %w", ErrIO, err)
	}

	return address, nil
}

// writeObject копирует поток в файл, при необходимости через zstd-энкодер.
func (s *LocalStore) writeObject(f *os.File, r io.Reader) error {
	if !s.compress {
		_, err := io.Copy(f, r)
		return err
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("создание zstd-энкодера: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Fetch открывает объект по адресу. Сжатые объекты распаковываются прозрачно.
// Адрес, не являющийся hex SHA-256, считается неизвестным.
func (s *LocalStore) Fetch(ctx context.Context, address string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !isSHA256Hex(address) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, address)
	}

	f, err := os.Open(s.objectPath(address, false))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: открытие объекта %s: %w", ErrIO, address, err)
	}

	f, err = os.Open(s.objectPath(address, true))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
		}
		return nil, fmt.Errorf("%w: открытие объекта %s: %w", ErrIO, address, err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: создание zstd-декодера: %w", ErrIO, err)
	}
	return &zstdReadCloser{ReadCloser: dec.IOReadCloser(), file: f}, nil
}

// Exists проверяет наличие объекта (сжатого или нет).
func (s *LocalStore) Exists(address string) bool {
	if !isSHA256Hex(address) {
		return false
	}
	for _, compressed := range []bool{false, true} {
		if _, err := os.Stat(s.objectPath(address, compressed)); err == nil {
			return true
		}
	}
	return false
}

// CheckReady проверяет, что директория данных доступна на запись.
// Реализует интерфейс handlers.ReadinessChecker.
func (s *LocalStore) CheckReady() (status, message string) {
	f, err := os.CreateTemp(filepath.Join(s.dataDir, tmpDirName), "ready-*")
	if err != nil {
		return "fail", fmt.Sprintf("директория данных недоступна на запись: %v", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return "ok", "директория данных доступна"
}

// DataDir возвращает путь к директории данных.
func (s *LocalStore) DataDir() string {
	return s.dataDir
}

// objectPath возвращает путь объекта в fan-out дереве.
func (s *LocalStore) objectPath(address string, compressed bool) string {
	name := address
	if compressed {
		name += zstdSuffix
	}
	return filepath.Join(s.dataDir, address[0:2], address[2:4], name)
}

// isSHA256Hex проверяет, что строка - 64 символа hex в нижнем регистре.
func isSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// zstdReadCloser закрывает и декодер, и файл под ним.
type zstdReadCloser struct {
	io.ReadCloser
	file *os.File
}

func (z *zstdReadCloser) Close() error {
	z.ReadCloser.Close()
	return z.file.Close()
}
