package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matebuilder/proof-module/internal/contentstore"
	"github.com/matebuilder/proof-module/internal/domain/model"
	"github.com/matebuilder/proof-module/internal/repository"
)

// --- Mock store ---

// spyStore - мок contentstore.Store, считающий вызовы.
type spyStore struct {
	mu         sync.Mutex
	storeCalls int
	fetchCalls int
	blobs      map[string][]byte

	storeFn func(ctx context.Context, r io.Reader) (string, error)
	fetchFn func(ctx context.Context, address string) (io.ReadCloser, error)
}

func newSpyStore() *spyStore {
	return &spyStore{blobs: make(map[string][]byte)}
}

func (s *spyStore) Store(ctx context.Context, r io.Reader) (string, error) {
	s.mu.Lock()
	s.storeCalls++
	s.mu.Unlock()

	if s.storeFn != nil {
		return s.storeFn(ctx, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	address := hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.blobs[address] = data
	s.mu.Unlock()
	return address, nil
}

func (s *spyStore) Fetch(ctx context.Context, address string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.fetchCalls++
	data, ok := s.blobs[address]
	s.mu.Unlock()

	if s.fetchFn != nil {
		return s.fetchFn(ctx, address)
	}
	if !ok {
		return nil, contentstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// --- In-memory repository ---

// memRepo - in-memory реализация repository.ProofRepository.
// created_at назначается монотонными часами, как DEFAULT now() в PostgreSQL.
type memRepo struct {
	mu      sync.Mutex
	records []*model.ProofRecord
	nextID  int64
	clock   time.Time

	insertErr    error
	getByIDCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (r *memRepo) Insert(_ context.Context, p *model.ProofRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insertErr != nil {
		return r.insertErr
	}
	r.clock = r.clock.Add(time.Second)
	p.ID = r.nextID
	p.CreatedAt = r.clock
	p.UpdatedAt = r.clock
	r.nextID++

	stored := *p
	r.records = append(r.records, &stored)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*model.ProofRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.getByIDCalls++
	for _, p := range r.records {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) ListByMember(_ context.Context, memberID int64) ([]*model.ProofRecord, error) {
	return r.filter(func(p *model.ProofRecord) bool { return p.MemberID == memberID }), nil
}

func (r *memRepo) ListByCommunity(_ context.Context, communityID int64) ([]*model.ProofRecord, error) {
	return r.filter(func(p *model.ProofRecord) bool { return p.CommunityID == communityID }), nil
}

func (r *memRepo) filter(match func(*model.ProofRecord) bool) []*model.ProofRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*model.ProofRecord, 0)
	for _, p := range r.records {
		if match(p) {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// --- Хелперы ---

func newTestProofService(store contentstore.Store, repo repository.ProofRepository) *ProofService {
	return NewProofService(store, repo, NewCacheService(100, 5*time.Minute), slog.Default())
}

func strPtr(s string) *string { return &s }

// validParams возвращает корректные параметры загрузки.
func validParams(communityID, memberID int64, title, body, contentType string) SubmitProofParams {
	p := SubmitProofParams{
		CommunityID: communityID,
		MemberID:    memberID,
		TaskTitle:   title,
		Content:     strings.NewReader(body),
		Size:        int64(len(body)),
		FileName:    title + ".bin",
	}
	if contentType != "" {
		p.ContentType = strPtr(contentType)
	}
	return p
}

// --- Тесты SubmitProof ---

func TestSubmitProof_Success(t *testing.T) {
	store := newSpyStore()
	repo := newMemRepo()
	svc := newTestProofService(store, repo)

	params := validParams(5, 42, "Plant a tree", "png bytes", "image/png")
	params.TaskDescription = strPtr("in the park")

	rec, err := svc.SubmitProof(context.Background(), params)
	if err != nil {
		t.Fatalf("SubmitProof() ошибка: %v", err)
	}
	if rec.ID <= 0 {
		t.Errorf("ID = %d, ожидался положительный", rec.ID)
	}
	if rec.ProofType != model.ProofTypeImage {
		t.Errorf("ProofType = %q, ожидался image", rec.ProofType)
	}
	if rec.ProofHash == "" {
		t.Error("ProofHash не заполнен")
	}
	if rec.FileName != "Plant a tree.bin" {
		t.Errorf("FileName = %q", rec.FileName)
	}
	if rec.CreatedBy == nil || *rec.CreatedBy != 42 || rec.UpdatedBy == nil || *rec.UpdatedBy != 42 {
		t.Errorf("CreatedBy/UpdatedBy должны быть равны memberId")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt не заполнен")
	}
	if store.storeCalls != 1 {
		t.Errorf("вызовов Store: %d, ожидался 1", store.storeCalls)
	}
	if got := string(store.blobs[rec.ProofHash]); got != "png bytes" {
		t.Errorf("в хранилище %q, ожидалось %q", got, "png bytes")
	}
}

func TestSubmitProof_Classification(t *testing.T) {
	tests := []struct {
		contentType string
		expected    model.ProofType
	}{
		{"image/jpeg", model.ProofTypeImage},
		{"video/mp4", model.ProofTypeVideo},
		{"application/pdf", model.ProofTypeDocument},
		{"", model.ProofTypeDocument},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			svc := newTestProofService(newSpyStore(), newMemRepo())

			rec, err := svc.SubmitProof(context.Background(), validParams(1, 1, "task", "data", tt.contentType))
			if err != nil {
				t.Fatalf("SubmitProof() ошибка: %v", err)
			}
			if rec.ProofType != tt.expected {
				t.Errorf("ProofType = %q, ожидался %q", rec.ProofType, tt.expected)
			}
		})
	}
}

func TestSubmitProof_ValidationError_NoIO(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *SubmitProofParams)
		field  string
	}{
		{"пустой заголовок", func(p *SubmitProofParams) { p.TaskTitle = "" }, "taskTitle"},
		{"заголовок из пробелов", func(p *SubmitProofParams) { p.TaskTitle = "  \t " }, "taskTitle"},
		{"нулевой communityId", func(p *SubmitProofParams) { p.CommunityID = 0 }, "communityId"},
		{"отрицательный memberId", func(p *SubmitProofParams) { p.MemberID = -1 }, "memberId"},
		{"нет файла", func(p *SubmitProofParams) { p.Content = nil }, "proofFile"},
		{"пустой файл", func(p *SubmitProofParams) { p.Size = 0 }, "proofFile"},
		{"NUL в заголовке", func(p *SubmitProofParams) { p.TaskTitle = "plant\x00tree" }, "taskTitle"},
		{"некорректный UTF-8 в заголовке", func(p *SubmitProofParams) { p.TaskTitle = "plant\xff" }, "taskTitle"},
		{"NUL в описании", func(p *SubmitProofParams) {
			d := "water\x00daily"
			p.TaskDescription = &d
		}, "taskDescription"},
		{"некорректный UTF-8 в имени файла", func(p *SubmitProofParams) { p.FileName = "a\xfe.png" }, "fileName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newSpyStore()
			repo := newMemRepo()
			svc := newTestProofService(store, repo)

			params := validParams(1, 1, "task", "data", "image/png")
			tt.mutate(&params)

			_, err := svc.SubmitProof(context.Background(), params)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ошибка = %v, ожидалась ErrValidation", err)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("ошибка %T, ожидался *ValidationError", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, ожидалось %q", vErr.Field, tt.field)
			}
			if store.storeCalls != 0 {
				t.Errorf("вызовов Store: %d, ожидалось 0", store.storeCalls)
			}
			if repo.count() != 0 {
				t.Errorf("записей в БД: %d, ожидалось 0", repo.count())
			}
		})
	}
}

func TestSubmitProof_StoreFailure_NoRecord(t *testing.T) {
	for _, storeErr := range []error{contentstore.ErrUnavailable, contentstore.ErrIO} {
		t.Run(storeErr.Error(), func(t *testing.T) {
			store := newSpyStore()
			store.storeFn = func(_ context.Context, _ io.Reader) (string, error) {
				return "", storeErr
			}
			repo := newMemRepo()
			svc := newTestProofService(store, repo)

			rec, err := svc.SubmitProof(context.Background(), validParams(3, 7, "task", "data", "video/mp4"))
			if !errors.Is(err, storeErr) {
				t.Fatalf("ошибка = %v, ожидалась %v", err, storeErr)
			}
			if rec != nil {
				t.Error("запись не должна возвращаться")
			}
			if repo.count() != 0 {
				t.Errorf("записей в БД: %d, ожидалось 0", repo.count())
			}

			list, err := svc.ListProofsByMember(context.Background(), 7)
			if err != nil {
				t.Fatalf("ListProofsByMember() ошибка: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("ожидался пустой список, получено %d", len(list))
			}
		})
	}
}

func TestSubmitProof_PersistenceFailure_KeepsHash(t *testing.T) {
	store := newSpyStore()
	repo := newMemRepo()
	dbErr := errors.New("connection reset by peer")
	repo.insertErr = dbErr
	svc := newTestProofService(store, repo)

	_, err := svc.SubmitProof(context.Background(), validParams(3, 7, "task", "orphan bytes", "image/png"))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("ошибка = %v, ожидалась ErrPersistence", err)
	}
	if !errors.Is(err, dbErr) {
		t.Error("исходная ошибка БД должна сохраняться в цепочке")
	}

	var pErr *PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("ошибка %T, ожидался *PersistenceError", err)
	}
	if pErr.ProofHash == "" {
		t.Fatal("ProofHash пуст")
	}
	if _, ok := store.blobs[pErr.ProofHash]; !ok {
		t.Error("содержимое должно остаться в хранилище")
	}
	if !strings.Contains(err.Error(), pErr.ProofHash) {
		t.Error("текст ошибки должен содержать proof_hash")
	}

	for _, list := range [][]*model.ProofRecord{
		mustList(t, svc.ListProofsByMember, 7),
		mustList(t, svc.ListProofsByCommunity, 3),
	} {
		if len(list) != 0 {
			t.Errorf("ожидался пустой список, получено %d", len(list))
		}
	}
}

// --- Тесты выборок ---

func mustList(t *testing.T, fn func(context.Context, int64) ([]*model.ProofRecord, error), id int64) []*model.ProofRecord {
	t.Helper()
	list, err := fn(context.Background(), id)
	if err != nil {
		t.Fatalf("выборка ошибка: %v", err)
	}
	return list
}

func TestListProofsByMember_Ordering(t *testing.T) {
	svc := newTestProofService(newSpyStore(), newMemRepo())
	ctx := context.Background()

	for _, title := range []string{"t1", "t2", "t3"} {
		if _, err := svc.SubmitProof(ctx, validParams(5, 42, title, "bytes-"+title, "image/png")); err != nil {
			t.Fatalf("SubmitProof(%s) ошибка: %v", title, err)
		}
	}
	if _, err := svc.SubmitProof(ctx, validParams(5, 43, "foreign", "x", "")); err != nil {
		t.Fatalf("SubmitProof(foreign) ошибка: %v", err)
	}

	list := mustList(t, svc.ListProofsByMember, 42)
	want := []string{"t3", "t2", "t1"}
	if len(list) != len(want) {
		t.Fatalf("получено %d записей, ожидалось %d", len(list), len(want))
	}
	for i, title := range want {
		if list[i].TaskTitle != title {
			t.Errorf("list[%d] = %q, ожидалось %q", i, list[i].TaskTitle, title)
		}
		if list[i].MemberID != 42 {
			t.Errorf("list[%d].MemberID = %d, ожидался 42", i, list[i].MemberID)
		}
	}
}

func TestListProofsByCommunity_Union(t *testing.T) {
	svc := newTestProofService(newSpyStore(), newMemRepo())
	ctx := context.Background()

	submissions := []struct {
		community, member int64
		title             string
	}{
		{10, 1, "a"},
		{10, 2, "b"},
		{11, 1, "other community"},
		{10, 3, "c"},
	}
	for _, s := range submissions {
		if _, err := svc.SubmitProof(ctx, validParams(s.community, s.member, s.title, s.title, "")); err != nil {
			t.Fatalf("SubmitProof(%s) ошибка: %v", s.title, err)
		}
	}

	list := mustList(t, svc.ListProofsByCommunity, 10)
	want := []string{"c", "b", "a"}
	if len(list) != len(want) {
		t.Fatalf("получено %d записей, ожидалось %d", len(list), len(want))
	}
	for i, title := range want {
		if list[i].TaskTitle != title {
			t.Errorf("list[%d] = %q, ожидалось %q", i, list[i].TaskTitle, title)
		}
	}
}

func TestListProofs_EmptyNotNil(t *testing.T) {
	svc := newTestProofService(newSpyStore(), newMemRepo())

	for _, list := range [][]*model.ProofRecord{
		mustList(t, svc.ListProofsByMember, 999),
		mustList(t, svc.ListProofsByCommunity, 999),
	} {
		if list == nil {
			t.Error("ожидался пустой срез, получен nil")
		}
	}
}

func TestSubmitProof_RoundTrip(t *testing.T) {
	svc := newTestProofService(newSpyStore(), newMemRepo())
	ctx := context.Background()

	rec, err := svc.SubmitProof(ctx, validParams(8, 9, "report", "pdf bytes", "application/pdf"))
	if err != nil {
		t.Fatalf("SubmitProof() ошибка: %v", err)
	}

	for name, list := range map[string][]*model.ProofRecord{
		"member":    mustList(t, svc.ListProofsByMember, 9),
		"community": mustList(t, svc.ListProofsByCommunity, 8),
	} {
		if len(list) != 1 {
			t.Fatalf("%s: получено %d записей, ожидалась 1", name, len(list))
		}
		got := list[0]
		if got.ProofHash != rec.ProofHash || got.ProofType != rec.ProofType || got.FileName != rec.FileName {
			t.Errorf("%s: запись %+v не совпадает с возвращённой %+v", name, got, rec)
		}
	}
}

// --- Тесты GetProof ---

func TestGetProof_CacheHit(t *testing.T) {
	repo := newMemRepo()
	svc := newTestProofService(newSpyStore(), repo)
	ctx := context.Background()

	rec, err := svc.SubmitProof(ctx, validParams(1, 1, "task", "data", ""))
	if err != nil {
		t.Fatalf("SubmitProof() ошибка: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := svc.GetProof(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetProof() ошибка: %v", err)
		}
		if got.ProofHash != rec.ProofHash {
			t.Errorf("ProofHash = %q, ожидался %q", got.ProofHash, rec.ProofHash)
		}
	}
	if repo.getByIDCalls != 1 {
		t.Errorf("обращений к БД: %d, ожидалось 1", repo.getByIDCalls)
	}
}

// TestGetProof_CachedRecordIsolated проверяет, что изменение возвращённой
// записи не влияет на последующие ответы из кэша.
func TestGetProof_CachedRecordIsolated(t *testing.T) {
	repo := newMemRepo()
	svc := newTestProofService(newSpyStore(), repo)
	ctx := context.Background()

	rec, err := svc.SubmitProof(ctx, validParams(1, 1, "task", "data", ""))
	if err != nil {
		t.Fatalf("SubmitProof() ошибка: %v", err)
	}

	first, err := svc.GetProof(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetProof() ошибка: %v", err)
	}
	first.TaskTitle = "изменено после промаха"

	second, err := svc.GetProof(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetProof() ошибка: %v", err)
	}
	second.TaskTitle = "изменено после попадания"

	third, err := svc.GetProof(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetProof() ошибка: %v", err)
	}
	if third.TaskTitle != "task" {
		t.Errorf("TaskTitle = %q, ожидался task", third.TaskTitle)
	}
	if repo.getByIDCalls != 1 {
		t.Errorf("обращений к БД: %d, ожидалось 1", repo.getByIDCalls)
	}
}

func TestGetProof_NotFound(t *testing.T) {
	svc := newTestProofService(newSpyStore(), newMemRepo())

	_, err := svc.GetProof(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

func TestGetProof_InvalidID(t *testing.T) {
	repo := newMemRepo()
	svc := newTestProofService(newSpyStore(), repo)

	_, err := svc.GetProof(context.Background(), 0)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
	if repo.getByIDCalls != 0 {
		t.Error("при некорректном id обращения к БД быть не должно")
	}
}

// --- Тесты FetchProofContent ---

func TestFetchProofContent(t *testing.T) {
	store := newSpyStore()
	svc := newTestProofService(store, newMemRepo())
	ctx := context.Background()

	rec, err := svc.SubmitProof(ctx, validParams(1, 1, "task", "video bytes", "video/mp4"))
	if err != nil {
		t.Fatalf("SubmitProof() ошибка: %v", err)
	}

	rc, err := svc.FetchProofContent(ctx, rec.ProofHash)
	if err != nil {
		t.Fatalf("FetchProofContent() ошибка: %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close() ошибка: %v", err)
	}
	// Повторный Close не должен ломать метрики
	_ = rc.Close()

	if string(data) != "video bytes" {
		t.Errorf("содержимое = %q, ожидалось %q", data, "video bytes")
	}
}

func TestFetchProofContent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		storeErr error
		expected error
	}{
		{"не найдено", contentstore.ErrNotFound, ErrNotFound},
		{"недоступно", contentstore.ErrUnavailable, ErrStoreUnavailable},
		{"ошибка чтения", contentstore.ErrIO, ErrStoreIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newSpyStore()
			store.fetchFn = func(_ context.Context, _ string) (io.ReadCloser, error) {
				return nil, tt.storeErr
			}
			svc := newTestProofService(store, newMemRepo())

			_, err := svc.FetchProofContent(context.Background(), "QmSomething")
			if !errors.Is(err, tt.expected) {
				t.Errorf("ошибка = %v, ожидалась %v", err, tt.expected)
			}
			if store.fetchCalls != 1 {
				t.Errorf("вызовов Fetch: %d, ожидался 1 (без повторов)", store.fetchCalls)
			}
		})
	}
}

func TestFetchProofContent_EmptyHash(t *testing.T) {
	store := newSpyStore()
	svc := newTestProofService(store, newMemRepo())

	if _, err := svc.FetchProofContent(context.Background(), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
	if store.fetchCalls != 0 {
		t.Error("при пустом адресе обращения к хранилищу быть не должно")
	}
}
