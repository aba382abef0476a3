package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/matebuilder/proof-module/internal/config"
	"github.com/matebuilder/proof-module/internal/database"
	"github.com/matebuilder/proof-module/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("matebuilder_test"),
		postgres.WithUsername("matebuilder"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("PM_DB_HOST", host)
	t.Setenv("PM_DB_PORT", port.Port())
	t.Setenv("PM_DB_NAME", "matebuilder_test")
	t.Setenv("PM_DB_USER", "matebuilder")
	t.Setenv("PM_DB_PASSWORD", "test-password")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }

// newRecord создаёт запись для вставки.
func newRecord(communityID, memberID int64, title string) *model.ProofRecord {
	return &model.ProofRecord{
		CommunityID: communityID,
		MemberID:    memberID,
		TaskTitle:   title,
		ProofType:   model.ProofTypeImage,
		ProofHash:   "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		FileName:    title + ".png",
		CreatedBy:   int64Ptr(memberID),
		UpdatedBy:   int64Ptr(memberID),
	}
}

// --- Интеграционные тесты ProofRepository ---

func TestProofRepository_InsertGet(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProofRepository(pool)

	rec := newRecord(5, 42, "Plant a tree")
	rec.TaskDescription = strPtr("in the park")

	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}
	if rec.ID <= 0 {
		t.Errorf("ID = %d, ожидался положительный", rec.ID)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("CreatedAt/UpdatedAt не установлены")
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.TaskTitle != "Plant a tree" {
		t.Errorf("TaskTitle = %q, хотели %q", got.TaskTitle, "Plant a tree")
	}
	if got.TaskDescription == nil || *got.TaskDescription != "in the park" {
		t.Errorf("TaskDescription = %v, хотели in the park", got.TaskDescription)
	}
	if got.ProofType != model.ProofTypeImage {
		t.Errorf("ProofType = %q, хотели image", got.ProofType)
	}
	if got.ProofHash != rec.ProofHash {
		t.Errorf("ProofHash = %q, хотели %q", got.ProofHash, rec.ProofHash)
	}
	if got.CreatedBy == nil || *got.CreatedBy != 42 {
		t.Errorf("CreatedBy = %v, хотели 42", got.CreatedBy)
	}
}

func TestProofRepository_NullDescription(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProofRepository(pool)

	rec := newRecord(1, 1, "no description")
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.TaskDescription != nil {
		t.Errorf("TaskDescription = %q, хотели nil", *got.TaskDescription)
	}
}

func TestProofRepository_GetByID_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewProofRepository(pool)

	_, err := repo.GetByID(context.Background(), 999999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

func TestProofRepository_ListOrdering(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProofRepository(pool)

	// Три записи одного участника с разными created_at
	var ids []int64
	for _, title := range []string{"t1", "t2", "t3"} {
		rec := newRecord(7, 42, title)
		if err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) ошибка: %v", title, err)
		}
		ids = append(ids, rec.ID)
	}
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range ids {
		if _, err := pool.Exec(ctx,
			`UPDATE community_task_proof SET created_at = $1 WHERE id = $2`,
			base.Add(time.Duration(i)*time.Hour), id); err != nil {
			t.Fatalf("ошибка установки created_at: %v", err)
		}
	}
	// Запись другого участника того же сообщества
	other := newRecord(7, 43, "other")
	if err := repo.Insert(ctx, other); err != nil {
		t.Fatalf("Insert(other) ошибка: %v", err)
	}

	list, err := repo.ListByMember(ctx, 42)
	if err != nil {
		t.Fatalf("ListByMember() ошибка: %v", err)
	}
	want := []string{"t3", "t2", "t1"}
	if len(list) != len(want) {
		t.Fatalf("ListByMember() вернул %d записей, хотели %d", len(list), len(want))
	}
	for i, title := range want {
		if list[i].TaskTitle != title {
			t.Errorf("list[%d].TaskTitle = %q, хотели %q", i, list[i].TaskTitle, title)
		}
	}

	community, err := repo.ListByCommunity(ctx, 7)
	if err != nil {
		t.Fatalf("ListByCommunity() ошибка: %v", err)
	}
	if len(community) != 4 {
		t.Errorf("ListByCommunity() вернул %d записей, хотели 4", len(community))
	}
	if community[0].TaskTitle != "other" {
		t.Errorf("первой должна быть самая новая запись, получено %q", community[0].TaskTitle)
	}
}

func TestProofRepository_ListEqualTimestamps(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProofRepository(pool)

	var ids []int64
	for _, title := range []string{"a", "b"} {
		rec := newRecord(9, 9, title)
		if err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() ошибка: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	if _, err := pool.Exec(ctx,
		`UPDATE community_task_proof SET created_at = '2024-01-01T00:00:00Z' WHERE member_id = 9`); err != nil {
		t.Fatalf("ошибка выравнивания created_at: %v", err)
	}

	list, err := repo.ListByMember(ctx, 9)
	if err != nil {
		t.Fatalf("ListByMember() ошибка: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[1] || list[1].ID != ids[0] {
		t.Errorf("при равных created_at порядок должен быть id DESC")
	}
}

func TestProofRepository_ListEmpty(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewProofRepository(pool)

	list, err := repo.ListByCommunity(context.Background(), 123456)
	if err != nil {
		t.Fatalf("ListByCommunity() ошибка: %v", err)
	}
	if list == nil {
		t.Error("ожидался пустой срез, получен nil")
	}
	if len(list) != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", len(list))
	}
}

// --- Unit-тесты построения запросов ---

func TestBuildListQuery(t *testing.T) {
	for _, column := range []string{filterMember, filterCommunity} {
		q, err := buildListQuery(column)
		if err != nil {
			t.Fatalf("buildListQuery(%q) ошибка: %v", column, err)
		}
		if !strings.Contains(q, "WHERE "+column+" = $1") {
			t.Errorf("запрос не содержит фильтр по %s: %s", column, q)
		}
		if !strings.HasSuffix(q, "ORDER BY created_at DESC, id DESC") {
			t.Errorf("неверный порядок сортировки: %s", q)
		}
	}
}

func TestBuildListQuery_RejectsUnknownColumn(t *testing.T) {
	for _, column := range []string{"", "id", "proof_hash", "member_id; DROP TABLE community_task_proof"} {
		if _, err := buildListQuery(column); err == nil {
			t.Errorf("buildListQuery(%q) должен вернуть ошибку", column)
		}
	}
}

// fakeRow - mock pgx.Row, заполняющий значения по порядку столбцов.
type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("число столбцов не совпадает")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *string:
			*p = r.values[i].(string)
		case **string:
			*p, _ = r.values[i].(*string)
		case **int64:
			*p, _ = r.values[i].(*int64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return errors.New("неподдерживаемый тип")
		}
	}
	return nil
}

func TestScanProof(t *testing.T) {
	now := time.Now().UTC()
	row := &fakeRow{values: []any{
		int64(1), int64(5), int64(42), "title", strPtr("desc"),
		"video", "hash", "clip.mp4", int64Ptr(42), now, int64Ptr(42), now,
	}}

	var p model.ProofRecord
	if err := scanProof(row, &p); err != nil {
		t.Fatalf("scanProof() ошибка: %v", err)
	}
	if p.ID != 1 || p.CommunityID != 5 || p.MemberID != 42 {
		t.Errorf("идентификаторы = %d/%d/%d", p.ID, p.CommunityID, p.MemberID)
	}
	if p.ProofType != model.ProofTypeVideo {
		t.Errorf("ProofType = %q, ожидался video", p.ProofType)
	}
	if p.FileName != "clip.mp4" {
		t.Errorf("FileName = %q", p.FileName)
	}
	if !p.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, ожидался %v", p.CreatedAt, now)
	}
}

func TestScanProof_UnknownProofType(t *testing.T) {
	now := time.Now().UTC()
	row := &fakeRow{values: []any{
		int64(9), int64(5), int64(42), "title", (*string)(nil),
		"audio", "hash", "clip.mp3", int64Ptr(42), now, int64Ptr(42), now,
	}}

	var p model.ProofRecord
	if err := scanProof(row, &p); err == nil {
		t.Error("ожидалась ошибка для категории audio")
	}
}

func TestScanProof_Error(t *testing.T) {
	scanErr := errors.New("scan failed")
	var p model.ProofRecord
	if err := scanProof(&fakeRow{err: scanErr}, &p); !errors.Is(err, scanErr) {
		t.Errorf("ошибка = %v, ожидалась %v", err, scanErr)
	}
}
