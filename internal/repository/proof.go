package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/matebuilder/proof-module/internal/domain/model"
)

// proofColumns - список столбцов таблицы community_task_proof для SELECT/RETURNING.
const proofColumns = `id, community_id, member_id, task_title, task_description,
	proof_type, proof_hash, file_name, created_by, created_at, updated_by, updated_at`

// Допустимые столбцы фильтра выборок (whitelist).
const (
	filterMember    = "member_id"
	filterCommunity = "community_id"
)

// ProofRepository - интерфейс доступа к записям доказательств.
// Обновления и удаления нет: записи неизменяемы после создания.
type ProofRepository interface {
	// Insert сохраняет запись. Заполняет ID и аудит-поля, назначенные БД.
	Insert(ctx context.Context, p *model.ProofRecord) error
	// GetByID возвращает запись по идентификатору или ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.ProofRecord, error)
	// ListByMember возвращает записи участника, новые первыми.
	ListByMember(ctx context.Context, memberID int64) ([]*model.ProofRecord, error)
	// ListByCommunity возвращает записи сообщества, новые первыми.
	ListByCommunity(ctx context.Context, communityID int64) ([]*model.ProofRecord, error)
}

// proofRepo - реализация ProofRepository через pgx.
type proofRepo struct {
	db DBTX
}

// NewProofRepository создаёт репозиторий доказательств.
func NewProofRepository(db DBTX) ProofRepository {
	return &proofRepo{db: db}
}

// Insert добавляет запись. created_at/updated_at выставляет PostgreSQL.
func (r *proofRepo) Insert(ctx context.Context, p *model.ProofRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO community_task_proof (
			community_id, member_id, task_title, task_description,
			proof_type, proof_hash, file_name, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s`, proofColumns)

	err := scanProof(r.db.QueryRow(ctx, query,
		p.CommunityID, p.MemberID, p.TaskTitle, p.TaskDescription,
		string(p.ProofType), p.ProofHash, p.FileName, p.CreatedBy, p.UpdatedBy,
	), p)
	if err != nil {
		return fmt.Errorf("ошибка создания записи доказательства: %w", err)
	}
	return nil
}

// GetByID возвращает запись по идентификатору или ErrNotFound.
func (r *proofRepo) GetByID(ctx context.Context, id int64) (*model.ProofRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM community_task_proof WHERE id = $1`, proofColumns)

	p := &model.ProofRecord{}
	if err := scanProof(r.db.QueryRow(ctx, query, id), p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения доказательства: %w", err)
	}
	return p, nil
}

// ListByMember возвращает записи участника.
func (r *proofRepo) ListByMember(ctx context.Context, memberID int64) ([]*model.ProofRecord, error) {
	return r.listBy(ctx, filterMember, memberID)
}

// ListByCommunity возвращает записи сообщества.
func (r *proofRepo) ListByCommunity(ctx context.Context, communityID int64) ([]*model.ProofRecord, error) {
	return r.listBy(ctx, filterCommunity, communityID)
}

// listBy выполняет выборку по одному столбцу-фильтру.
// Пустой результат - пустой срез, не nil.
func (r *proofRepo) listBy(ctx context.Context, column string, value int64) ([]*model.ProofRecord, error) {
	query, err := buildListQuery(column)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки доказательств по %s: %w", column, err)
	}
	defer rows.Close()

	result := make([]*model.ProofRecord, 0)
	for rows.Next() {
		p := &model.ProofRecord{}
		if err := scanProof(rows, p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования доказательства: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}

// buildListQuery строит SELECT с фильтром по whitelist-столбцу.
// Порядок: created_at DESC, при равенстве - id DESC (детерминированно).
func buildListQuery(column string) (string, error) {
	switch column {
	case filterMember, filterCommunity:
	default:
		return "", fmt.Errorf("недопустимый столбец фильтра %q", column)
	}

	return fmt.Sprintf(
		`SELECT %s FROM community_task_proof WHERE %s = $1 ORDER BY created_at DESC, id DESC`,
		proofColumns, column,
	), nil
}

// rowScanner - общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanProof заполняет запись из строки результата (порядок - proofColumns).
func scanProof(row rowScanner, p *model.ProofRecord) error {
	var proofType string
	if err := row.Scan(
		&p.ID, &p.CommunityID, &p.MemberID, &p.TaskTitle, &p.TaskDescription,
		&proofType, &p.ProofHash, &p.FileName, &p.CreatedBy, &p.CreatedAt, &p.UpdatedBy, &p.UpdatedAt,
	); err != nil {
		return err
	}
	p.ProofType = model.ProofType(proofType)
	if !p.ProofType.Valid() {
		return fmt.Errorf("запись %d: неизвестная категория доказательства %q", p.ID, proofType)
	}
	return nil
}
