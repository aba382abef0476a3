// Пакет model - доменные модели Proof Module.
// ProofRecord - маппинг таблицы community_task_proof.
package model

import "time"

// ProofType - категория доказательства выполнения задачи.
type ProofType string

// Допустимые категории доказательств (закрытое множество).
const (
	ProofTypeImage    ProofType = "image"
	ProofTypeVideo    ProofType = "video"
	ProofTypeDocument ProofType = "document"
)

// Valid сообщает, принадлежит ли значение закрытому множеству категорий.
func (t ProofType) Valid() bool {
	switch t {
	case ProofTypeImage, ProofTypeVideo, ProofTypeDocument:
		return true
	}
	return false
}

// ProofRecord - метаданные доказательства. Сами байты хранятся только
// в content-addressed хранилище, здесь - лишь их адрес (ProofHash).
// Запись не изменяется после создания.
type ProofRecord struct {
	// ID - идентификатор записи (BIGSERIAL, назначается PostgreSQL)
	ID int64
	// CommunityID - идентификатор сообщества (внешняя ссылка, не проверяется)
	CommunityID int64
	// MemberID - идентификатор участника (внешняя ссылка, не проверяется)
	MemberID int64
	// TaskTitle - название задачи (обязательно)
	TaskTitle string
	// TaskDescription - описание задачи (опционально)
	TaskDescription *string
	// ProofType - категория, выведенная из объявленного MIME-типа
	ProofType ProofType
	// ProofHash - content address, возвращённый хранилищем
	ProofHash string
	// FileName - оригинальное имя файла, только для отображения
	FileName string
	// CreatedBy - кто создал запись
	CreatedBy *int64
	// CreatedAt - время создания записи, ключ сортировки выборок
	CreatedAt time.Time
	// UpdatedBy - кто последним обновил запись
	UpdatedBy *int64
	// UpdatedAt - время последнего обновления
	UpdatedAt time.Time
}
