package handlers

import (
	"time"

	"github.com/matebuilder/proof-module/internal/domain/model"
)

// proofDTO - JSON-представление записи доказательства.
// Имена полей совпадают с контрактом мобильного клиента.
type proofDTO struct {
	ID              int64           `json:"id"`
	CommunityID     int64           `json:"communityId"`
	MemberID        int64           `json:"memberId"`
	TaskTitle       string          `json:"taskTitle"`
	TaskDescription *string         `json:"taskDescription"`
	ProofType       model.ProofType `json:"proofType"`
	ProofHash       string          `json:"proofHash"`
	FileName        string          `json:"fileName"`
	CreateBy        *int64          `json:"createBy"`
	CreateTime      time.Time       `json:"createTime"`
	UpdateBy        *int64          `json:"updateBy"`
	UpdateTime      time.Time       `json:"updateTime"`
}

func toProofDTO(rec *model.ProofRecord) proofDTO {
	return proofDTO{
		ID:              rec.ID,
		CommunityID:     rec.CommunityID,
		MemberID:        rec.MemberID,
		TaskTitle:       rec.TaskTitle,
		TaskDescription: rec.TaskDescription,
		ProofType:       rec.ProofType,
		ProofHash:       rec.ProofHash,
		FileName:        rec.FileName,
		CreateBy:        rec.CreatedBy,
		CreateTime:      rec.CreatedAt.UTC(),
		UpdateBy:        rec.UpdatedBy,
		UpdateTime:      rec.UpdatedAt.UTC(),
	}
}

// toProofDTOs всегда возвращает не-nil срез: пустой список сериализуется в [].
func toProofDTOs(recs []*model.ProofRecord) []proofDTO {
	out := make([]proofDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toProofDTO(rec))
	}
	return out
}
