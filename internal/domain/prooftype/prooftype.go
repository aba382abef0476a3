// Пакет prooftype - классификация доказательств по объявленному MIME-типу.
//
// Правило (проверяется по порядку):
//   - тип не объявлен → document
//   - префикс "image/" → image
//   - префикс "video/" → video
//   - всё остальное → document
//
// Неизвестные типы не отклоняются, а считаются документами.
package prooftype

import (
	"strings"

	"github.com/matebuilder/proof-module/internal/domain/model"
)

// Classify возвращает категорию доказательства для объявленного MIME-типа.
// nil означает, что клиент тип не передал.
func Classify(declared *string) model.ProofType {
	if declared == nil {
		return model.ProofTypeDocument
	}
	switch {
	case strings.HasPrefix(*declared, "image/"):
		return model.ProofTypeImage
	case strings.HasPrefix(*declared, "video/"):
		return model.ProofTypeVideo
	default:
		return model.ProofTypeDocument
	}
}
