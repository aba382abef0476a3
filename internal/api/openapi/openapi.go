// Пакет openapi - встроенное OpenAPI-описание HTTP API Proof Module.
package openapi

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

// Load разбирает и проверяет встроенное описание.
// Секция servers сбрасывается: маршруты сопоставляются только по пути,
// без учёта хоста, на котором запущен сервис.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("некорректное OpenAPI-описание: %w", err)
	}

	doc.Servers = nil
	return doc, nil
}

// Raw возвращает исходный YAML описания.
func Raw() []byte {
	return document
}
