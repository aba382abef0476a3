// proofs.go - обработчики API доказательств.
// POST /upload, GET /member/{memberId}, GET /community/{communityId},
// GET /{proofId}, GET /content/{proofHash}.
package handlers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/matebuilder/proof-module/internal/api/response"
	"github.com/matebuilder/proof-module/internal/service"
)

const (
	// formFileField - имя multipart-части с файлом доказательства.
	formFileField = "proofFile"
	// multipartOverhead - запас на заголовки частей и скалярные поля формы.
	multipartOverhead = 1 << 20
	// multipartMemory - объём формы, удерживаемый в памяти; остальное уходит во временные файлы.
	multipartMemory = 8 << 20
	// sniffLen - сколько байтов содержимого используется для определения Content-Type.
	sniffLen = 512
)

// uploadForm - скалярные поля формы загрузки.
type uploadForm struct {
	communityID     int64
	memberID        int64
	taskTitle       string
	taskDescription *string
}

// UploadProof обрабатывает POST /api/community/task/proof/upload.
// Скалярные поля принимаются как из multipart-формы, так и из query string.
func (h *APIHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadSize+multipartOverhead {
		response.PayloadTooLarge(w, h.tooLargeMessage())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.PayloadTooLarge(w, h.tooLargeMessage())
			return
		}
		response.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form, err := bindUploadForm(r)
	if err != nil {
		response.ValidationError(w, err.Error())
		return
	}

	file, header, err := r.FormFile(formFileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			response.ValidationError(w, "Поле 'proofFile' обязательно")
			return
		}
		response.ValidationError(w, fmt.Sprintf("Ошибка чтения файла: %s", err.Error()))
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		response.PayloadTooLarge(w, h.tooLargeMessage())
		return
	}

	record, err := h.proofs.SubmitProof(r.Context(), service.SubmitProofParams{
		CommunityID:     form.communityID,
		MemberID:        form.memberID,
		TaskTitle:       form.taskTitle,
		TaskDescription: form.taskDescription,
		Content:         file,
		Size:            header.Size,
		ContentType:     partContentType(header),
		FileName:        header.Filename,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	response.OK(w, toProofDTO(record))
}

// bindUploadForm извлекает скалярные поля из r.Form (query + multipart).
func bindUploadForm(r *http.Request) (uploadForm, error) {
	var f uploadForm
	if err := runtime.BindQueryParameter("form", true, true, "communityId", r.Form, &f.communityID); err != nil {
		return f, err
	}
	if err := runtime.BindQueryParameter("form", true, true, "memberId", r.Form, &f.memberID); err != nil {
		return f, err
	}
	if err := runtime.BindQueryParameter("form", true, true, "taskTitle", r.Form, &f.taskTitle); err != nil {
		return f, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "taskDescription", r.Form, &f.taskDescription); err != nil {
		return f, err
	}
	if f.taskDescription != nil && *f.taskDescription == "" {
		f.taskDescription = nil
	}
	return f, nil
}

// partContentType возвращает объявленный MIME-тип части или nil.
func partContentType(header *multipart.FileHeader) *string {
	ct := strings.TrimSpace(header.Header.Get("Content-Type"))
	if ct == "" {
		return nil
	}
	return &ct
}

func (h *APIHandler) tooLargeMessage() string {
	return fmt.Sprintf("Размер файла превышает лимит %s", humanize.Bytes(uint64(h.maxUploadSize)))
}

// ListByMember обрабатывает GET /api/community/task/proof/member/{memberId}.
func (h *APIHandler) ListByMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := bindIDParam(w, r, "memberId")
	if !ok {
		return
	}

	records, err := h.proofs.ListProofsByMember(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.OK(w, toProofDTOs(records))
}

// ListByCommunity обрабатывает GET /api/community/task/proof/community/{communityId}.
func (h *APIHandler) ListByCommunity(w http.ResponseWriter, r *http.Request) {
	communityID, ok := bindIDParam(w, r, "communityId")
	if !ok {
		return
	}

	records, err := h.proofs.ListProofsByCommunity(r.Context(), communityID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.OK(w, toProofDTOs(records))
}

// GetProof обрабатывает GET /api/community/task/proof/{proofId}.
func (h *APIHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	proofID, ok := bindIDParam(w, r, "proofId")
	if !ok {
		return
	}

	record, err := h.proofs.GetProof(r.Context(), proofID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.OK(w, toProofDTO(record))
}

// bindIDParam разбирает положительный int64 path-параметр.
// При ошибке записывает 400 и возвращает false.
func bindIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		response.ValidationError(w, err.Error())
		return 0, false
	}
	if id <= 0 {
		response.ValidationError(w, fmt.Sprintf("%s: должен быть положительным", name))
		return 0, false
	}
	return id, true
}

// GetProofContent обрабатывает GET /api/community/task/proof/content/{proofHash}.
// Содержимое по адресу неизменно, поэтому ETag - сам адрес.
func (h *APIHandler) GetProofContent(w http.ResponseWriter, r *http.Request) {
	proofHash := chi.URLParam(r, "proofHash")
	etag := `"` + proofHash + `"`

	if proofHash != "" && r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rc, err := h.proofs.FetchProofContent(r.Context(), proofHash)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		h.logger.Error("Ошибка чтения содержимого",
			slog.String("proof_hash", proofHash),
			slog.String("error", err.Error()),
		)
		response.StoreIOError(w, "Ошибка чтения содержимого")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(head))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)

	// Заголовки уже отправлены: ошибка потока только логируется
	if _, err := io.Copy(w, br); err != nil {
		h.logger.Warn("Поток содержимого прерван",
			slog.String("proof_hash", proofHash),
			slog.String("error", err.Error()),
		)
	}
}
