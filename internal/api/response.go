package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type errorBody struct {
	Detail     string         `json:"detail"`
	Code       string         `json:"code,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    errors.Context `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.GetGlobalLogger().WithComponent("api").WithError(err).Error("Failed to encode response")
	}
}

// writeError answers with the status of a ReconcilerError; anything else is
// a 500.
func writeError(w http.ResponseWriter, err error) {
	re := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "unexpected error during request")
	body := errorBody{
		Detail:     re.Message,
		Code:       string(re.Code),
		Suggestion: re.Suggestion,
	}
	if re.Category != errors.CategoryInternal && re.Category != errors.CategoryStorage {
		body.Context = re.Context
	}
	writeJSON(w, re.HTTPStatus(), body)
}

func writeUnavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: what + " is not configured"})
}

func writeXLSX(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// columnsOf never returns nil so the JSON carries [] for an empty table.
func columnsOf(t *models.Table) []string {
	if cols := t.Columns(); cols != nil {
		return cols
	}
	return []string{}
}

// uploads holds the files saved for one request.
type uploads struct {
	dir   string
	paths []string
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (*uploads, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "multipart", nil, err).
			WithSuggestion("send the files as multipart/form-data")
	}
	return &uploads{dir: s.config.UploadDir}, nil
}

// save copies the form file field into the upload dir and returns it as a
// loader source named name.
func (u *uploads) save(r *http.Request, field, name string) (parsers.Source, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return parsers.Source{}, errors.ValidationError(errors.CodeMissingField, field, nil, err)
	}
	defer file.Close()

	path, err := u.store(file, header)
	if err != nil {
		return parsers.Source{}, err
	}
	return parsers.Source{Name: name, Filename: header.Filename, Path: path}, nil
}

func (u *uploads) store(file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", errors.FileError(errors.CodeFilePermission, u.dir, err)
	}
	out, err := os.CreateTemp(u.dir, "upload-*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		return "", errors.FileError(errors.CodeFilePermission, u.dir, err)
	}
	u.paths = append(u.paths, out.Name())
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		return "", errors.FileError(errors.CodeFilePermission, out.Name(), err)
	}
	if err := out.Close(); err != nil {
		return "", errors.FileError(errors.CodeFilePermission, out.Name(), err)
	}
	return out.Name(), nil
}

// cleanup removes every saved upload.
func (u *uploads) cleanup() {
	for _, p := range u.paths {
		_ = os.Remove(p)
	}
}

func formString(r *http.Request, key, fallback string) string {
	if r.MultipartForm != nil {
		if v, ok := r.MultipartForm.Value[key]; ok && len(v) > 0 {
			return v[0]
		}
	}
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

func formInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(formString(r, key, ""))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationError(errors.CodeInvalidFormat, key, raw, err)
	}
	return n, nil
}
