package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/journal"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/internal/settings"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.deps.Settings.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, errors.ValidationError(errors.CodeInvalidFormat, "body", nil, err))
		return
	}
	parsed, err := settings.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	saved, err := s.deps.Settings.Save(parsed)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("user", UserFromContext(r.Context())).Info("Settings saved")
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleUploadSplitList(w http.ResponseWriter, r *http.Request) {
	if _, err := s.parseMultipart(w, r); err != nil {
		writeError(w, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.ValidationError(errors.CodeMissingField, "file", nil, err))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		writeError(w, errors.ValidationError(errors.CodeMissingField, "filename", header.Filename, nil))
		return
	}
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		writeError(w, errors.FileError(errors.CodeFilePermission, s.config.DataDir, err))
		return
	}
	path := filepath.Join(s.config.DataDir, name)
	out, err := os.Create(path)
	if err != nil {
		writeError(w, errors.FileError(errors.CodeFilePermission, path, err))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		writeError(w, errors.FileError(errors.CodeFilePermission, path, err))
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, errors.FileError(errors.CodeFilePermission, path, err))
		return
	}

	if _, err := s.deps.Settings.Update(func(st *settings.Settings) { st.SplitListPath = path }); err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("path", path).Info("Split reference list uploaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "new_path": path})
}

// requestSettings reads settings_json, falling back to the stored settings
// when the form does not carry it.
func (s *Server) requestSettings(r *http.Request) (*settings.Settings, error) {
	raw := formString(r, "settings_json", "")
	if strings.TrimSpace(raw) == "" {
		return s.deps.Settings.Load()
	}
	return settings.Parse([]byte(raw))
}

type compareResponse struct {
	*reconciler.Bundle
	Token string `json:"token,omitempty"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	up, err := s.parseMultipart(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer up.cleanup()

	req := &reconciler.CompareRequest{}
	if req.File1, err = up.save(r, "file1", "Unity"); err != nil {
		writeError(w, err)
		return
	}
	if req.File2, err = up.save(r, "file2", "AIS"); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.requestSettings(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req.Columns = compareColumns(r, st)

	cfg, err := reconciler.ConfigFromSettings(st)
	if err != nil {
		writeError(w, err)
		return
	}
	svc, err := s.deps.Service.WithConfig(cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	var bundle *reconciler.Bundle
	err = s.pool.Do(r.Context(), func() error {
		var runErr error
		bundle, runErr = svc.Compare(r.Context(), req)
		return runErr
	})
	inputs := []string{req.File1.Filename, req.File2.Filename}
	if err != nil {
		s.record(r, journal.ModeCompare, inputs, nil, started, err)
		writeError(w, err)
		return
	}
	s.record(r, journal.ModeCompare, inputs, bundleCounts(bundle), started, nil)

	resp := compareResponse{Bundle: bundle}
	if data, err := s.deps.Exporter.Bundle(bundle); err != nil {
		s.logger.WithError(err).Warn("Failed to pre-render the compare workbook")
	} else {
		resp.Token = s.deps.Results.Put(data, exporter.BundleFilename)
	}

	if user := UserFromContext(r.Context()); user != "" {
		s.last.Set(user, bundle, gocache.DefaultExpiration)
	}
	writeJSON(w, http.StatusOK, resp)
}

// compareColumns takes the ID and account columns from the form, defaulting
// to the configured names.
func compareColumns(r *http.Request, st *settings.Settings) matcher.ReconcileColumns {
	idA, idB := "", ""
	if len(st.DefaultIDNames) > 0 {
		idA = st.DefaultIDNames[0]
	}
	if len(st.DefaultIDNames) > 1 {
		idB = st.DefaultIDNames[1]
	}
	return matcher.ReconcileColumns{
		IDColA:  strings.TrimSpace(formString(r, "id_col_1", idA)),
		AccColA: strings.TrimSpace(formString(r, "acc_col_1", st.DefaultAccNameUnity)),
		IDColB:  strings.TrimSpace(formString(r, "id_col_2", idB)),
		AccColB: strings.TrimSpace(formString(r, "acc_col_2", st.DefaultAccNameAIS)),
	}
}

func bundleCounts(b *reconciler.Bundle) map[string]int {
	return map[string]int{
		"matches":     b.Matches.Len(),
		"unmatched1":  b.Unmatched1.Len(),
		"unmatched2":  b.Unmatched2.Len(),
		"podft":       b.PODFT.Len(),
		"bo":          b.BO.Len(),
		"crypto":      b.Crypto.Len(),
		"duplicates1": b.Duplicates1.Len(),
		"duplicates2": b.Duplicates2.Len(),
	}
}

func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.last.Get(UserFromContext(r.Context())); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "empty",
		"message": "Нет сохраненных данных",
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var bundle reconciler.Bundle
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize))
	if err := dec.Decode(&bundle); err != nil {
		writeError(w, errors.ValidationError(errors.CodeInvalidFormat, "bundle", nil, err).
			WithSuggestion("post the JSON returned by /api/compare"))
		return
	}
	data, err := s.deps.Exporter.Bundle(&bundle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeXLSX(w, exporter.BundleFilename, data)
}

type splitsResponse struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

func (s *Server) handleCheckSplits(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	up, err := s.parseMultipart(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer up.cleanup()

	daily, err := up.save(r, "daily_file", "daily file")
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.requestSettings(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var hits *models.Table
	err = s.pool.Do(r.Context(), func() error {
		var checkErr error
		hits, checkErr = s.deps.Splits.Check(r.Context(), daily.Path, st.SplitSettings())
		return checkErr
	})
	inputs := []string{daily.Filename}
	if err != nil {
		s.record(r, journal.ModeCheckSplits, inputs, nil, started, err)
		if re, ok := errors.AsReconcilerError(err); ok && re.HTTPStatus() == http.StatusBadRequest {
			writeJSON(w, http.StatusOK, splitsResponse{Status: "error", Message: re.Error()})
			return
		}
		writeError(w, err)
		return
	}
	s.record(r, journal.ModeCheckSplits, inputs, map[string]int{"splits": hits.Len()}, started, nil)

	if hits.Len() == 0 {
		writeJSON(w, http.StatusOK, splitsResponse{Status: "success", Data: []interface{}{}, Message: "Сплиты не обнаружены"})
		return
	}
	writeJSON(w, http.StatusOK, splitsResponse{
		Status:  "success",
		Data:    hits,
		Message: fmt.Sprintf("Найдено %d сплитов", hits.Len()),
	})
}

// record writes a journal entry. Journal failures are logged and never fail
// the request.
func (s *Server) record(r *http.Request, mode string, inputs []string, counts map[string]int, started time.Time, runErr error) {
	if s.deps.Journal == nil {
		return
	}
	run := journal.Run{
		Mode:      mode,
		User:      UserFromContext(r.Context()),
		Inputs:    inputs,
		Counts:    counts,
		StartedAt: started,
		Duration:  time.Since(started),
		Status:    journal.StatusSuccess,
	}
	if runErr != nil {
		run.Status = journal.StatusError
		run.Message = runErr.Error()
	}
	if _, err := s.deps.Journal.Record(r.Context(), run); err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{"mode": mode}).Warn("Failed to record run")
	}
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeUnavailable(w, "run journal")
		return
	}
	runs, err := s.deps.Journal.Recent(r.Context(), s.config.RecentRuns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
