package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/journal"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
)

type toolResponse struct {
	Status  string        `json:"status"`
	Token   string        `json:"token"`
	Columns []string      `json:"columns"`
	Summary *models.Table `json:"summary"`
	Found   *int          `json:"found,omitempty"`
	Target  *models.Table `json:"target_summary,omitempty"`
}

// toolFiles saves file1 and, when two is set, file2.
func (s *Server) toolFiles(w http.ResponseWriter, r *http.Request, two bool) (*uploads, []parsers.Source, error) {
	up, err := s.parseMultipart(w, r)
	if err != nil {
		return nil, nil, err
	}
	first, err := up.save(r, "file1", "file 1")
	if err != nil {
		up.cleanup()
		return nil, nil, err
	}
	sources := []parsers.Source{first}
	if two {
		second, err := up.save(r, "file2", "file 2")
		if err != nil {
			up.cleanup()
			return nil, nil, err
		}
		sources = append(sources, second)
	}
	return up, sources, nil
}

func inputNames(sources []parsers.Source) []string {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Filename
	}
	return names
}

func (s *Server) handleInstrumentDirection(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	up, sources, err := s.toolFiles(w, r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	defer up.cleanup()

	opts := matcher.DefaultInstrumentDirectionOptions()
	opts.Col1 = formString(r, "col1", opts.Col1)
	opts.Op1Col = formString(r, "op1_col", opts.Op1Col)
	opts.Col2 = formString(r, "col2", opts.Col2)
	opts.Side2Col = formString(r, "side2_col", opts.Side2Col)
	opts.Target = strings.TrimSpace(formString(r, "target", ""))

	var report *matcher.InstrumentDirectionReport
	var data []byte
	err = s.pool.Do(r.Context(), func() error {
		var runErr error
		report, runErr = s.deps.Service.InstrumentDirection(r.Context(), sources[0], sources[1], opts)
		if runErr != nil {
			return runErr
		}
		data, runErr = s.deps.Exporter.Summary(report.Summary)
		return runErr
	})
	if err != nil {
		s.record(r, journal.ModeInstrumentDirection, inputNames(sources), nil, started, err)
		writeError(w, err)
		return
	}
	s.record(r, journal.ModeInstrumentDirection, inputNames(sources),
		map[string]int{"unique_pairs": report.Stats.UniquePairs}, started, nil)

	writeJSON(w, http.StatusOK, toolResponse{
		Status:  "success",
		Token:   s.deps.Results.Put(data, exporter.InstrumentDirectionFilename),
		Columns: columnsOf(report.Summary),
		Summary: report.Summary,
		Target:  report.Target,
	})
}

func (s *Server) handleDuplicatesSingle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	up, sources, err := s.toolFiles(w, r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer up.cleanup()

	opts := matcher.DefaultDuplicateOptions()
	opts.PaperColumn = formString(r, "paper_col", opts.PaperColumn)
	opts.AmountColumn = formString(r, "amount_col", opts.AmountColumn)
	if opts.MinRepeats, err = formInt(r, "min_repeats", opts.MinRepeats); err != nil {
		writeError(w, err)
		return
	}
	if opts.RoundTo, err = formInt(r, "round_to", opts.RoundTo); err != nil {
		writeError(w, err)
		return
	}
	if err := opts.Validate(); err != nil {
		writeError(w, err)
		return
	}

	var report *matcher.DuplicateReport
	var data []byte
	err = s.pool.Do(r.Context(), func() error {
		var runErr error
		report, runErr = s.deps.Service.Duplicates(r.Context(), sources[0], opts)
		if runErr != nil {
			return runErr
		}
		data, runErr = s.deps.Exporter.Duplicates(report)
		return runErr
	})
	if err != nil {
		s.record(r, journal.ModeDuplicates, inputNames(sources), nil, started, err)
		writeError(w, err)
		return
	}
	s.record(r, journal.ModeDuplicates, inputNames(sources), map[string]int{
		"dup_groups": report.Stats.DupGroups,
		"dup_rows":   report.Stats.DupRows,
	}, started, nil)

	summary := report.Summary()
	found := len(report.Groups)
	writeJSON(w, http.StatusOK, toolResponse{
		Status:  "success",
		Token:   s.deps.Results.Put(data, exporter.DuplicatesFilename),
		Columns: columnsOf(summary),
		Summary: summary,
		Found:   &found,
	})
}

func (s *Server) handleAmountPaper(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	up, sources, err := s.toolFiles(w, r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	defer up.cleanup()

	opts := matcher.DefaultAmountPaperOptions()
	opts.Paper1Col = formString(r, "paper1_col", opts.Paper1Col)
	opts.Amount1Col = formString(r, "amount1_col", opts.Amount1Col)
	opts.Paper2Col = formString(r, "paper2_col", opts.Paper2Col)
	opts.Amount2Col = formString(r, "amount2_col", opts.Amount2Col)
	if opts.RoundTo, err = formInt(r, "round_to", opts.RoundTo); err != nil {
		writeError(w, err)
		return
	}
	if err := opts.Validate(); err != nil {
		writeError(w, err)
		return
	}

	var summary *models.Table
	var data []byte
	err = s.pool.Do(r.Context(), func() error {
		var runErr error
		summary, runErr = s.deps.Service.AmountPaper(r.Context(), sources[0], sources[1], opts)
		if runErr != nil {
			return runErr
		}
		data, runErr = s.deps.Exporter.Summary(summary)
		return runErr
	})
	if err != nil {
		s.record(r, journal.ModeAmountPaper, inputNames(sources), nil, started, err)
		writeError(w, err)
		return
	}
	s.record(r, journal.ModeAmountPaper, inputNames(sources), map[string]int{"pairs": summary.Len()}, started, nil)

	writeJSON(w, http.StatusOK, toolResponse{
		Status:  "success",
		Token:   s.deps.Results.Put(data, exporter.AmountPaperFilename),
		Columns: columnsOf(summary),
		Summary: summary,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.Results.Get(mux.Vars(r)["token"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeXLSX(w, entry.Filename, entry.Data)
}
