package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/report"
	"github.com/ato-project/ato/pkg/service"
	"github.com/ato-project/ato/pkg/stores"
)

var exportContentTypes = map[report.Format]string{
	report.FormatJSON:  "application/json",
	report.FormatCSV:   "text/csv; charset=utf-8",
	report.FormatJUnit: "application/xml",
}

// handleResults lists results. With a format query parameter the results are
// returned as a downloadable export instead of the JSON envelope.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := s.svc.GetResults(r.Context(), engine.ResultFilter{
		PlanID:          q.Get("testPlanId"),
		PlanComponentID: q.Get("planComponentId"),
		ComponentID:     q.Get("componentId"),
		TestComponentID: q.Get("testComponentId"),
		Status:          engine.ResultStatus(q.Get("status")),
		Limit:           limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if f := q.Get("format"); f != "" {
		format, err := report.ParseFormat(f)
		if err != nil {
			writeError(w, err)
			return
		}
		var buf bytes.Buffer
		if err := report.Export(&buf, format, results); err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", exportContentTypes[format])
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results.%s"`, extension(format)))
		_, _ = w.Write(buf.Bytes())
		return
	}

	if results == nil {
		results = []*engine.TestExecutionResult{}
	}
	writeOK(w, results)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.svc.ListEvents(r.Context(), service.EventQuery{
		PlanID: q.Get("testPlanId"),
		Type:   q.Get("type"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*stores.EventRecord{}
	}
	writeOK(w, events)
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, engine.NewValidationError(fmt.Sprintf("%s must be a non-negative integer, got %q", name, v))
	}
	return n, nil
}

func extension(f report.Format) string {
	if f == report.FormatJUnit {
		return "xml"
	}
	return string(f)
}
