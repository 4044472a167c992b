package api

import (
	"net/http"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/service"
)

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.listMappings(w, r, engine.MappingFilter{
		MainComponentID: q.Get("mainComponentId"),
		TestComponentID: q.Get("testComponentId"),
	})
}

func (s *Server) handleMappingsForComponent(w http.ResponseWriter, r *http.Request) {
	s.listMappings(w, r, engine.MappingFilter{MainComponentID: r.PathValue("mainComponentId")})
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request, filter engine.MappingFilter) {
	mappings, err := s.svc.ListMappings(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if mappings == nil {
		mappings = []*engine.Mapping{}
	}
	writeOK(w, mappings)
}

func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var body engine.Mapping
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.svc.CreateMapping(r.Context(), &body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Created", m)
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.GetMapping(r.Context(), r.PathValue("mappingId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, m)
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	var body service.MappingUpdate
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.svc.UpdateMapping(r.Context(), r.PathValue("mappingId"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, m)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteMapping(r.Context(), r.PathValue("mappingId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Deleted", nil)
}

// handleImportMappings takes the CSV file as the raw request body.
func (s *Server) handleImportMappings(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, importBodyBytes)
	rep, err := s.svc.ImportMappings(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, rep)
}
