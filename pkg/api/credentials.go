package api

import (
	"net/http"
	"strings"

	"github.com/ato-project/ato/pkg/credentials"
	"github.com/ato-project/ato/pkg/engine"
)

// CredentialsRequest is the body of POST /credentials.
type CredentialsRequest struct {
	Name string `json:"name"`
	engine.Credentials
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.svc.ListCredentials(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []credentials.Profile{}
	}
	writeOK(w, profiles)
}

// handleAddCredentials stores a profile. The response never echoes the secret.
func (s *Server) handleAddCredentials(w http.ResponseWriter, r *http.Request) {
	var body CredentialsRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	name := strings.TrimSpace(body.Name)
	if err := s.svc.AddCredentials(r.Context(), name, body.Credentials); err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.svc.GetCredentials(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Created", profile)
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteCredentials(r.Context(), r.PathValue("profileName")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Deleted", nil)
}
