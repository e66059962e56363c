package server

import (
	"log/slog"
	"net/http"

	"github.com/florianilch/home-secrets/internal/apperror"
	"github.com/florianilch/home-secrets/internal/googleoauth"
)

// StartResponse carries the URL the user must visit to grant consent.
type StartResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// TokenResponse is the caller-facing view of a token entry.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Expiry      int64  `json:"expiry"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// DeleteResponse confirms a cleared entry.
type DeleteResponse struct {
	Status string `json:"status"`
	Label  string `json:"label"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, healthResponse{Status: "ok"}, http.StatusOK)
}

func (s *Server) handleSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := s.secrets.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, secret, http.StatusOK)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authorizeURL, err := s.oauth.Start(r.Context(), q.Get("redirect_uri"), q.Get("label"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, StartResponse{AuthorizeURL: authorizeURL}, http.StatusOK)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.oauth.Callback(r.Context(), googleoauth.CallbackRequest{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, result, http.StatusOK)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	entry, err := s.oauth.Token(r.Context(), r.URL.Query().Get("label"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tokenType := entry.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	writeJSON(r.Context(), w, TokenResponse{
		AccessToken: entry.AccessToken,
		Expiry:      entry.Expiry,
		TokenType:   tokenType,
		Scope:       entry.Scope,
	}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.oauth.Status(r.Context(), r.URL.Query().Get("label"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, status, http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		label = s.oauth.DefaultLabel()
	}
	if err := s.oauth.Delete(r.Context(), label); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, DeleteResponse{Status: "deleted", Label: label}, http.StatusOK)
}

func (s *Server) handleDebugEnv(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, s.debugInfo(), http.StatusOK)
}

// writeError maps err onto a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed",
		"kind", apperror.KindOf(err).String(),
		"status", status,
		"error", err,
	)
	writeJSONError(r.Context(), w, apperror.Message(err), status)
}
