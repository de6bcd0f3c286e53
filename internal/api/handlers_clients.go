package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"neoexcelsync/internal/auth"
	"neoexcelsync/internal/store"
	"neoexcelsync/pkg/errors"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Users == nil {
		writeUnavailable(w, "user store")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, errors.ValidationError(errors.CodeInvalidFormat, "form", nil, err))
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeError(w, errors.AuthError("incorrect username or password", nil))
		return
	}

	user, err := s.deps.Users.UserByUsername(r.Context(), username)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			s.logger.WithField("username", username).Warn("Login for unknown user")
			writeError(w, errors.AuthError("incorrect username or password", nil))
			return
		}
		writeError(w, err)
		return
	}
	if err := s.deps.Auth.CheckPassword(user.PasswordHash, password); err != nil {
		s.logger.WithField("username", username).Warn("Login with a wrong password")
		writeError(w, err)
		return
	}
	token, err := s.deps.Auth.GenerateToken(user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: auth.TokenType})
}

func clientID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.ValidationError(errors.CodeInvalidFormat, "id", raw, err)
	}
	return id, nil
}

// clientForm reads the client fields of a create or update form.
func clientForm(r *http.Request) (store.Client, error) {
	if err := r.ParseMultipartForm(1 << 20); err != nil && err != http.ErrNotMultipart {
		return store.Client{}, errors.ValidationError(errors.CodeInvalidFormat, "form", nil, err)
	}
	return store.Client{
		Name:          formString(r, "name", ""),
		Email:         formString(r, "email", ""),
		AccountNumber: formString(r, "account", ""),
		FolderPath:    formString(r, "folder_path", ""),
	}, nil
}

func (s *Server) handleSearchClients(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeUnavailable(w, "client store")
		return
	}
	items, err := s.deps.Clients.SearchClients(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []store.ClientListItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeUnavailable(w, "client store")
		return
	}
	id, err := clientID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	client, err := s.deps.Clients.GetClient(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeUnavailable(w, "client store")
		return
	}
	c, err := clientForm(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.deps.Clients.CreateClient(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("client_id", id).WithField("user", UserFromContext(r.Context())).Info("Client created")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Клиент добавлен",
		"id":      id,
	})
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeUnavailable(w, "client store")
		return
	}
	id, err := clientID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := clientForm(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c.ID = id
	if err := s.deps.Clients.UpdateClient(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Клиент обновлен"})
}

func (s *Server) handleSetClientStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeUnavailable(w, "client store")
		return
	}
	id, err := clientID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, errors.ValidationError(errors.CodeInvalidFormat, "status", nil, err))
		return
	}
	if err := s.deps.Clients.SetClientStatus(r.Context(), id, strings.TrimSpace(body.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeUnavailable(w, "client store")
		return
	}
	id, err := clientID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Clients.DeleteClient(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("client_id", id).WithField("user", UserFromContext(r.Context())).Info("Client deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Клиент удален"})
}
