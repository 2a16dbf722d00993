package main

import (
	"encoding/json"
	"net/http"

	"github.com/example/sessionauth/internal/auth"
	"github.com/example/sessionauth/internal/guard"
)

const maxBodyBytes = 1 << 16

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type ack struct {
	Code string `json:"code"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decodeBody(w, r, &in) {
		return
	}
	s, err := a.Engine.Register(r.Context(), in)
	if err != nil {
		a.writeEngineError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if !decodeBody(w, r, &in) {
		return
	}
	s, err := a.Engine.Login(r.Context(), in)
	if err != nil {
		a.writeEngineError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if !decodeBody(w, r, &in) {
		return
	}
	s, err := a.Engine.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		a.writeEngineError(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if !decodeBody(w, r, &in) {
		return
	}
	if err := a.Engine.Logout(r.Context(), in.RefreshToken); err != nil {
		a.writeEngineError(w, r, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, ack{Code: "logged-out"})
}

// HandleChangePassword changes the caller's own password. Requires the guard.
func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := guard.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, codeServerError, "")
		return
	}
	var in changePasswordRequest
	if !decodeBody(w, r, &in) {
		return
	}
	err := a.Engine.ChangePassword(r.Context(), auth.ChangePasswordInput{
		AccountID:   p.ID,
		OldPassword: in.OldPassword,
		NewPassword: in.NewPassword,
	})
	if err != nil {
		a.writeEngineError(w, r, "change_password", err)
		return
	}
	writeJSON(w, http.StatusOK, ack{Code: "password-changed"})
}

// HandleDeleteAccount deletes the caller's account. Requires the guard.
func (a *App) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := guard.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, codeServerError, "")
		return
	}
	if err := a.Engine.DeleteAccount(r.Context(), p.ID); err != nil {
		a.writeEngineError(w, r, "delete_account", err)
		return
	}
	writeJSON(w, http.StatusOK, ack{Code: "account-deleted"})
}
