package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/RobinCoderZhao/newsdesk/internal/user"
)

const minPasswordLen = 8

type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (req RegisterRequest) validate() fieldErrors {
	errs := fieldErrors{}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		errs.add("name", "The name field is required.")
	case len(name) > 255:
		errs.add("name", "The name must not be greater than 255 characters.")
	}
	if req.Email == "" {
		errs.add("email", "The email field is required.")
	} else if _, err := mail.ParseAddress(req.Email); err != nil || len(req.Email) > 255 {
		errs.add("email", "The email must be a valid email address.")
	}
	if len(req.Password) < minPasswordLen {
		errs.add("password", "The password must be at least 8 characters.")
	}
	if req.Password != req.PasswordConfirmation {
		errs.add("password", "The password confirmation does not match.")
	}
	return errs
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if errs := req.validate(); len(errs) > 0 {
			respondValidation(w, errs)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to process password")
			return
		}

		u, err := s.users.CreateUser(r.Context(), req.Name, req.Email, string(hash))
		if errors.Is(err, user.ErrEmailTaken) {
			respondValidation(w, fieldErrors{"email": {"The email has already been taken."}})
			return
		}
		if err != nil {
			s.logger.Error("failed to create user", "error", err)
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}

		token, err := s.generateToken(u.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}
		s.setTokenCookie(w, token, int(s.cfg.TokenTTL.Seconds()))

		respondSuccess(w, http.StatusCreated, "User registered successfully", map[string]any{
			"id":    u.ID,
			"name":  u.Name,
			"email": u.Email,
			"token": token,
		})
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			respondValidation(w, fieldErrors{"email": {"Email and password are required."}})
			return
		}

		u, err := s.users.GetUserByEmail(r.Context(), req.Email)
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			respondValidation(w, fieldErrors{"email": {"The provided credentials are incorrect."}})
			return
		}

		token, err := s.generateToken(u.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}
		s.setTokenCookie(w, token, int(s.cfg.TokenTTL.Seconds()))

		respondSuccess(w, http.StatusOK, "Login successful", map[string]any{
			"id":    u.ID,
			"name":  u.Name,
			"email": u.Email,
			"token": token,
		})
	}
}

// handleLogout clears the auth cookie. Tokens are stateless, so a bearer
// token stays valid until it expires.
func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setTokenCookie(w, "", -1)
		respondSuccess(w, http.StatusOK, "Logged out successfully", nil)
	}
}

func (s *Server) handleGetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := getUserID(r)
		u, err := s.users.GetUserByID(r.Context(), id)
		if errors.Is(err, user.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		prefs, err := s.users.GetPreferences(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondSuccess(w, http.StatusOK, "User retrieved successfully", map[string]any{
			"user":        u,
			"preferences": prefs,
		})
	}
}
