package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultbay/auth"
	"vaultbay/escrow"
	"vaultbay/models"
)

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Phrase   string `json:"phrase"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Phrase   string `json:"phrase,omitempty"`
}

type accountResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Username   string  `json:"username"`
	Balance    float64 `json:"balance"`
	TrustScore int     `json:"trustScore"`
}

type tokenResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

const phraseWords = 4

// Signup registers a buyer account. The security phrase is a second factor
// checked on login; it is stored only as a bcrypt hash.
func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)
	if email == "" || !strings.Contains(email, "@") {
		s.writeError(w, http.StatusBadRequest, "valid email required")
		return
	}
	if username == "" {
		s.writeError(w, http.StatusBadRequest, "username required")
		return
	}
	if len(req.Password) < 8 {
		s.writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if len(strings.Fields(req.Phrase)) != phraseWords {
		s.writeError(w, http.StatusBadRequest, "security phrase must contain exactly 4 words")
		return
	}

	passwordHash, err := auth.HashSecret(req.Password)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	phraseHash, err := auth.HashSecret(strings.TrimSpace(req.Phrase))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := s.now()
	user := models.User{
		ID:           uuid.New(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		PhraseHash:   phraseHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			s.writeError(w, http.StatusConflict, "email or username already registered")
			return
		}
		s.logger.Error("signup failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}

	token, err := s.auth.Issue(user.ID.String(), auth.RoleBuyer)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusCreated, tokenResponse{Token: token, Account: accountView(&user)})
}

// Login verifies the password, and the security phrase when supplied, then
// issues a buyer token. Failures are indistinguishable to the caller.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := s.db.WithContext(r.Context()).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	if !auth.VerifySecret(user.PasswordHash, req.Password) {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if phrase := strings.TrimSpace(req.Phrase); phrase != "" && !auth.VerifySecret(user.PhraseHash, phrase) {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.Issue(user.ID.String(), auth.RoleBuyer)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, tokenResponse{Token: token, Account: accountView(&user)})
}

// Financials returns the caller's derived balance and trust score.
func (s *Server) Financials(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	fin, err := s.trust.Lookup(r.Context(), caller.ID)
	if err != nil {
		// Lookup surfaces raw driver errors; fold them into the taxonomy.
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.handleCoreError(w, escrow.ErrNotFound)
		} else {
			s.handleCoreError(w, escrow.ErrStoreUnavailable)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, fin)
}

func accountView(u *models.User) accountResponse {
	return accountResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		Username:   u.Username,
		Balance:    u.Balance,
		TrustScore: u.TrustScore,
	}
}

// isUniqueViolation recognizes unique constraint failures across the
// postgres and sqlite drivers without importing either's error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
