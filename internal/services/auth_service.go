package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/ruralpay/marketplace/internal/audit"
	"github.com/ruralpay/marketplace/internal/config"
	"github.com/ruralpay/marketplace/internal/middleware"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// pq unique_violation
const pqUniqueViolation = "23505"

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	accounts  *AccountService
	audit     *audit.Logger
	validator *ValidationHelper
	starting  config.AccountsConfig
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"jane@example.com"` // User email
	Password string `json:"password" validate:"required,min=6" example:"password123"`  // User password
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Name     string          `json:"name" validate:"required,min=2" example:"Jane Doe"`                     // Display name
	Email    string          `json:"email" validate:"required,email" example:"jane@example.com"`            // User email address
	Password string          `json:"password" validate:"required,min=6" example:"password123"`              // User password
	Role     models.Role     `json:"role" validate:"omitempty,oneof=buyer seller" example:"buyer"`          // buyer (default) or seller
	Company  *models.Company `json:"company,omitempty" validate:"required_if=Role seller"`                 // Required for sellers
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, accounts *AccountService, starting config.AccountsConfig) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		accounts:  accounts,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		starting:  starting,
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a buyer or seller; every payment bucket is opened at the starting balance
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse "Registration successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 409 {object} ErrorResponse "Email already exists"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}

	if req.Role == "" {
		req.Role = models.RoleBuyer
	}
	if req.Company != nil {
		req.Company.Name = strings.TrimSpace(req.Company.Name)
		req.Company.Description = strings.TrimSpace(req.Company.Description)
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Role == models.RoleSeller && (req.Company.Name == "" || req.Company.Description == "") {
		SendErrorResponse(w, "Company name and description are required for sellers", http.StatusBadRequest, nil)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now().UTC()
	user := models.User{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     strings.ToLower(req.Email),
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var companyName, companyDescription sql.NullString
	if req.Role == models.RoleSeller {
		user.Company = req.Company
		companyName = sql.NullString{String: req.Company.Name, Valid: true}
		companyDescription = sql.NullString{String: req.Company.Description, Valid: true}
	}

	ctx := r.Context()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[AUTH] Transaction start failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, company_name, company_description, is_blocked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)`,
		user.ID, user.Name, user.Email, hashedPassword, string(user.Role), companyName, companyDescription, now, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	if _, err := s.accounts.Provision(ctx, tx, user.ID, s.starting.StartingBalance); err != nil {
		log.Printf("[AUTH] Account provisioning failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if err = tx.Commit(); err != nil {
		log.Printf("[AUTH] Transaction commit failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	user.Balances = models.Balances{}
	for _, m := range models.PaymentMethods {
		user.Balances[m] = s.starting.StartingBalance
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogOperation(user.ID, "REGISTER", fmt.Sprintf("role=%s buckets=%d", user.Role, len(models.PaymentMethods)))
	log.Printf("[AUTH] Registration successful for user %s (%s)", user.ID, user.Role)
	SendJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate user with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 403 {object} ErrorResponse "Account blocked"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var (
		user           models.User
		role           string
		hashedPassword string
	)
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, name, email, role, is_blocked, password_hash
		FROM users
		WHERE email = $1`, strings.ToLower(req.Email)).
		Scan(&user.ID, &user.Name, &user.Email, &role, &user.IsBlocked, &hashedPassword)
	if err != nil {
		log.Printf("[AUTH] User not found for email: %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}
	user.Role = models.Role(role)

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", user.ID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if user.IsBlocked {
		log.Printf("[AUTH] Blocked user %s attempted login", user.ID)
		SendErrorResponse(w, "Your account has been blocked. Contact an administrator.", http.StatusForbidden, nil)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %s", user.ID)
	SendJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout handles user logout
// @Summary Logout user
// @Description Logout user and blacklist token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token != "" && s.redis != nil {
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if err := s.redis.Set(r.Context(), middleware.BlacklistKey(token), "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to blacklist token: %v", err)
		}
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// GetUserAccount retrieves the caller's profile and balances
// @Summary Get user account details
// @Description Get authenticated user's profile and per-method balances
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User "User account details"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /auth/account [get]
func (s *AuthService) GetUserAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	user, err := s.loadUser(r.Context(), caller.UserID)
	if err != nil {
		if isNoRows(err) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[AUTH] Failed to fetch user %s: %v", caller.UserID, err)
		SendErrorResponse(w, "Failed to fetch user details", http.StatusInternalServerError, nil)
		return
	}

	balances, err := s.accounts.Balances(r.Context(), caller.UserID)
	if err != nil {
		log.Printf("[AUTH] Failed to fetch balances of %s: %v", caller.UserID, err)
		SendErrorResponse(w, "Failed to fetch user details", http.StatusInternalServerError, nil)
		return
	}
	user.Balances = balances

	SendJSON(w, http.StatusOK, user)
}

// ToggleBlock blocks or unblocks a user
// @Summary Block or unblock a user
// @Description Flip the blocked flag of a user. Admin only; admins cannot block themselves.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/users/{userId}/block [put]
func (s *AuthService) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok || !caller.IsAdmin() {
		SendErrorResponse(w, "Administrator privileges required", http.StatusForbidden, nil)
		return
	}

	userID := chi.URLParam(r, "userId")
	if userID == caller.UserID {
		SendErrorResponse(w, "You cannot block yourself", http.StatusBadRequest, nil)
		return
	}
	if _, err := uuid.Parse(userID); err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	var user models.User
	var role string
	err := s.db.QueryRowContext(r.Context(), `
		UPDATE users
		SET is_blocked = NOT is_blocked, updated_at = $1
		WHERE id = $2
		RETURNING id, name, email, role, is_blocked`, time.Now().UTC(), userID).
		Scan(&user.ID, &user.Name, &user.Email, &role, &user.IsBlocked)
	if err != nil {
		if isNoRows(err) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[ADMIN] Failed to toggle block on %s: %v", userID, err)
		SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}
	user.Role = models.Role(role)

	s.audit.LogOperation(caller.UserID, "USER_BLOCK_TOGGLE", fmt.Sprintf("user=%s blocked=%t", user.ID, user.IsBlocked))
	log.Printf("[ADMIN] User %s blocked=%t by %s", user.ID, user.IsBlocked, caller.UserID)
	SendJSON(w, http.StatusOK, user)
}

func (s *AuthService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	var (
		user                            models.User
		role                            string
		companyName, companyDescription sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, company_name, company_description, is_blocked, created_at, updated_at
		FROM users
		WHERE id = $1`, userID).Scan(
		&user.ID, &user.Name, &user.Email, &role, &companyName, &companyDescription,
		&user.IsBlocked, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}

	user.Role = models.Role(role)
	if companyName.Valid {
		user.Company = &models.Company{Name: companyName.String, Description: companyDescription.String}
	}
	return &user, nil
}

// DecodeJSONBody decodes a single JSON object of at most 1 MB into dst.
// On failure it writes the 400 response and returns false.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func generateJWT(userID string, role models.Role) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func argon2Key(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2Key(password, salt)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(hash, argon2Key(password, salt)) == 1
}
