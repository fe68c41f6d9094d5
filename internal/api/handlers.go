package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payflow/internal/models"
	"github.com/punchamoorthee/payflow/internal/money"
	"github.com/punchamoorthee/payflow/internal/service"
	"github.com/punchamoorthee/payflow/internal/session"
	"github.com/punchamoorthee/payflow/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payflow_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_transfers_total",
		Help: "Transfer attempts by outcome",
	}, []string{"outcome"})

	lockdownActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_lockdown_active",
		Help: "1 while the emergency lockdown is tripped",
	})
)

// SessionManager is the credential lifecycle surface the handlers depend on.
type SessionManager interface {
	IssuePair(ctx context.Context, userID, userName string) (session.TokenPair, error)
	VerifyAccess(token string) (session.Identity, error)
	Rotate(ctx context.Context, refreshToken string) (session.Identity, session.TokenPair, error)
	RevokeFromToken(ctx context.Context, refreshToken string) error
}

// UserDirectory covers account CRUD and lookups.
type UserDirectory interface {
	Signup(ctx context.Context, email, userName, fullName, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (*models.User, error)
	Profile(ctx context.Context, userID string) (*models.User, error)
	Balance(ctx context.Context, userID string) (int64, error)
	UpdateFullName(ctx context.Context, userID, fullName string) (bool, error)
	SearchUsers(ctx context.Context, callerID, filter string, page, limit int) ([]models.PublicUser, models.Pagination, error)
}

// TransferExecutor runs one funds transfer as an atomic unit.
type TransferExecutor interface {
	Execute(ctx context.Context, sender session.Identity, receiverUserName string, amountCents int64, description string) (*models.Payment, error)
}

// PaymentReader pages through immutable payment records.
type PaymentReader interface {
	ListPayments(ctx context.Context, q models.PaymentQuery) ([]models.Payment, int, error)
	GetPayment(ctx context.Context, id, userID string) (*models.Payment, error)
}

type Handler struct {
	sessions  SessionManager
	users     UserDirectory
	transfers TransferExecutor
	payments  PaymentReader
	lockdown  *session.Lockdown

	secureCookies bool
}

func NewHandler(sessions SessionManager, users UserDirectory, transfers TransferExecutor, payments PaymentReader, lockdown *session.Lockdown, secureCookies bool) *Handler {
	return &Handler{
		sessions:      sessions,
		users:         users,
		transfers:     transfers,
		payments:      payments,
		lockdown:      lockdown,
		secureCookies: secureCookies,
	}
}

// ---- auth ----

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,min=6,max=30"`
	UserName string `json:"userName" validate:"required,min=3,max=20,username"`
	FullName string `json:"fullName" validate:"required,min=3,max=30,fullname"`
	Password string `json:"password" validate:"required,min=8,max=30"`
}

type userView struct {
	Email    string `json:"email"`
	UserName string `json:"userName"`
	FullName string `json:"fullName"`
	Balance  string `json:"balance"`
}

func viewOf(u *models.User) userView {
	return userView{
		Email:    u.Email,
		UserName: u.UserName,
		FullName: u.FullName,
		Balance:  money.FormatCents(u.Balance),
	}
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/auth/signup")
		return
	}
	if verrs := validateRequest(req); verrs != nil {
		h.respondValidationError(w, verrs, "POST", "/auth/signup")
		return
	}

	user, err := h.users.Signup(r.Context(), req.Email, req.UserName, req.FullName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			h.respondError(w, http.StatusConflict, "Email already associated with an existing user", "POST", "/auth/signup")
		case errors.Is(err, store.ErrUserNameTaken):
			h.respondError(w, http.StatusConflict, "Username taken. Try another one", "POST", "/auth/signup")
		default:
			h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/signup")
		}
		return
	}

	pair, err := h.sessions.IssuePair(r.Context(), user.ID, user.UserName)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/signup")
		return
	}
	h.setAuthCookies(w, pair)
	h.respondJSON(w, http.StatusCreated, map[string]any{"user": viewOf(user)}, "POST", "/auth/signup")
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,min=6,max=30"`
	Password string `json:"password" validate:"required,min=8,max=30"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/auth/login")
		return
	}
	if verrs := validateRequest(req); verrs != nil {
		h.respondValidationError(w, verrs, "POST", "/auth/login")
		return
	}

	user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.respondError(w, http.StatusUnauthorized, "Invalid credentials", "POST", "/auth/login")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/login")
		return
	}

	pair, err := h.sessions.IssuePair(r.Context(), user.ID, user.UserName)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/login")
		return
	}
	h.setAuthCookies(w, pair)
	h.respondJSON(w, http.StatusOK, map[string]any{"user": viewOf(user)}, "POST", "/auth/login")
}

// Refresh accepts only the refresh cookie and produces a new pair. The same
// rotation also happens transparently inside AuthMiddleware; this endpoint
// exists for clients that want to refresh eagerly.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := cookieValue(r, refreshCookie)
	if refreshToken == "" {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "POST", "/auth/refresh")
		return
	}

	identity, pair, err := h.sessions.Rotate(r.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrIntegrityAnomaly):
			h.clearAuthCookies(w)
			h.respondError(w, http.StatusServiceUnavailable, "Server is unavailable", "POST", "/auth/refresh")
		case errors.Is(err, session.ErrUnauthenticated):
			h.clearAuthCookies(w)
			h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "POST", "/auth/refresh")
		default:
			h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/refresh")
		}
		return
	}

	h.setAuthCookies(w, pair)
	h.respondJSON(w, http.StatusOK, map[string]string{"userName": identity.UserName}, "POST", "/auth/refresh")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if refreshToken := cookieValue(r, refreshCookie); refreshToken != "" {
		if err := h.sessions.RevokeFromToken(r.Context(), refreshToken); err != nil {
			if errors.Is(err, session.ErrIntegrityAnomaly) {
				h.clearAuthCookies(w)
				h.respondError(w, http.StatusServiceUnavailable, "Server is unavailable", "POST", "/auth/logout")
				return
			}
			h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/logout")
			return
		}
	}
	h.clearAuthCookies(w)
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"}, "POST", "/auth/logout")
}

type passwordChangeRequest struct {
	OldPassword string `json:"oldPassword" validate:"required,min=8,max=30"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=30"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "POST", "/auth/password")
		return
	}

	var req passwordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/auth/password")
		return
	}
	if verrs := validateRequest(req); verrs != nil {
		h.respondValidationError(w, verrs, "POST", "/auth/password")
		return
	}

	user, err := h.users.ChangePassword(r.Context(), identity.UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSamePassword):
			h.respondError(w, http.StatusBadRequest, "Old password and new password must be different", "POST", "/auth/password")
		case errors.Is(err, service.ErrInvalidCredentials):
			h.respondError(w, http.StatusUnauthorized, "Incorrect old password", "POST", "/auth/password")
		default:
			h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/password")
		}
		return
	}

	// Password change reissues the session with a full lifetime, displacing
	// the old refresh credential.
	pair, err := h.sessions.IssuePair(r.Context(), user.ID, user.UserName)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "POST", "/auth/password")
		return
	}
	h.setAuthCookies(w, pair)
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"}, "POST", "/auth/password")
}

func (h *Handler) MyProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "GET", "/auth/my-profile")
		return
	}
	user, err := h.users.Profile(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "GET", "/auth/my-profile")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"user": viewOf(user)}, "GET", "/auth/my-profile")
}

// ---- user ----

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "GET", "/user/balance")
		return
	}
	balance, err := h.users.Balance(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "GET", "/user/balance")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"balance": money.FormatCents(balance)}, "GET", "/user/balance")
}

type fullNameRequest struct {
	FullName string `json:"fullName" validate:"required,min=3,max=30,fullname"`
}

func (h *Handler) UpdateFullName(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "PATCH", "/user/fullname")
		return
	}

	var req fullNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "PATCH", "/user/fullname")
		return
	}
	if verrs := validateRequest(req); verrs != nil {
		h.respondValidationError(w, verrs, "PATCH", "/user/fullname")
		return
	}

	changed, err := h.users.UpdateFullName(r.Context(), identity.UserID, req.FullName)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "PATCH", "/user/fullname")
		return
	}
	msg := "Updated full name successfully"
	if !changed {
		msg = "Nothing to update"
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": msg, "fullName": req.FullName}, "PATCH", "/user/fullname")
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "GET", "/user/bulk")
		return
	}

	filter := r.URL.Query().Get("filter")
	page, limit := paginationValues(r, 1, 10)

	users, pagination, err := h.users.SearchUsers(r.Context(), identity.UserID, filter, page, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "GET", "/user/bulk")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"users": users, "pagination": pagination}, "GET", "/user/bulk")
}

// ---- payments ----

type paymentRequest struct {
	ReceiverUserName string `json:"receiverUserName" validate:"required,min=3,max=20,username"`
	Amount           string `json:"amount" validate:"required"`
	Description      string `json:"description" validate:"max=255"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "POST", "/payments")
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments")
		return
	}
	if verrs := validateRequest(req); verrs != nil {
		h.respondValidationError(w, verrs, "POST", "/payments")
		return
	}

	amountCents, err := money.ParseAmount(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Amount must be a positive number with at most 2 decimal places within allowed bounds", "POST", "/payments")
		return
	}

	record, err := h.transfers.Execute(r.Context(), identity, req.ReceiverUserName, amountCents, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSelfTransfer):
			transfersTotal.WithLabelValues("rejected").Inc()
			h.respondError(w, http.StatusBadRequest, "Cannot send payment to yourself", "POST", "/payments")
		case errors.Is(err, service.ErrReceiverNotFound):
			transfersTotal.WithLabelValues("rejected").Inc()
			h.respondError(w, http.StatusBadRequest, "Receiver does not exist", "POST", "/payments")
		case errors.Is(err, service.ErrInsufficientFunds):
			transfersTotal.WithLabelValues("rejected").Inc()
			h.respondError(w, http.StatusBadRequest, "Insufficient balance", "POST", "/payments")
		case errors.Is(err, service.ErrReceiverCapacity):
			// Rolled back after debit; a failed record exists when the
			// best-effort write succeeded.
			transfersTotal.WithLabelValues("failed").Inc()
			h.respondJSONError(w, http.StatusBadRequest, "Receiver balance limit exceeded", record, "POST", "/payments")
		default:
			transfersTotal.WithLabelValues("failed").Inc()
			h.respondJSONError(w, http.StatusInternalServerError, "Payment failed due to system error", record, "POST", "/payments")
		}
		return
	}

	transfersTotal.WithLabelValues("success").Inc()
	h.respondJSON(w, http.StatusOK, map[string]any{"payment": record, "message": "Payment successful"}, "POST", "/payments")
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "GET", "/payments")
		return
	}

	q := models.PaymentQuery{UserID: identity.UserID}
	switch t := r.URL.Query().Get("type"); t {
	case "", "sent", "received":
		q.Type = t
	default:
		h.respondError(w, http.StatusBadRequest, "Invalid type filter", "GET", "/payments")
		return
	}
	switch s := r.URL.Query().Get("status"); s {
	case "", models.PaymentStatusSuccess, models.PaymentStatusFailed:
		q.Status = s
	default:
		h.respondError(w, http.StatusBadRequest, "Invalid status filter", "GET", "/payments")
		return
	}
	switch s := r.URL.Query().Get("sort"); s {
	case "", "desc":
		q.Sort = "desc"
	case "asc":
		q.Sort = "asc"
	default:
		h.respondError(w, http.StatusBadRequest, "Invalid sort order", "GET", "/payments")
		return
	}
	q.Page, q.Limit = paginationValues(r, 1, 10)

	payments, total, err := h.payments.ListPayments(r.Context(), q)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "GET", "/payments")
		return
	}
	for i := range payments {
		payments[i].AmountStr = money.FormatCents(payments[i].Amount)
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"payments": payments,
		"pagination": models.Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: (total + q.Limit - 1) / q.Limit,
		},
	}, "GET", "/payments")
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", "GET", "/payments/{id}")
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), mux.Vars(r)["id"], identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			h.respondError(w, http.StatusNotFound, "Payment not found", "GET", "/payments/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Internal server error", "GET", "/payments/{id}")
		return
	}
	payment.AmountStr = money.FormatCents(payment.Amount)
	h.respondJSON(w, http.StatusOK, map[string]any{"payment": payment}, "GET", "/payments/{id}")
}

// ---- helpers ----

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func paginationValues(r *http.Request, defaultPage, defaultLimit int) (page, limit int) {
	page, limit = defaultPage, defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	return page, limit
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func (h *Handler) respondValidationError(w http.ResponseWriter, verrs []ValidationError, method, endpoint string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "Validation failed",
		"fields": verrs,
	}, method, endpoint)
}

// respondJSONError reports a failed transfer together with its failure record
// (when one was durably written) so the client can reconcile.
func (h *Handler) respondJSONError(w http.ResponseWriter, code int, message string, record *models.Payment, method, endpoint string) {
	body := map[string]any{"error": message}
	if record != nil {
		body["payment"] = record
	}
	h.respondJSON(w, code, body, method, endpoint)
}
