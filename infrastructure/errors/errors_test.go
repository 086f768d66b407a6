package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeUnauthorized, "test message", http.StatusUnauthorized),
			want: "[UNAUTHORIZED] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeInternal, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[INTERNAL] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeInternal, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(ErrCodeInvalidArgument, "test", http.StatusBadRequest)
	err.WithDetails("field", "amount").WithDetails("reason", "must be positive")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "amount" {
		t.Errorf("Details[field] = %v, want amount", err.Details["field"])
	}
	if err.Details["reason"] != "must be positive" {
		t.Errorf("Details[reason] = %v, want 'must be positive'", err.Details["reason"])
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("node", "node-123")

	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["resource"] != "node" {
		t.Errorf("Details[resource] = %v, want node", err.Details["resource"])
	}
	if err.Details["id"] != "node-123" {
		t.Errorf("Details[id] = %v, want node-123", err.Details["id"])
	}
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("active", "recovering")

	if err.Code != ErrCodeInvalidTransition {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidTransition)
	}
	if err.Details["from"] != "active" || err.Details["to"] != "recovering" {
		t.Errorf("Details = %v, want from=active to=recovering", err.Details)
	}
}

func TestConcurrentTransition(t *testing.T) {
	err := ConcurrentTransition("node-1")

	if err.Code != ErrCodeConcurrentTransition {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeConcurrentTransition)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestInsufficientBalance(t *testing.T) {
	err := InsufficientBalance(3000)

	if err.Code != ErrCodeInsufficientBalance {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInsufficientBalance)
	}
	if err.Details["current_balance"] != int64(3000) {
		t.Errorf("Details[current_balance] = %v, want 3000", err.Details["current_balance"])
	}
}

func TestInvalidArgument(t *testing.T) {
	err := InvalidArgument("amount_cents", "must be positive")

	if err.Code != ErrCodeInvalidArgument {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidArgument)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
	if err.Details["field"] != "amount_cents" {
		t.Errorf("Details[field] = %v, want amount_cents", err.Details["field"])
	}
}

func TestTimeout(t *testing.T) {
	err := Timeout("bot.import")

	if err.Code != ErrCodeTimeout {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTimeout)
	}
	if err.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusGatewayTimeout)
	}
	if err.Details["operation"] != "bot.import" {
		t.Errorf("Details[operation] = %v, want bot.import", err.Details["operation"])
	}
}

func TestConnectionUnavailable(t *testing.T) {
	err := ConnectionUnavailable("node-1")

	if err.Code != ErrCodeConnectionUnavailable {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeConnectionUnavailable)
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusServiceUnavailable)
	}
}

func TestTransient(t *testing.T) {
	underlying := errors.New("connection reset")
	err := Transient("heartbeat update", underlying)

	if err.Code != ErrCodeTransient {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTransient)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestUnauthorized(t *testing.T) {
	err := Unauthorized("bad node secret")

	if err.Code != ErrCodeUnauthorized {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeUnauthorized)
	}
	if err.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusUnauthorized)
	}
}

func TestAlreadyExists(t *testing.T) {
	err := AlreadyExists("credit_transaction", "pi_abc")

	if err.Code != ErrCodeAlreadyExists {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeAlreadyExists)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestInternal(t *testing.T) {
	underlying := errors.New("database connection failed")
	err := Internal("internal error", underlying)

	if err.Code != ErrCodeInternal {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInternal)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusInternalServerError)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service error", New(ErrCodeInternal, "test", http.StatusInternalServerError), true},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	serviceErr := New(ErrCodeInternal, "test", http.StatusInternalServerError)
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{"service error", serviceErr, serviceErr},
		{"standard error", standardErr, nil},
		{"nil error", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetServiceError(tt.err); got != tt.want {
				t.Errorf("GetServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"service error", New(ErrCodeUnauthorized, "test", http.StatusUnauthorized), http.StatusUnauthorized},
		{"standard error", errors.New("standard error"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := InsufficientBalance(100)
	if !Is(err, ErrCodeInsufficientBalance) {
		t.Errorf("Is(err, ErrCodeInsufficientBalance) = false, want true")
	}
	if Is(err, ErrCodeNotFound) {
		t.Errorf("Is(err, ErrCodeNotFound) = true, want false")
	}
	if Is(errors.New("plain"), ErrCodeNotFound) {
		t.Errorf("Is(plain error, ...) = true, want false")
	}
}
