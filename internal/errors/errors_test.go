package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetServiceError_Wrapped(t *testing.T) {
	base := StorageUnavailable(stderrors.New("connection refused"))
	wrapped := fmt.Errorf("poll mailbox: %w", base)

	got := GetServiceError(wrapped)
	if got == nil {
		t.Fatal("GetServiceError() = nil, want service error")
	}
	if got.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", got.HTTPStatus)
	}
	if !IsCode(wrapped, CodeStorageUnavailable) {
		t.Error("IsCode(STORAGE_UNAVAILABLE) = false")
	}
}

func TestGetServiceError_Plain(t *testing.T) {
	if GetServiceError(stderrors.New("plain")) != nil {
		t.Error("plain error should not map to a service error")
	}
}

func TestMisconfigured_CarriesSetting(t *testing.T) {
	err := Misconfigured("MEDIA_API_SECRET")
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want 500", err.HTTPStatus)
	}
	if err.Details["setting"] != "MEDIA_API_SECRET" {
		t.Errorf("details = %v", err.Details)
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Internal("failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestIdentityUnavailable_Is503(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := IdentityUnavailable(cause)
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", err.HTTPStatus)
	}
	if !IsCode(err, CodeIdentityUnavailable) {
		t.Error("IsCode(IDENTITY_UNAVAILABLE) = false")
	}
	if !stderrors.Is(err, cause) {
		t.Error("cause not preserved")
	}
}
