package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datapub/entitlements/internal/apperr"
)

func TestBuildCasePayload(t *testing.T) {
	payload := BuildCasePayload(CaseParams{
		UserID:   42,
		LdapID:   "ldap-42",
		UserType: "organisation-uk",
		RegistrationData: map[string]any{
			"email":           "org@example.com",
			"user_id":         42,
			"ldap_id":         "ldap-42",
			"user_type_id":    3,
			"user_details_id": 42,
		},
	})

	if payload["status"] != StatusPending {
		t.Fatalf("uk organisations should start pending, got %v", payload["status"])
	}
	if payload["user_id"] != "42" {
		t.Fatalf("user_id should travel as a string, got %v", payload["user_id"])
	}

	registration, ok := payload["registration_data"].(map[string]any)
	if !ok {
		t.Fatalf("registration_data has type %T", payload["registration_data"])
	}
	if registration["email"] != "org@example.com" {
		t.Fatalf("email = %v", registration["email"])
	}
	for _, stripped := range []string{"user_id", "ldap_id", "user_type_id", "user_details_id"} {
		if _, present := registration[stripped]; present {
			t.Fatalf("%s should be stripped from registration data", stripped)
		}
	}
}

func TestBuildCasePayloadApprovesOtherTypes(t *testing.T) {
	for _, userType := range []string{"personal-uk", "personal-overseas", "organisation-overseas"} {
		payload := BuildCasePayload(CaseParams{UserID: 1, UserType: userType})
		if payload["status"] != StatusApproved {
			t.Fatalf("%s should be approved, got %v", userType, payload["status"])
		}
	}
}

func TestCreateCase(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/case" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second)
	if errCase := client.CreateCase(context.Background(), CaseParams{
		UserID: 7, LdapID: "ldap-7", UserType: "personal-uk",
	}); errCase != nil {
		t.Fatalf("create case: %v", errCase)
	}
	if got["ldap_id"] != "ldap-7" {
		t.Fatalf("ldap_id = %v", got["ldap_id"])
	}
}

func TestCreateCaseHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second)
	errCase := client.CreateCase(context.Background(), CaseParams{UserID: 7})

	var appErr *apperr.Error
	if !errors.As(errCase, &appErr) {
		t.Fatalf("expected a typed error, got %v", errCase)
	}
	if appErr.Code != apperr.CodeVerificationHTTP {
		t.Fatalf("code = %s", appErr.Code)
	}
}
