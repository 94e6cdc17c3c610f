package accountapi

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

func TestCreateMapsUserType(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/users" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if errDecode := json.NewDecoder(r.Body).Decode(&got); errDecode != nil {
			t.Errorf("decode: %v", errDecode)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"ldap-123"}`))
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second, 3)
	ldapID, errCreate := client.Create(context.Background(), NewAccountParams{
		UserType:         "organisation-uk",
		Email:            "org@example.com",
		FirstName:        "Org",
		LastName:         "Admin",
		OrganisationName: "Acme Ltd",
	})
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if ldapID != "ldap-123" {
		t.Fatalf("ldap id = %q", ldapID)
	}
	if got["user_type"] != "uk-organisation" {
		t.Fatalf("user_type = %v", got["user_type"])
	}
	if got["org_name"] != "Acme Ltd" {
		t.Fatalf("org_name = %v", got["org_name"])
	}
	if got["surname"] != "Admin" {
		t.Fatalf("surname = %v", got["surname"])
	}
}

func TestCreatePersonalOmitsOrgName(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"user_id":"ldap-9"}`))
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second, 3)
	if _, errCreate := client.Create(context.Background(), NewAccountParams{
		UserType:  "personal-uk",
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
	}); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if got["user_type"] != "personal" {
		t.Fatalf("user_type = %v", got["user_type"])
	}
	if _, present := got["org_name"]; present {
		t.Fatal("org_name must not be sent for personal users")
	}
}

func TestDoClassifiesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second, 3)
	errDelete := client.Delete(context.Background(), "ldap-1")

	var appErr *apperr.Error
	if !errors.As(errDelete, &appErr) {
		t.Fatalf("expected a typed error, got %v", errDelete)
	}
	if appErr.Code != apperr.CodeAccountHTTP {
		t.Fatalf("code = %s", appErr.Code)
	}
}

func TestDoClassifiesConnectionFailure(t *testing.T) {
	client := New("http://127.0.0.1:1", "v1", time.Second, 3)
	errGet := client.Activate(context.Background(), "ldap-1")

	var appErr *apperr.Error
	if !errors.As(errGet, &appErr) {
		t.Fatalf("expected a typed error, got %v", errGet)
	}
	if appErr.Code != apperr.CodeAccountConn {
		t.Fatalf("code = %s", appErr.Code)
	}
}

func TestUpdateGroupsWithRetryExhaustsAndSwallows(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second, 3)
	client.UpdateGroupsWithRetry(context.Background(), "ldap-1", map[string]bool{"ccod": true})

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestUpdateGroupsWithRetryStopsOnSuccess(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL, "v1", time.Second, 5)
	client.UpdateGroupsWithRetry(context.Background(), "ldap-1", map[string]bool{"ccod": true})

	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
