// Package verification is the client for the external verification /
// case-management service that vets new registrations.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/datapub/entitlements/internal/apperr"
)

// Case statuses assigned at registration.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
)

// CaseParams describes a registration to be verified.
type CaseParams struct {
	UserID           uint64         // Local user id.
	LdapID           string         // Directory account id.
	UserType         string         // Local classification.
	RegistrationData map[string]any // Remaining registration fields.
}

// Client calls the verification service under {url}/{version}.
type Client struct {
	baseURL string
	version string
	httpc   *http.Client
	timeout time.Duration
}

// New builds a Client.
func New(baseURL, version string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		httpc:   &http.Client{},
		timeout: timeout,
	}
}

// CreateCase registers the user with the verification service. UK
// organisations start Pending and await manual approval; everyone else is
// Approved immediately.
func (c *Client) CreateCase(ctx context.Context, params CaseParams) error {
	payload := BuildCasePayload(params)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return fmt.Errorf("verification: marshal payload: %w", errMarshal)
	}

	endpoint := fmt.Sprintf("%s/%s/case", c.baseURL, c.version)
	req, errReq := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(data))
	if errReq != nil {
		return fmt.Errorf("verification: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, errDo := c.httpc.Do(req)
	if errDo != nil {
		if isTimeout(errDo) {
			log.Errorf("timeout calling verification api creating case for user %d", params.UserID)
			return apperr.Wrap(errDo, apperr.CodeVerificationTimeout, http.StatusInternalServerError, "verification api timed out creating case")
		}
		log.Errorf("connection error calling verification api creating case for user %d", params.UserID)
		return apperr.Wrap(errDo, apperr.CodeVerificationConn, http.StatusInternalServerError, "could not connect to verification api")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Errorf("non 2xx (%d) from verification api creating case for user %d", res.StatusCode, params.UserID)
		return apperr.New(apperr.CodeVerificationHTTP, http.StatusInternalServerError, "verification api returned status %d creating case", res.StatusCode)
	}

	log.Infof("created verification case for user %d", params.UserID)
	return nil
}

// BuildCasePayload derives the wire payload for a case. The registration data
// excludes internal id fields, which travel as top-level keys.
func BuildCasePayload(params CaseParams) map[string]any {
	status := StatusApproved
	if params.UserType == "organisation-uk" {
		status = StatusPending
	}

	registration := make(map[string]any, len(params.RegistrationData))
	for key, value := range params.RegistrationData {
		switch key {
		case "user_id", "ldap_id", "user_type_id", "user_details_id":
			continue
		}
		registration[key] = value
	}

	return map[string]any{
		"user_id":           strconv.FormatUint(params.UserID, 10),
		"ldap_id":           params.LdapID,
		"status":            status,
		"registration_data": registration,
	}
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
