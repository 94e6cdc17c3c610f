// Package accountapi is the client for the external identity/directory
// service: account lifecycle (create, delete, activate, acknowledge) and
// group/role membership updates.
package accountapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/datapub/entitlements/internal/apperr"
)

// NewAccountParams is the payload for provisioning a directory account.
type NewAccountParams struct {
	UserType         string // Local classification, e.g. organisation-uk.
	Email            string
	FirstName        string
	LastName         string
	OrganisationName string
}

// Client calls the identity service under {url}/{version}.
type Client struct {
	baseURL string
	version string
	httpc   *http.Client
	timeout time.Duration
	retries int
}

// New builds a Client. retries bounds UpdateGroupsWithRetry attempts.
func New(baseURL, version string, timeout time.Duration, retries int) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		httpc:   &http.Client{},
		timeout: timeout,
		retries: retries,
	}
}

// Get fetches directory account details by external id.
func (c *Client) Get(ctx context.Context, ldapID string) (map[string]any, error) {
	var out map[string]any
	endpoint := fmt.Sprintf("%s/%s/users?id=%s", c.baseURL, c.version, url.QueryEscape(ldapID))
	if errCall := c.do(ctx, http.MethodGet, endpoint, nil, &out, "retrieving user details"); errCall != nil {
		return nil, errCall
	}
	return out, nil
}

// Create provisions a directory account and returns its external id.
func (c *Client) Create(ctx context.Context, params NewAccountParams) (string, error) {
	payload := map[string]any{
		"user_type":  directoryUserType(params.UserType),
		"email":      params.Email,
		"first_name": params.FirstName,
		"surname":    params.LastName,
	}
	if strings.HasPrefix(params.UserType, "organisation") && params.OrganisationName != "" {
		payload["org_name"] = params.OrganisationName
	}

	var out struct {
		UserID string `json:"user_id"`
	}
	endpoint := fmt.Sprintf("%s/%s/users", c.baseURL, c.version)
	if errCall := c.do(ctx, http.MethodPost, endpoint, payload, &out, "user creation"); errCall != nil {
		return "", errCall
	}
	log.Infof("created directory account for %s", params.Email)
	return out.UserID, nil
}

// Delete removes a directory account.
func (c *Client) Delete(ctx context.Context, ldapID string) error {
	endpoint := fmt.Sprintf("%s/%s/users/%s", c.baseURL, c.version, url.PathEscape(ldapID))
	if errCall := c.do(ctx, http.MethodDelete, endpoint, nil, nil, "user delete"); errCall != nil {
		return errCall
	}
	log.Infof("deleted directory account %s", ldapID)
	return nil
}

// Activate activates a directory account.
func (c *Client) Activate(ctx context.Context, ldapID string) error {
	endpoint := fmt.Sprintf("%s/%s/users/%s/activate", c.baseURL, c.version, url.PathEscape(ldapID))
	if errCall := c.do(ctx, http.MethodPost, endpoint, nil, nil, "user activation"); errCall != nil {
		return errCall
	}
	log.Infof("activated directory account %s", ldapID)
	return nil
}

// Acknowledge acknowledges a directory account pending verification.
func (c *Client) Acknowledge(ctx context.Context, ldapID string) error {
	endpoint := fmt.Sprintf("%s/%s/users/%s/acknowledge", c.baseURL, c.version, url.PathEscape(ldapID))
	if errCall := c.do(ctx, http.MethodPost, endpoint, nil, nil, "user acknowledgement"); errCall != nil {
		return errCall
	}
	log.Infof("acknowledged directory account %s", ldapID)
	return nil
}

// HandleRole adds or removes group membership for an account.
func (c *Client) HandleRole(ctx context.Context, ldapID string, groups map[string]bool) error {
	payload := map[string]any{"ldap_id": ldapID, "groups": groups}
	endpoint := fmt.Sprintf("%s/%s/users/handle_role", c.baseURL, c.version)
	if errCall := c.do(ctx, http.MethodPost, endpoint, payload, nil, "adding a role"); errCall != nil {
		return errCall
	}
	log.Infof("handled role for directory account %s", ldapID)
	return nil
}

// UpdateGroups replaces group membership flags for an account.
func (c *Client) UpdateGroups(ctx context.Context, ldapID string, groups map[string]bool) error {
	payload := map[string]any{"ldap_id": ldapID, "groups": groups}
	endpoint := fmt.Sprintf("%s/%s/users/update_groups", c.baseURL, c.version)
	if errCall := c.do(ctx, http.MethodPatch, endpoint, payload, nil, "updating groups"); errCall != nil {
		return errCall
	}
	log.Infof("updated groups for directory account %s", ldapID)
	return nil
}

// UpdateGroupsWithRetry pushes group updates with a bounded number of
// immediate retries. Exhausting the retries is logged and swallowed: local
// entitlement state is authoritative and group sync is fire-and-forget.
func (c *Client) UpdateGroupsWithRetry(ctx context.Context, ldapID string, groups map[string]bool) {
	for attempt := 1; attempt <= c.retries; attempt++ {
		log.Infof("attempt %d to update directory groups for %s", attempt, ldapID)
		if errUpdate := c.UpdateGroups(ctx, ldapID, groups); errUpdate == nil {
			log.Infof("directory group update for %s succeeded", ldapID)
			return
		} else {
			log.Errorf("directory group update for %s failed on attempt %d: %v", ldapID, attempt, errUpdate)
		}
	}
	log.Errorf("giving up on directory group update for %s after %d attempts", ldapID, c.retries)
}

// do performs one JSON call with the configured timeout, classifying failures
// into distinct timeout, connection and HTTP errors.
func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any, op string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body *bytes.Reader
	if payload != nil {
		data, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			return fmt.Errorf("accountapi: marshal payload: %w", errMarshal)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, errReq := http.NewRequestWithContext(callCtx, method, endpoint, body)
	if errReq != nil {
		return fmt.Errorf("accountapi: build request: %w", errReq)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, errDo := c.httpc.Do(req)
	if errDo != nil {
		if isTimeout(errDo) {
			log.Errorf("timeout calling account api for %s", op)
			return apperr.Wrap(errDo, apperr.CodeAccountTimeout, http.StatusInternalServerError, "account api timed out while %s", op)
		}
		log.Errorf("connection error calling account api for %s", op)
		return apperr.Wrap(errDo, apperr.CodeAccountConn, http.StatusInternalServerError, "could not connect to account api while %s", op)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Errorf("non 2xx (%d) from account api for %s", res.StatusCode, op)
		return apperr.New(apperr.CodeAccountHTTP, http.StatusInternalServerError, "account api returned status %d while %s", res.StatusCode, op)
	}

	if out != nil {
		if errDecode := json.NewDecoder(res.Body).Decode(out); errDecode != nil {
			return fmt.Errorf("accountapi: decode response: %w", errDecode)
		}
	}
	return nil
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// directoryUserType maps the local classification onto the identity service's
// closed user_type set.
func directoryUserType(userType string) string {
	switch userType {
	case "organisation-uk":
		return "uk-organisation"
	case "organisation-overseas":
		return "overseas-organisation"
	default:
		return "personal"
	}
}
