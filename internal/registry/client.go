// Package registry provides the HTTP client for the asset registration
// gateway: identity registration, license issuance and derivative linking.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
)

// Registrar is the three-operation capability consumed by the game-end
// sequencer. Internals are opaque; ordering is enforced by the caller.
type Registrar interface {
	RegisterIdentity(ctx context.Context, meta IdentityMetadata) (Registration, error)
	IssueLicense(ctx context.Context, credential, issuerID, holderID string) (string, error)
	RegisterDerivative(ctx context.Context, credential, childID string, licenseIDs []string) (string, error)
}

// IdentityMetadata describes the identity being registered.
type IdentityMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
	IPType      string `json:"ip_type"`
}

// Registration is the result of a register-identity call.
type Registration struct {
	IdentityID string `json:"identity_id"`
	TxRef      string `json:"tx_ref"`
}

// Client is an HTTP client to the registration gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a registry client. Registration calls settle on-chain,
// so the default timeout is generous.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RegisterIdentity registers a new identity and returns its id and
// transaction reference.
func (c *Client) RegisterIdentity(ctx context.Context, meta IdentityMetadata) (Registration, error) {
	var reg Registration
	if err := c.postJSON(ctx, c.baseURL+"/identities", meta, &reg); err != nil {
		return Registration{}, &domain.GatewayError{Op: "register identity", Err: err}
	}
	if reg.IdentityID == "" {
		return Registration{}, &domain.GatewayError{Op: "register identity", Err: fmt.Errorf("empty identity id in response")}
	}
	return reg, nil
}

// IssueLicense issues a license from issuerID to holderID on behalf of the
// issuer's credential and returns the license id.
func (c *Client) IssueLicense(ctx context.Context, credential, issuerID, holderID string) (string, error) {
	req := struct {
		Credential string `json:"credential"`
		IssuerID   string `json:"issuer_id"`
		HolderID   string `json:"holder_id"`
	}{credential, issuerID, holderID}

	var resp struct {
		LicenseID string `json:"license_id"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/licenses", req, &resp); err != nil {
		return "", &domain.GatewayError{Op: "issue license", Err: err}
	}
	if resp.LicenseID == "" {
		return "", &domain.GatewayError{Op: "issue license", Err: fmt.Errorf("empty license id in response")}
	}
	return resp.LicenseID, nil
}

// RegisterDerivative links the child identity to its parents through the
// issued licenses and returns the confirmation reference.
func (c *Client) RegisterDerivative(ctx context.Context, credential, childID string, licenseIDs []string) (string, error) {
	req := struct {
		Credential string   `json:"credential"`
		ChildID    string   `json:"child_id"`
		LicenseIDs []string `json:"license_ids"`
	}{credential, childID, licenseIDs}

	var resp struct {
		Confirmation string `json:"confirmation"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/derivatives", req, &resp); err != nil {
		return "", &domain.GatewayError{Op: "register derivative", Err: err}
	}
	return resp.Confirmation, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "url", url, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
