package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/pion/webrtc/v3"
)

// CredentialClient fetches time-boxed relay/TURN credentials from the
// bootstrap endpoint and merges them with the static defaults.
type CredentialClient struct {
	// config is the peer transport configuration
	config config.PeerConfig

	// logger for logging
	logger logger.Logger

	// httpClient performs the bootstrap request
	httpClient *http.Client
}

// credentialResponse is the bootstrap endpoint's reply
type credentialResponse struct {
	ICEServers []struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username,omitempty"`
		Credential string   `json:"credential,omitempty"`
	} `json:"iceServers"`
}

// NewCredentialClient creates a new credential bootstrap client
func NewCredentialClient(cfg config.PeerConfig, log logger.Logger) *CredentialClient {
	return &CredentialClient{
		config: cfg,
		logger: log,
		httpClient: &http.Client{
			Timeout: cfg.CredentialTimeout,
		},
	}
}

// Fetch returns the ICE server set for a user: fetched relay credentials
// merged with the static defaults. Falls back to the static set when the
// endpoint is unset or unreachable.
func (cc *CredentialClient) Fetch(ctx context.Context, userID string) ([]webrtc.ICEServer, error) {
	static := StaticICEServers(cc.config)

	if cc.config.CredentialEndpoint == "" {
		return static, nil
	}

	endpoint, err := url.Parse(cc.config.CredentialEndpoint)
	if err != nil {
		return static, errors.Wrap(errors.ErrCodeCredentialFetch, "invalid credential endpoint", err)
	}

	q := endpoint.Query()
	q.Set("userId", userID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return static, errors.Wrap(errors.ErrCodeCredentialFetch, "credential request failed", err)
	}

	resp, err := cc.httpClient.Do(req)
	if err != nil {
		cc.logger.Warn("Credential fetch failed, using static servers",
			logger.Err(err),
		)
		return static, errors.Wrap(errors.ErrCodeCredentialFetch, "credential request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cc.logger.Warn("Credential endpoint returned non-OK status, using static servers",
			logger.Int("status", resp.StatusCode),
		)
		return static, errors.New(errors.ErrCodeCredentialFetch, "credential endpoint returned "+resp.Status)
	}

	var body credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return static, errors.Wrap(errors.ErrCodeCredentialFetch, "credential decode failed", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(body.ICEServers)+len(static))
	for _, s := range body.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	servers = append(servers, static...)

	cc.logger.Info("Fetched relay credentials",
		logger.String("user_id", userID),
		logger.Int("servers", len(servers)),
	)

	return servers, nil
}
