// Package token performs the authorization-code exchange and the userinfo
// fetch against a resolved provider.
package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/oidc/discovery"
)

const maxResponseSize = 1 << 20

// Response is the provider's token-endpoint answer. Never persisted; it
// lives for the duration of one callback.
type Response struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Input carries the client-side parameters of one exchange.
type Input struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        []string
}

// Exchanger talks to the token and userinfo endpoints. One provider call
// per user action, no retries; retry policy belongs to the caller.
type Exchanger struct {
	http *http.Client
}

// NewExchanger builds an Exchanger with the given timeout (clamped by the
// config layer to 10-30s).
func NewExchanger(timeout time.Duration) *Exchanger {
	return &Exchanger{http: &http.Client{Timeout: timeout}}
}

// NewExchangerWithClient is the test hook.
func NewExchangerWithClient(c *http.Client) *Exchanger {
	return &Exchanger{http: c}
}

// Exchange posts the authorization code to the provider's token endpoint
// with HTTP Basic client authentication.
func (e *Exchanger) Exchange(ctx context.Context, provider *discovery.ProviderConfig, in Input) (*Response, error) {
	log := logger.From(ctx).With(logger.Component("exchanger"))

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", in.Code)
	form.Set("redirect_uri", in.RedirectURI)
	if len(in.Scope) > 0 {
		form.Set("scope", strings.Join(in.Scope, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindTokenExchange, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(in.ClientID, in.ClientSecret)

	resp, err := e.http.Do(req)
	if err != nil {
		log.Warn("token endpoint unreachable", logger.Endpoint(provider.TokenEndpoint), logger.Err(err))
		return nil, autherr.Wrap(autherr.KindTokenExchange, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindTokenExchange, "reading token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The provider's error code is useful server-side; the raw body
		// never reaches the end user.
		var pe struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &pe)
		log.Warn("token endpoint rejected exchange",
			logger.Endpoint(provider.TokenEndpoint),
			logger.Status(resp.StatusCode),
			logger.String("provider_error", pe.Error),
		)
		return nil, autherr.Newf(autherr.KindTokenExchange, "token endpoint returned status %d", resp.StatusCode)
	}

	var tr Response
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, autherr.Wrap(autherr.KindTokenExchange, "token response is not valid JSON", err)
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return nil, autherr.New(autherr.KindTokenExchange, "token response missing access_token")
	}
	return &tr, nil
}

// Userinfo fetches the userinfo document with a bearer access token. Used
// when the provider issues no ID token (plain OAuth2 deployments).
func (e *Exchanger) Userinfo(ctx context.Context, provider *discovery.ProviderConfig, accessToken string) (map[string]any, error) {
	log := logger.From(ctx).With(logger.Component("exchanger"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserinfoEndpoint, nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindUserInfo, "building userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		log.Warn("userinfo endpoint unreachable", logger.Endpoint(provider.UserinfoEndpoint), logger.Err(err))
		return nil, autherr.Wrap(autherr.KindUserInfo, "userinfo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("userinfo request rejected",
			logger.Endpoint(provider.UserinfoEndpoint),
			logger.Status(resp.StatusCode),
		)
		return nil, autherr.Newf(autherr.KindUserInfo, "userinfo endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindUserInfo, "reading userinfo response", err)
	}

	var ui map[string]any
	if err := json.Unmarshal(body, &ui); err != nil {
		return nil, autherr.Wrap(autherr.KindUserInfo, "userinfo response is not valid JSON", err)
	}
	sub, _ := ui["sub"].(string)
	if sub == "" {
		return nil, autherr.New(autherr.KindUserInfo, "userinfo response missing sub")
	}
	return ui, nil
}
