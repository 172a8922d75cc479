package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
)

const maxErrorBody = 4096

// Config configures the admin API client
type Config struct {
	BaseURL    string
	Realm      string
	AdminRealm string

	// Admin credentials. A client secret without a username selects the
	// client credentials grant, otherwise the password grant is used.
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	Timeout      time.Duration
	PageSize     int
	RoleCacheTTL time.Duration
	RoleCacheMax int
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AdminRealm == "" {
		c.AdminRealm = "master"
	}
	if c.ClientID == "" {
		c.ClientID = "admin-cli"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.RoleCacheTTL <= 0 {
		c.RoleCacheTTL = 5 * time.Minute
	}
	if c.RoleCacheMax <= 0 {
		c.RoleCacheMax = 256
	}
	return c
}

// TokenURL returns the token endpoint of the admin realm
func (c Config) TokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.AdminRealm))
}

// IssuerURL returns the issuer of tokens minted by the application realm
func (c Config) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.Realm))
}

// Client talks to the Keycloak admin REST API of one realm
type Client struct {
	config Config
	http   *http.Client
	roles  *lru.LRU[string, identity.Role]
	logger *observability.Logger
}

// NewClient creates an admin API client. Admin tokens are fetched lazily
// and reused until they expire.
func NewClient(config Config, logger *observability.Logger) (*Client, error) {
	config = config.withDefaults()
	if config.BaseURL == "" {
		return nil, fmt.Errorf("keycloak base URL is required")
	}
	if config.Realm == "" {
		return nil, fmt.Errorf("keycloak realm is required")
	}
	if config.Username == "" && config.ClientSecret == "" {
		return nil, fmt.Errorf("keycloak admin credentials are required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	base := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   config.Timeout,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	var source oauth2.TokenSource
	if config.Username == "" {
		cc := &clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL(),
		}
		source = cc.TokenSource(ctx)
	} else {
		source = oauth2.ReuseTokenSource(nil, &passwordSource{
			ctx:      ctx,
			username: config.Username,
			password: config.Password,
			config: &oauth2.Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				Endpoint: oauth2.Endpoint{
					TokenURL:  config.TokenURL(),
					AuthStyle: oauth2.AuthStyleInParams,
				},
			},
		})
	}

	httpClient := oauth2.NewClient(ctx, source)
	httpClient.Timeout = config.Timeout

	return &Client{
		config: config,
		http:   httpClient,
		roles:  lru.NewLRU[string, identity.Role](config.RoleCacheMax, nil, config.RoleCacheTTL),
		logger: logger.WithField("component", "keycloak"),
	}, nil
}

// passwordSource runs the resource owner password grant on every call.
// Wrapped in oauth2.ReuseTokenSource it only runs once the cached token
// has expired.
type passwordSource struct {
	ctx      context.Context
	config   *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	return p.config.PasswordCredentialsToken(p.ctx, p.username, p.password)
}

// Realm returns the application realm name
func (c *Client) Realm() string {
	return c.config.Realm
}

// TestConnection reports whether the realm can be read with the admin
// credentials
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.do(ctx, http.MethodGet, "", nil, nil, nil)
	if err != nil {
		c.logger.WithError(err).Warn("keycloak connection test failed")
		return false
	}
	return true
}

// do sends a request to the realm admin endpoint. path is relative to
// /admin/realms/{realm}. in is JSON encoded when not nil and out is
// decoded from a successful response when not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/admin/realms/%s%s", c.config.BaseURL, url.PathEscape(c.config.Realm), path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Err: err, kind: identity.ErrIdentityProviderUnavailable}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.Header, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
			kind:       classify(resp.StatusCode),
		}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return resp.Header, nil
}

// onStatus tags an APIError with the given status as sentinel
func onStatus(err error, status int, sentinel error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == status {
		apiErr.kind = sentinel
	}
	return err
}

func userPath(id string, suffix ...string) string {
	return "/users/" + url.PathEscape(id) + strings.Join(suffix, "")
}

func rolePath(name string) string {
	return "/roles/" + url.PathEscape(name)
}
