// Package config holds the relying-party settings. Hosts either construct
// Settings directly from their own option store (CMS key/value options map
// 1:1 onto the fields) or load a YAML file for the CLI.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
)

// Settings configures one provider integration.
type Settings struct {
	// EnableLogin gates the whole flow. Off means Start/Complete refuse.
	EnableLogin bool `yaml:"enable_login"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// DiscoveryURL points at the provider's discovery document. When empty,
	// OAuthURL must be set and endpoints are derived from it.
	DiscoveryURL string `yaml:"discovery_url"`

	// OAuthURL is the manual endpoint base: {OAuthURL}/oauth2/authorize,
	// /oauth2/token, /oauth2/userinfo.
	OAuthURL string `yaml:"oauth_url"`

	RedirectURI string   `yaml:"redirect_uri"`
	Scope       []string `yaml:"scope"`

	// ProviderKey identifies the provider in identity links. Defaults to
	// the issuer host when empty.
	ProviderKey string `yaml:"provider_key"`

	// AutoLinkUser links by verified email to an existing local account.
	AutoLinkUser bool `yaml:"auto_link_user"`

	// AutoCreateUser provisions a local account when no link or email
	// match exists.
	AutoCreateUser bool `yaml:"auto_create_user"`

	// UsernameMapping is the raw static remapping table, one
	// "external=local" pair per line. When set, resolution runs in static
	// mode: name/mail match only, no provisioning.
	UsernameMapping string `yaml:"username_mapping"`

	// AllowInsecureHTTP disables the https requirement on provider
	// endpoints. Local development only.
	AllowInsecureHTTP bool `yaml:"allow_insecure_http"`

	// HTTPTimeout bounds every outbound provider call. Defaults to 15s,
	// clamped to [10s, 30s].
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// StateTTL bounds how long a pending authorization request stays
	// valid. Defaults to 5 minutes.
	StateTTL time.Duration `yaml:"state_ttl"`

	// WelcomeEmail enables a welcome mail for auto-provisioned accounts.
	WelcomeEmail bool       `yaml:"welcome_email"`
	SMTP         SMTPConfig `yaml:"smtp"`
}

// SMTPConfig configures the optional welcome-email sender.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	TLSMode            string `yaml:"tls"` // auto | starttls | ssl | none
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Load reads Settings from a YAML file.
func Load(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	return &s, nil
}

// ApplyDefaults fills unset optional fields.
func (s *Settings) ApplyDefaults() {
	if len(s.Scope) == 0 {
		s.Scope = []string{"openid", "profile", "email"}
	}
	if s.HTTPTimeout == 0 {
		s.HTTPTimeout = 15 * time.Second
	}
	if s.HTTPTimeout < 10*time.Second {
		s.HTTPTimeout = 10 * time.Second
	}
	if s.HTTPTimeout > 30*time.Second {
		s.HTTPTimeout = 30 * time.Second
	}
	if s.StateTTL == 0 {
		s.StateTTL = 5 * time.Minute
	}
}

// Validate checks the settings a login flow cannot run without. Every
// failure is a configuration-kind error: fatal until the admin fixes it.
func (s *Settings) Validate() error {
	if !s.EnableLogin {
		return autherr.New(autherr.KindConfiguration, "login is disabled")
	}
	if strings.TrimSpace(s.ClientID) == "" {
		return autherr.New(autherr.KindConfiguration, "client_id is required")
	}
	if strings.TrimSpace(s.ClientSecret) == "" {
		return autherr.New(autherr.KindConfiguration, "client_secret is required")
	}
	if strings.TrimSpace(s.DiscoveryURL) == "" && strings.TrimSpace(s.OAuthURL) == "" {
		return autherr.New(autherr.KindConfiguration, "either discovery_url or oauth_url is required")
	}
	if strings.TrimSpace(s.RedirectURI) == "" {
		return autherr.New(autherr.KindConfiguration, "redirect_uri is required")
	}
	return nil
}

// StaticMode reports whether resolution runs against the static username
// remapping table instead of the link store policy chain.
func (s *Settings) StaticMode() bool {
	return strings.TrimSpace(s.UsernameMapping) != ""
}

// Marshal renders the settings back to YAML (the CLI uses it for
// `config show`; the secret is redacted).
func (s *Settings) Marshal() ([]byte, error) {
	red := *s
	if red.ClientSecret != "" {
		red.ClientSecret = "<redacted>"
	}
	if red.SMTP.Password != "" {
		red.SMTP.Password = "<redacted>"
	}
	return yaml.Marshal(&red)
}
