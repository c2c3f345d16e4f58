package media

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cardkeep/signal_layer/internal/errors"
)

const defaultTokenTTL = 10 * time.Minute

// VideoGrant is the room permission block of a hosted-router access token.
type VideoGrant struct {
	RoomJoin     bool   `json:"roomJoin"`
	Room         string `json:"room"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

// AccessClaims is the hosted router's access-token shape: iss is the API key
// and sub the participant identity.
type AccessClaims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Credential is an issued access token and where to use it.
type Credential struct {
	Token     string
	URL       string
	Room      string
	Identity  string
	ExpiresAt time.Time
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	APIKey    string
	APISecret string
	URL       string
	TTL       time.Duration
	Now       func() time.Time
}

// Issuer mints short-lived hosted-media credentials. It never issues with a
// missing key, secret or router URL.
type Issuer struct {
	apiKey    string
	apiSecret []byte
	url       string
	ttl       time.Duration
	now       func() time.Time
}

// NewIssuer creates an Issuer. Missing settings are reported per Issue call.
func NewIssuer(cfg IssuerConfig) *Issuer {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		apiSecret: []byte(cfg.APISecret),
		url:       strings.TrimSpace(cfg.URL),
		ttl:       ttl,
		now:       now,
	}
}

// Configured reports which required setting is missing, or "" when none is.
func (i *Issuer) Configured() string {
	switch {
	case i.apiKey == "":
		return "MEDIA_API_KEY"
	case len(i.apiSecret) == 0:
		return "MEDIA_API_SECRET"
	case i.url == "":
		return "MEDIA_URL"
	}
	return ""
}

// Issue signs a token letting identity join room with publish and subscribe
// rights.
func (i *Issuer) Issue(identity, name, room string) (Credential, error) {
	if missing := i.Configured(); missing != "" {
		return Credential{}, errors.Misconfigured(missing)
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return Credential{}, errors.BadRequest("room is required")
	}
	if strings.TrimSpace(identity) == "" {
		return Credential{}, errors.BadRequest("identity is required")
	}

	now := i.now()
	expires := now.Add(i.ttl)
	claims := AccessClaims{
		Name: name,
		Video: &VideoGrant{
			RoomJoin:     true,
			Room:         room,
			CanPublish:   true,
			CanSubscribe: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.apiSecret)
	if err != nil {
		return Credential{}, errors.Internal("sign media token", err)
	}

	return Credential{
		Token:     token,
		URL:       i.url,
		Room:      room,
		Identity:  identity,
		ExpiresAt: expires,
	}, nil
}
