package bunker

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gnostr-org/signerd/internal/types"
)

// URI is the parsed form of a bunker connection string:
// bunker://<64-hex-pubkey>?relay=<url>&relay=<url>&secret=<opaque>
type URI struct {
	Pubkey types.PublicKey
	Relays []string
	Secret string // ephemeral, never logged or persisted
}

// ParseURI validates and decomposes a bunker URI. The pubkey component
// must be exactly 64 hex characters.
func ParseURI(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	}
	if u.Scheme != "bunker" {
		return nil, fmt.Errorf("%w: scheme %q is not bunker", types.ErrInvalidConfig, u.Scheme)
	}

	pubkey := types.PublicKey(u.Host)
	if u.Host == "" && u.Opaque != "" {
		// bunker:pubkey?... form
		pubkey = types.PublicKey(u.Opaque)
	}
	if err := pubkey.Validate(); err != nil {
		return nil, err
	}

	query := u.Query()
	return &URI{
		Pubkey: pubkey,
		Relays: query["relay"],
		Secret: query.Get("secret"),
	}, nil
}

// String reassembles the URI.
func (u *URI) String() string {
	var sb strings.Builder
	sb.WriteString("bunker://")
	sb.WriteString(string(u.Pubkey))

	sep := byte('?')
	for _, relay := range u.Relays {
		sb.WriteByte(sep)
		sb.WriteString("relay=")
		sb.WriteString(url.QueryEscape(relay))
		sep = '&'
	}
	if u.Secret != "" {
		sb.WriteByte(sep)
		sb.WriteString("secret=")
		sb.WriteString(url.QueryEscape(u.Secret))
	}
	return sb.String()
}

// Redacted renders the URI without its secret, safe for logs.
func (u *URI) Redacted() string {
	copied := *u
	copied.Secret = ""
	return copied.String()
}
