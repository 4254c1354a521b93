package auth

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/membank/authserver/token"
)

// DefaultClientID is used when a request omits client_id and the registry
// policy allows it.
const DefaultClientID = "default"

// Client is a registered OAuth client. RedirectPatterns constrain the
// redirect_uri; an empty list accepts any well-formed URI (registry
// enforcement is a deployment choice, not a hard requirement of the core).
type Client struct {
	ID               string
	RedirectPatterns []string
	Profile          token.Profile
}

// ErrUnknownClient is returned for client IDs absent from the registry.
var ErrUnknownClient = errors.New("unknown client")

// ClientRegistry resolves client IDs to registered clients.
type ClientRegistry interface {
	Get(clientID string) (*Client, error)
}

// StaticRegistry is a fixed in-process client registry.
type StaticRegistry struct {
	clients map[string]*Client
}

// NewStaticRegistry builds a registry from a client list. When the list is
// empty a permissive default client (browser profile, any redirect URI) is
// registered so simple deployments work without client bookkeeping.
func NewStaticRegistry(clients []Client) *StaticRegistry {
	r := &StaticRegistry{clients: make(map[string]*Client)}
	for i := range clients {
		c := clients[i]
		if c.Profile == "" {
			c.Profile = token.ProfileBrowser
		}
		r.clients[c.ID] = &c
	}
	if len(r.clients) == 0 {
		r.clients[DefaultClientID] = &Client{ID: DefaultClientID, Profile: token.ProfileBrowser}
	}
	return r
}

func (r *StaticRegistry) Get(clientID string) (*Client, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}
	client, ok := r.clients[clientID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClient, "%q", clientID)
	}
	return client, nil
}

// AllowsRedirect reports whether uri matches one of the client's registered
// patterns. A trailing '*' in a pattern matches any suffix.
func (c *Client) AllowsRedirect(uri string) bool {
	if len(c.RedirectPatterns) == 0 {
		return true
	}
	for _, pattern := range c.RedirectPatterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(uri, prefix) {
				return true
			}
			continue
		}
		if uri == pattern {
			return true
		}
	}
	return false
}
