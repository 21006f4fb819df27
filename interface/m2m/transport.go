package m2m

import (
	"net/http"
	"strings"
	"sync/atomic"
)

// AuthHeader is the header carrying the session token
const AuthHeader = "X-Auth-Token"

type tokenStore struct {
	token atomic.Value
}

func (t *tokenStore) Get() string {
	token, _ := t.token.Load().(string)
	return token
}

func (t *tokenStore) Set(token string) {
	t.token.Store(token)
}

// transportToken adds the session token to every request but the ones in the blackList
type transportToken struct {
	originalTransport http.RoundTripper
	tokens            *tokenStore
	blackList         []string
}

func (t *transportToken) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.tokens.Get()
	if token == "" {
		return t.originalTransport.RoundTrip(req)
	}
	for _, blackListItem := range t.blackList {
		if strings.HasSuffix(strings.TrimSuffix(req.URL.Path, "/"), "/"+blackListItem) {
			return t.originalTransport.RoundTrip(req)
		}
	}
	// A RoundTripper must not modify the request
	req = req.Clone(req.Context())
	req.Header.Set(AuthHeader, token)
	return t.originalTransport.RoundTrip(req)
}
