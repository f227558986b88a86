// Package handshake implements the key-handshake URL format:
// portal://<bech32-pubkey>?relays=...&token=...[&subkey=...]
package handshake

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

const scheme = "portal"

// URL is the parsed form of a key-handshake link.
type URL struct {
	MainKey string // hex pubkey
	Relays  []string
	Token   string
	Subkey  string // hex pubkey, empty if not present
}

// HasSubkey reports whether the handshake names a subkey target.
func (h URL) HasSubkey() bool { return h.Subkey != "" }

// Format renders a URL back to its wire string.
func Format(h URL) (string, error) {
	if len(h.Relays) == 0 {
		return "", fmt.Errorf("handshake: relays must not be empty")
	}
	if h.Token == "" {
		return "", fmt.Errorf("handshake: token must not be empty")
	}
	mainBech32, err := nip19.EncodePublicKey(h.MainKey)
	if err != nil {
		return "", fmt.Errorf("handshake: encode main key: %w", err)
	}
	q := url.Values{}
	q.Set("relays", strings.Join(h.Relays, ","))
	q.Set("token", h.Token)
	if h.Subkey != "" {
		subBech32, err := nip19.EncodePublicKey(h.Subkey)
		if err != nil {
			return "", fmt.Errorf("handshake: encode subkey: %w", err)
		}
		q.Set("subkey", subBech32)
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     mainBech32,
		RawQuery: encodeQueryPreservingCommas(q),
	}
	return u.String(), nil
}

// encodeQueryPreservingCommas behaves like url.Values.Encode but keeps
// commas literal in the relays list, matching how these links are
// produced in practice (commas don't need escaping in a query value
// and escaping them would break the § 8 round-trip property for
// human-pasted links that already contain literal commas).
func encodeQueryPreservingCommas(q url.Values) string {
	encoded := q.Encode()
	return strings.ReplaceAll(encoded, "%2C", ",")
}

var allowedParams = map[string]bool{
	"relays": true,
	"token":  true,
	"subkey": true,
}

// Parse decodes a portal:// handshake URL. An unknown scheme, missing
// or empty relays or token, and any parameter outside {relays, token,
// subkey} are all parse errors.
func Parse(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("handshake: malformed url: %w", err)
	}
	if u.Scheme != scheme {
		return URL{}, fmt.Errorf("handshake: unexpected scheme %q, want %q", u.Scheme, scheme)
	}
	if u.Host == "" {
		return URL{}, fmt.Errorf("handshake: missing main key")
	}
	prefix, data, err := nip19.Decode(u.Host)
	if err != nil {
		return URL{}, fmt.Errorf("handshake: decode main key: %w", err)
	}
	if prefix != "npub" {
		return URL{}, fmt.Errorf("handshake: expected npub main key, got %q", prefix)
	}
	mainKey, ok := data.(string)
	if !ok {
		return URL{}, fmt.Errorf("handshake: unexpected main key payload type")
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return URL{}, fmt.Errorf("handshake: malformed query: %w", err)
	}
	for key := range query {
		if !allowedParams[key] {
			return URL{}, fmt.Errorf("handshake: unknown parameter %q", key)
		}
	}

	relaysRaw := query.Get("relays")
	if relaysRaw == "" {
		return URL{}, fmt.Errorf("handshake: missing or empty relays")
	}
	relays := strings.Split(relaysRaw, ",")
	for i, r := range relays {
		relays[i] = strings.TrimSpace(r)
		if relays[i] == "" {
			return URL{}, fmt.Errorf("handshake: empty relay entry")
		}
	}

	token := query.Get("token")
	if token == "" {
		return URL{}, fmt.Errorf("handshake: missing token")
	}

	result := URL{MainKey: mainKey, Relays: relays, Token: token}

	if subkeyRaw := query.Get("subkey"); subkeyRaw != "" {
		subPrefix, subData, err := nip19.Decode(subkeyRaw)
		if err != nil {
			return URL{}, fmt.Errorf("handshake: decode subkey: %w", err)
		}
		if subPrefix != "npub" {
			return URL{}, fmt.Errorf("handshake: expected npub subkey, got %q", subPrefix)
		}
		subkey, ok := subData.(string)
		if !ok {
			return URL{}, fmt.Errorf("handshake: unexpected subkey payload type")
		}
		result.Subkey = subkey
	}

	return result, nil
}
