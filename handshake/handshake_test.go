package handshake

import (
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixedPubkeyHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

func TestScenarioS1(t *testing.T) {
	t.Parallel()
	raw := "portal://npub1f85r7zp3zrlxgxxlufuxuv3x7jeda3ttsnp7jwgvhm8pjzc0950ssy3hal?relays=wss%3A%2F%2Frelay.getportal.cc&token=token_1759248229913662731"
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://relay.getportal.cc"}, parsed.Relays)
	assert.Equal(t, "token_1759248229913662731", parsed.Token)
	assert.Empty(t, parsed.Subkey)

	_, expectedPub, err := nip19.Decode("npub1f85r7zp3zrlxgxxlufuxuv3x7jeda3ttsnp7jwgvhm8pjzc0950ssy3hal")
	require.NoError(t, err)
	assert.Equal(t, expectedPub, parsed.MainKey)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []URL{
		{MainKey: fixedPubkeyHex, Relays: []string{"wss://relay.example.com"}, Token: "tok1"},
		{MainKey: fixedPubkeyHex, Relays: []string{"wss://a.example.com", "wss://b.example.com/path?x=1"}, Token: "tok2", Subkey: fixedPubkeyHex},
	}
	for _, c := range cases {
		formatted, err := Format(c)
		require.NoError(t, err)
		parsed, err := Parse(formatted)
		require.NoError(t, err)
		assert.Equal(t, c.MainKey, parsed.MainKey)
		assert.Equal(t, c.Relays, parsed.Relays)
		assert.Equal(t, c.Token, parsed.Token)
		assert.Equal(t, c.Subkey, parsed.Subkey)
	}
}

func TestParseNegativeCases(t *testing.T) {
	t.Parallel()
	base := "npub1f85r7zp3zrlxgxxlufuxuv3x7jeda3ttsnp7jwgvhm8pjzc0950ssy3hal"
	cases := map[string]string{
		"wrong scheme":      "http://" + base + "?relays=wss://r.example.com&token=t",
		"missing token":     "portal://" + base + "?relays=wss://r.example.com",
		"missing relays":    "portal://" + base + "?token=t",
		"empty relays":      "portal://" + base + "?relays=&token=t",
		"unknown parameter": "portal://" + base + "?relays=wss://r.example.com&token=t&foo=bar",
	}
	for name, raw := range cases {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(raw)
			assert.Error(t, err)
		})
	}
}

func TestFormatRejectsEmptyFields(t *testing.T) {
	t.Parallel()
	_, err := Format(URL{MainKey: fixedPubkeyHex, Token: "t"})
	assert.Error(t, err)
	_, err = Format(URL{MainKey: fixedPubkeyHex, Relays: []string{"wss://r.example.com"}})
	assert.Error(t, err)
}
