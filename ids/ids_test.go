package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardRoundTrip(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		id := NewStandard()
		parsed, err := ParseConversationID(id.String())
		require.NoError(t, err)
		assert.True(t, id.Equal(parsed))
		assert.True(t, parsed.IsStandard())
	}
}

func TestAliasRoundTrip(t *testing.T) {
	t.Parallel()
	parent := NewStandard()
	alias := NewAlias(parent, 42)
	parsed, err := ParseConversationID(alias.String())
	require.NoError(t, err)
	assert.True(t, alias.Equal(parsed))
	assert.True(t, parsed.IsAlias())
	assert.True(t, parsed.Parent().Equal(parent))
}

func TestParseConversationID_Rejections(t *testing.T) {
	t.Parallel()
	cases := []string{
		"",
		"p",
		"p1",
		"xx",
		"p2abc",
		"p2_123",
		"p2abc_",
		"p2abc_xyz",
	}
	for _, c := range cases {
		c := c
		t.Run(c, func(t *testing.T) {
			t.Parallel()
			_, err := ParseConversationID(c)
			assert.Error(t, err)
		})
	}
}

func TestParseConversationID_LegalExamples(t *testing.T) {
	t.Parallel()
	cases := []string{
		"p1" + "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123",
		"p2" + "someParent_7",
		"p2" + "a_0",
	}
	for _, c := range cases {
		c := c
		t.Run(c, func(t *testing.T) {
			t.Parallel()
			id, err := ParseConversationID(c)
			require.NoError(t, err)
			assert.Equal(t, c, id.String())
		})
	}
}

func TestSubscriptionIDUnique(t *testing.T) {
	t.Parallel()
	a := NewSubscriptionID()
	b := NewSubscriptionID()
	assert.NotEqual(t, a, b)
}
