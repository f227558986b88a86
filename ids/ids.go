// Package ids implements the typed identifier scheme used by the
// router: conversation ids (standard or alias) and opaque subscription
// ids, with a stable wire encoding.
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	standardPrefix = "p1"
	aliasPrefix    = "p2"
	opaqueLen      = 30
	opaqueAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Kind distinguishes a standard conversation id from an alias id.
type Kind int

const (
	KindStandard Kind = iota
	KindAlias
)

// ConversationID is the tagged variant: standard or alias.
type ConversationID struct {
	kind   Kind
	opaque string // standard: own opaque string; alias: parent's opaque string
	alias  uint64 // only meaningful when kind == KindAlias
}

// NewStandard generates a fresh standard conversation id.
func NewStandard() ConversationID {
	return ConversationID{kind: KindStandard, opaque: randomOpaque()}
}

// NewAlias derives an alias id from a parent standard conversation id
// and a caller-chosen alias number, unique among the parent's aliases.
func NewAlias(parent ConversationID, alias uint64) ConversationID {
	return ConversationID{kind: KindAlias, opaque: parent.opaque, alias: alias}
}

func (c ConversationID) Kind() Kind       { return c.kind }
func (c ConversationID) IsAlias() bool    { return c.kind == KindAlias }
func (c ConversationID) IsStandard() bool { return c.kind == KindStandard }

// Parent returns the parent conversation id for an alias. Panics if c
// is not an alias — callers must check IsAlias first.
func (c ConversationID) Parent() ConversationID {
	if c.kind != KindAlias {
		panic("ids: Parent called on non-alias conversation id")
	}
	return ConversationID{kind: KindStandard, opaque: c.opaque}
}

// String returns the stable wire encoding.
func (c ConversationID) String() string {
	switch c.kind {
	case KindStandard:
		return standardPrefix + c.opaque
	case KindAlias:
		return aliasPrefix + c.opaque + "_" + strconv.FormatUint(c.alias, 10)
	default:
		return ""
	}
}

// Equal reports whether two conversation ids encode to the same value.
func (c ConversationID) Equal(other ConversationID) bool {
	return c.kind == other.kind && c.opaque == other.opaque && c.alias == other.alias
}

// ParseConversationID parses the wire form produced by String. It
// rejects strings shorter than 3 bytes, unrecognized prefixes, an
// empty p1 body, and a malformed p2 body (missing underscore or a
// non-numeric alias number).
func ParseConversationID(s string) (ConversationID, error) {
	if len(s) < 3 {
		return ConversationID{}, fmt.Errorf("ids: conversation id %q too short", s)
	}
	prefix, rest := s[:2], s[2:]
	switch prefix {
	case standardPrefix:
		if rest == "" {
			return ConversationID{}, fmt.Errorf("ids: empty standard conversation id body")
		}
		return ConversationID{kind: KindStandard, opaque: rest}, nil
	case aliasPrefix:
		idx := strings.LastIndexByte(rest, '_')
		if idx < 0 || idx == len(rest)-1 {
			return ConversationID{}, fmt.Errorf("ids: malformed alias conversation id %q", s)
		}
		parentOpaque, aliasPart := rest[:idx], rest[idx+1:]
		if parentOpaque == "" {
			return ConversationID{}, fmt.Errorf("ids: alias conversation id %q missing parent", s)
		}
		alias, err := strconv.ParseUint(aliasPart, 10, 64)
		if err != nil {
			return ConversationID{}, fmt.Errorf("ids: alias conversation id %q has non-numeric alias: %w", s, err)
		}
		return ConversationID{kind: KindAlias, opaque: parentOpaque, alias: alias}, nil
	default:
		return ConversationID{}, fmt.Errorf("ids: unknown conversation id prefix in %q", s)
	}
}

// randomOpaque produces a 30-char alphanumeric opaque string.
func randomOpaque() string {
	var b strings.Builder
	b.Grow(opaqueLen)
	max := big.NewInt(int64(len(opaqueAlphabet)))
	for i := 0; i < opaqueLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is unrecoverable for id generation.
			panic(fmt.Sprintf("ids: random generation failed: %v", err))
		}
		b.WriteByte(opaqueAlphabet[n.Int64()])
	}
	return b.String()
}

// SubscriptionID is the router-assigned opaque wire subscription
// identifier used with the relay pool. It is independent of
// ConversationID so several conversations can share one subscription.
type SubscriptionID string

// NewSubscriptionID generates a fresh subscription id.
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(uuid.NewString())
}

func (s SubscriptionID) String() string { return string(s) }
