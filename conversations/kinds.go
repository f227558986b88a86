// Package conversations holds the thin, public-facing façades built on
// top of the router's conversation shells: key handshake,
// authentication, profile, payments, invoices, Cashu ecash, recurring
// payments and NIP-46 remote signing.
package conversations

// Event kinds used by the façades in this package. All but
// KindSetProfile live in the application-specific ephemeral range so
// relays never store them past delivery; KindSetProfile is the
// regular NIP-01 Metadata kind.
const (
	KindAuthChallenge     = 25001
	KindAuthResponse      = 25002
	KindSetProfile        = 0 // NIP-01 Metadata, the one self-loop exception
	KindFetchProfile      = 25010
	KindProfileResponse   = 25011
	KindPaymentRequest    = 25020
	KindPaymentResponse   = 25021
	KindInvoiceRequest    = 25030
	KindInvoiceResponse   = 25031
	KindCashuToken        = 25040
	KindRecurringRequest  = 25050
	KindRecurringNotice   = 25051
	KindSubkeyProof       = 25060
	KindNIP46Request      = 25070
	KindNIP46Response     = 25071
)
