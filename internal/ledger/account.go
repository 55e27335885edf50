package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types. For unit instruments these make up a holding
	// (free + loan_locked + listed); for money instruments only free is used.
	SubTypeFree AccountSubType = iota
	SubTypeLoanLocked
	SubTypeListed

	// System sub-types
	SubTypeSystemUnissued

	// External sub-types
	SubTypeExternalIssuance
	SubTypeExternalPaymentsIn
	SubTypeExternalPaymentsOut
)

// InstrumentKind separates fractional asset units from payment-token money.
type InstrumentKind uint8

const (
	InstrumentUnits InstrumentKind = iota + 1
	InstrumentMoney
)

// Instrument is what an account is denominated in: the units of one asset,
// or one payment token.
type Instrument struct {
	Kind    InstrumentKind
	AssetID uint64 // InstrumentUnits only
	Token   string // InstrumentMoney only
}

// Units returns the instrument for an asset's fractional units.
func Units(assetID uint64) Instrument {
	return Instrument{Kind: InstrumentUnits, AssetID: assetID}
}

// Money returns the instrument for a payment token.
func Money(token string) Instrument {
	return Instrument{Kind: InstrumentMoney, Token: NormalizeToken(token)}
}

func (i Instrument) String() string {
	switch i.Kind {
	case InstrumentUnits:
		return fmt.Sprintf("units#%d", i.AssetID)
	case InstrumentMoney:
		return i.Token
	}
	return "unknown"
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope      AccountScope
	Holder     string // identity for users, empty for external accounts
	SubType    AccountSubType
	Instrument Instrument
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(holder string, subType AccountSubType, instrument Instrument) AccountKey {
	return AccountKey{
		Scope:      AccountScopeUser,
		Holder:     NormalizeIdentity(holder),
		SubType:    subType,
		Instrument: instrument,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, instrument Instrument) AccountKey {
	return AccountKey{
		Scope:      AccountScopeSystem,
		SubType:    subType,
		Instrument: instrument,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, instrument Instrument) AccountKey {
	return AccountKey{
		Scope:      AccountScopeExternal,
		SubType:    subType,
		Instrument: instrument,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Holder, k.subTypeName(), k.Instrument)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Instrument)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Instrument)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeFree:
		return "free"
	case SubTypeLoanLocked:
		return "loan_locked"
	case SubTypeListed:
		return "listed"
	case SubTypeSystemUnissued:
		return "unissued"
	case SubTypeExternalIssuance:
		return "issuance"
	case SubTypeExternalPaymentsIn:
		return "payments_in"
	case SubTypeExternalPaymentsOut:
		return "payments_out"
	default:
		return "unknown"
	}
}

// NormalizeIdentity canonicalises a wallet address or account identity.
func NormalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeToken canonicalises a payment token symbol.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
