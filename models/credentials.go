package models

// MappingValue is the answer to a single on-chain mapping lookup.
type MappingValue int

const (
	// MappingUnknown means the lookup itself failed.
	MappingUnknown MappingValue = iota
	// MappingAbsent means the key is not present in the mapping.
	MappingAbsent
	MappingFalse
	MappingTrue
)

// Names of the credential program's mappings.
const (
	MappingIssued          = "issued"
	MappingRevoked         = "revoked"
	MappingApprovedIssuers = "approved_issuers"
)

func (v MappingValue) IsTrue() bool {
	return v == MappingTrue
}

func (v MappingValue) String() string {
	switch v {
	case MappingAbsent:
		return "absent"
	case MappingFalse:
		return "false"
	case MappingTrue:
		return "true"
	default:
		return "unknown"
	}
}

type JournalEventType int

const (
	CredentialIssued JournalEventType = iota
	CredentialRevoked
	IssuerAdded
	IssuerRemoved
	TierProved
	TraderRegistered
	TraderRevoked
)

func (t JournalEventType) String() string {
	switch t {
	case CredentialIssued:
		return "credential_issued"
	case CredentialRevoked:
		return "credential_revoked"
	case IssuerAdded:
		return "issuer_added"
	case IssuerRemoved:
		return "issuer_removed"
	case TierProved:
		return "tier_proved"
	case TraderRegistered:
		return "trader_registered"
	case TraderRevoked:
		return "trader_revoked"
	default:
		return "unknown"
	}
}

// JournalEvent is one entry of the local audit journal. The ledgers remain
// the source of truth; the journal only records what this service submitted.
type JournalEvent struct {
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	TxID      string `json:"txId,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
