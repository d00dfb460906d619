package model

// KeyKind identifies which normalized field produced a ClusterKey.
// The declaration order is the citation priority: when a cluster was
// joined through several different key kinds, the kind with the lowest
// value is reported as the merge reason.
type KeyKind int

const (
	KeyEmail KeyKind = iota
	KeyPhone
	KeyUID
	KeyNameOrg
	KeyAddress
	KeyPhotoHash
)

func (k KeyKind) String() string {
	switch k {
	case KeyEmail:
		return "email"
	case KeyPhone:
		return "phone"
	case KeyUID:
		return "uid"
	case KeyNameOrg:
		return "name-org"
	case KeyAddress:
		return "address"
	case KeyPhotoHash:
		return "photo-hash"
	}
	return "unknown"
}

// ClusterKey is a (kind, normalized value) blocking key. Contacts that
// share any key end up in the same cluster.
type ClusterKey struct {
	Kind  KeyKind
	Value string
}

// Conflict records a single-valued field that disagreed inside a
// cluster. The discarded value is surfaced as X-ORIGINAL-<Field> on the
// merged contact, never silently dropped.
type Conflict struct {
	Field     string `json:"field"`
	Discarded string `json:"discarded"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
}

// MergeDecision describes how one cluster collapsed into one contact.
type MergeDecision struct {
	BaseID    string     `json:"base_id"`
	Absorbed  []string   `json:"absorbed,omitempty"`
	Reason    ClusterKey `json:"-"`
	ReasonStr string     `json:"reason"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}
