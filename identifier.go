package quotagate

import "fmt"

// anonymousID substitutes for an identifier the caller did not supply.
const anonymousID = "anonymous"

// ClientIdentifier carries the per-request attributes a rule can limit by.
// Values are taken as the caller supplies them; IP canonicalization is the
// middleware's responsibility.
type ClientIdentifier struct {
	UserID    string
	IPAddress string
	Endpoint  string
}

// Key derives the base storage key for this client under the given rule:
//
//	rate_limit:{domain}:{key_type}:{identifier}
//
// The field named by the rule's KeyType is used if present and non-empty;
// otherwise the literal "anonymous" is substituted. All strategies share
// this base and only append their well-known suffixes, so store contents
// can be audited uniformly.
func (c ClientIdentifier) Key(rule Rule) string {
	var id string
	switch rule.KeyType {
	case KeyByUserID:
		id = c.UserID
	case KeyByIPAddress:
		id = c.IPAddress
	case KeyByEndpoint:
		id = c.Endpoint
	}
	if id == "" {
		id = anonymousID
	}
	return fmt.Sprintf("rate_limit:%s:%s:%s", rule.Domain, rule.KeyType, id)
}
