package domain

// Decision is the outcome of evaluating a host against a DomainSet the way
// the fast PAC script does.
type Decision struct {
	Host          string `json:"host"`
	Proxied       bool   `json:"proxied"`
	MatchedDomain string `json:"matched_domain,omitempty"`
}

// DirectDecision returns a not-proxied decision for host.
func DirectDecision(host string) Decision { return Decision{Host: host} }
