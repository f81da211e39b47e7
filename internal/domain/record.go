// Package domain holds the per-domain result model: one record per crawled
// website with nested per-provider sub-records, the attack variant taxonomy,
// and the classification predicates that decide which domains are worth
// attacking and which attacks already ran.
//
// Records are created by the crawler with the discovery fields populated;
// the check-login pass fills authorization_url, oauth_flow,
// authorization_error and marker; attack runs fill their own per-variant
// outcome fields. Records are amended, never deleted: every filtered view
// is computed on read.
package domain

import (
	"encoding/json"
	"strings"

	"github.com/xkilldash9x/statehound/internal/idp"
)

// Record is one persisted document per crawled domain.
type Record struct {
	Domain   string         `json:"domain"`
	LoginURL string         `json:"login,omitempty"`
	IdPs     []ProviderInfo `json:"idps"`
}

// IdP returns the sub-record for the given provider. Lookup by provider
// name is unique per record; duplicates are a crawler bug and the first
// entry wins.
func (r *Record) IdP(p idp.Provider) (*ProviderInfo, bool) {
	for i := range r.IdPs {
		if r.IdPs[i].Name == p {
			return &r.IdPs[i], true
		}
	}
	return nil, false
}

// Outcome is the tri-state result of one attack variant run. A nil
// Vulnerable means the variant never ran, or aborted before DetectOutcome.
type Outcome struct {
	Vulnerable            *bool
	AuthorizationResponse string
}

// ProviderInfo is the unit the classifier and orchestrator mutate: the
// state of one identity provider on one domain.
type ProviderInfo struct {
	Name idp.Provider

	// Login discovery, written once during the crawl. Exactly one mode
	// applies, resolved in order: internal redirect page, button click,
	// direct link scan of the login page.
	Internal string
	Button   string
	Direct   bool

	// RegistrationError marks domains where the crawl found no login path
	// at all; they are excluded from every base-scoped view.
	RegistrationError bool

	// Populated by the check-login pass.
	AuthorizationURL   string
	OAuthFlow          string
	AuthorizationError string
	Marker             string
	MarkerURL          string

	// State/NewState record the original and mutated state values of the
	// most recent random-state run.
	State    string
	NewState string

	// Outcomes replaces the dynamically named vulnerable_<id> /
	// authorization_response_<id> document fields with a typed mapping.
	Outcomes map[Variant]Outcome
}

// Outcome returns the recorded outcome for the variant, if any run ever
// started it.
func (p *ProviderInfo) Outcome(v Variant) (Outcome, bool) {
	o, ok := p.Outcomes[v]
	return o, ok
}

// SetVulnerable records the variant's tri-state result. Passing nil clears
// a stale result, which every run must do before it starts so an aborted
// rerun cannot be misread as a completed one.
func (p *ProviderInfo) SetVulnerable(v Variant, vulnerable *bool) {
	o := p.Outcomes[v]
	o.Vulnerable = vulnerable
	p.setOutcome(v, o)
}

// SetAuthorizationResponse stores the captured authorization response used
// as the attack payload source for the variant.
func (p *ProviderInfo) SetAuthorizationResponse(v Variant, response string) {
	o := p.Outcomes[v]
	o.AuthorizationResponse = response
	p.setOutcome(v, o)
}

// RecordAuthorizationResponse stores the response URL for a variant.
// With overwrite false an existing non-empty value is kept, so the first
// captured response wins.
func (p *ProviderInfo) RecordAuthorizationResponse(v Variant, response string, overwrite bool) {
	if !overwrite && p.Outcomes[v].AuthorizationResponse != "" {
		return
	}
	p.SetAuthorizationResponse(v, response)
}

func (p *ProviderInfo) setOutcome(v Variant, o Outcome) {
	if p.Outcomes == nil {
		p.Outcomes = make(map[Variant]Outcome)
	}
	p.Outcomes[v] = o
}

// Pending reports whether the variant still needs a run: never started, or
// started and aborted before reaching a terminal state.
func (p *ProviderInfo) Pending(v Variant) bool {
	o, ok := p.Outcomes[v]
	return !ok || o.Vulnerable == nil
}

// VulnerableTo reports a completed run that confirmed the vulnerability.
func (p *ProviderInfo) VulnerableTo(v Variant) bool {
	o, ok := p.Outcomes[v]
	return ok && o.Vulnerable != nil && *o.Vulnerable
}

// providerInfoDoc mirrors the flat document shape produced by the crawler.
// Per-variant fields are dynamic keys handled separately.
type providerInfoDoc struct {
	Name               idp.Provider `json:"name"`
	Internal           string       `json:"internal,omitempty"`
	Button             string       `json:"button,omitempty"`
	Direct             bool         `json:"direct,omitempty"`
	RegistrationError  bool         `json:"registration_error"`
	AuthorizationURL   string       `json:"authorization_url,omitempty"`
	OAuthFlow          string       `json:"oauth_flow,omitempty"`
	AuthorizationError string       `json:"authorization_error,omitempty"`
	Marker             string       `json:"marker,omitempty"`
	MarkerURL          string       `json:"marker_url,omitempty"`
	State              string       `json:"state,omitempty"`
	NewState           string       `json:"new_state,omitempty"`
}

const (
	vulnerableKeyPrefix = "vulnerable_"
	responseKeyPrefix   = "authorization_response_"
)

// MarshalJSON emits the flat document shape: fixed fields plus one
// vulnerable_<id> (possibly null -- null is data, it marks an in-flight or
// aborted run) and one authorization_response_<id> per recorded variant.
func (p ProviderInfo) MarshalJSON() ([]byte, error) {
	fixed, err := json.Marshal(providerInfoDoc{
		Name:               p.Name,
		Internal:           p.Internal,
		Button:             p.Button,
		Direct:             p.Direct,
		RegistrationError:  p.RegistrationError,
		AuthorizationURL:   p.AuthorizationURL,
		OAuthFlow:          p.OAuthFlow,
		AuthorizationError: p.AuthorizationError,
		Marker:             p.Marker,
		MarkerURL:          p.MarkerURL,
		State:              p.State,
		NewState:           p.NewState,
	})
	if err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(fixed, &doc); err != nil {
		return nil, err
	}
	for v, o := range p.Outcomes {
		vulnerable, err := json.Marshal(o.Vulnerable)
		if err != nil {
			return nil, err
		}
		doc[vulnerableKeyPrefix+v.String()] = vulnerable
		if o.AuthorizationResponse != "" {
			response, err := json.Marshal(o.AuthorizationResponse)
			if err != nil {
				return nil, err
			}
			doc[responseKeyPrefix+v.String()] = response
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the flat document shape back, collecting the dynamic
// per-variant keys into Outcomes. Keys with ids outside the variant grammar
// are ignored rather than guessed at.
func (p *ProviderInfo) UnmarshalJSON(data []byte) error {
	var fixed providerInfoDoc
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}
	*p = ProviderInfo{
		Name:               fixed.Name,
		Internal:           fixed.Internal,
		Button:             fixed.Button,
		Direct:             fixed.Direct,
		RegistrationError:  fixed.RegistrationError,
		AuthorizationURL:   fixed.AuthorizationURL,
		OAuthFlow:          fixed.OAuthFlow,
		AuthorizationError: fixed.AuthorizationError,
		Marker:             fixed.Marker,
		MarkerURL:          fixed.MarkerURL,
		State:              fixed.State,
		NewState:           fixed.NewState,
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for key, raw := range doc {
		switch {
		case strings.HasPrefix(key, responseKeyPrefix):
			v, err := ParseVariant(strings.TrimPrefix(key, responseKeyPrefix))
			if err != nil {
				continue
			}
			var response string
			if err := json.Unmarshal(raw, &response); err != nil {
				return err
			}
			p.SetAuthorizationResponse(v, response)
		case strings.HasPrefix(key, vulnerableKeyPrefix):
			v, err := ParseVariant(strings.TrimPrefix(key, vulnerableKeyPrefix))
			if err != nil {
				continue
			}
			var vulnerable *bool
			if err := json.Unmarshal(raw, &vulnerable); err != nil {
				return err
			}
			p.SetVulnerable(v, vulnerable)
		}
	}
	return nil
}

// FindMarker is the vulnerability oracle: a case-insensitive substring scan
// of the page text against an ordered candidate list, returning the first
// matching candidate as it appears in the list, not as it appears on the
// page. A marker belonging to an identity the current session should not
// hold is what "vulnerable" means operationally.
func FindMarker(pageSource string, markers []string) string {
	text := strings.ToLower(pageSource)
	for _, marker := range markers {
		if marker != "" && strings.Contains(text, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}
