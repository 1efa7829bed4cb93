package record

import "strings"

// Entity is the canonical business-entity record merged from heterogeneous
// source-specific shapes.
type Entity struct {
	Name             string           `json:"name"`
	EntityNumber     string           `json:"entity_number,omitempty"`
	Status           string           `json:"status,omitempty"`
	EntityType       string           `json:"entity_type,omitempty"`
	Jurisdiction     string           `json:"jurisdiction,omitempty"`
	RegistrationDate string           `json:"registration_date,omitempty"`
	RegisteredAgent  *RegisteredAgent `json:"registered_agent,omitempty"`
	Officers         []Officer        `json:"officers,omitempty"`
	Addresses        []string         `json:"addresses,omitempty"`
	DetailURL        string           `json:"detail_url,omitempty"`
	Source           string           `json:"source"`
	// Sources lists every source that contributed after cross-source merging.
	Sources []string `json:"sources,omitempty"`
}

// Officer is a named officer/principal with the roles a source reported.
type Officer struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// RegisteredAgent is the agent of record for an entity.
type RegisteredAgent struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// NormalizedName lowercases and collapses whitespace for dedup keys.
func (e Entity) NormalizedName() string {
	return strings.Join(strings.Fields(strings.ToLower(e.Name)), " ")
}

// DedupKey composes the normalized name with the entity number when one is
// available. Two records agreeing on both are treated as the same entity.
func (e Entity) DedupKey() string {
	return e.NormalizedName() + "|" + strings.ToLower(strings.TrimSpace(e.EntityNumber))
}
