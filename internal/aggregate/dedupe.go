package aggregate

import "github.com/justice-rest/Intel-sub005/internal/record"

// Dedupe collapses entities sharing a dedup key, keeping first-seen order.
// Merging is a union: scalar gaps fill from later records, officers merge
// by name with combined roles, addresses and contributing sources dedupe.
func Dedupe(entities []record.Entity) []record.Entity {
	if len(entities) < 2 {
		return markSources(entities)
	}

	index := make(map[string]int, len(entities))
	out := make([]record.Entity, 0, len(entities))
	for _, e := range entities {
		key := e.DedupKey()
		at, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, withSource(e))
			continue
		}
		out[at] = merge(out[at], e)
	}
	return out
}

func markSources(entities []record.Entity) []record.Entity {
	out := make([]record.Entity, len(entities))
	for i, e := range entities {
		out[i] = withSource(e)
	}
	return out
}

func withSource(e record.Entity) record.Entity {
	if e.Source != "" && !contains(e.Sources, e.Source) {
		e.Sources = append(e.Sources, e.Source)
	}
	return e
}

func merge(base, other record.Entity) record.Entity {
	if base.EntityNumber == "" {
		base.EntityNumber = other.EntityNumber
	}
	if base.Status == "" {
		base.Status = other.Status
	}
	if base.EntityType == "" {
		base.EntityType = other.EntityType
	}
	if base.Jurisdiction == "" {
		base.Jurisdiction = other.Jurisdiction
	}
	if base.RegistrationDate == "" {
		base.RegistrationDate = other.RegistrationDate
	}
	if base.DetailURL == "" {
		base.DetailURL = other.DetailURL
	}
	base.RegisteredAgent = mergeAgent(base.RegisteredAgent, other.RegisteredAgent)
	base.Officers = mergeOfficers(base.Officers, other.Officers)
	for _, addr := range other.Addresses {
		if !contains(base.Addresses, addr) {
			base.Addresses = append(base.Addresses, addr)
		}
	}
	if other.Source != "" && !contains(base.Sources, other.Source) {
		base.Sources = append(base.Sources, other.Source)
	}
	return base
}

func mergeAgent(base, other *record.RegisteredAgent) *record.RegisteredAgent {
	if base == nil {
		return other
	}
	if other == nil {
		return base
	}
	if base.Name == "" {
		base.Name = other.Name
	}
	if base.Address == "" {
		base.Address = other.Address
	}
	return base
}

// mergeOfficers unions by officer name; a matching name contributes any
// roles not already listed.
func mergeOfficers(base, other []record.Officer) []record.Officer {
	for _, officer := range other {
		merged := false
		for i := range base {
			if base[i].Name != officer.Name {
				continue
			}
			for _, role := range officer.Roles {
				if !contains(base[i].Roles, role) {
					base[i].Roles = append(base[i].Roles, role)
				}
			}
			merged = true
			break
		}
		if !merged {
			base = append(base, officer)
		}
	}
	return base
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
