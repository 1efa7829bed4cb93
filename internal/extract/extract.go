// Package extract evaluates declarative selector strategies against parsed
// HTML. It is the single extraction port shared by the HTTP and browser
// tiers, so a source's selector tree behaves identically regardless of how
// the page was fetched.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Parse builds a document from raw HTML.
func Parse(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Value evaluates an extractor relative to sel: the primary selector first,
// then each fallback in order, taking the first non-empty result. The regex,
// when present, must capture; group 1 wins if it exists, else the whole
// match. Transforms apply last.
func Value(sel *goquery.Selection, ex record.Extractor) string {
	raw := rawValue(sel, ex)
	if raw == "" {
		for _, fb := range ex.Fallbacks {
			if raw = Value(sel, fb); raw != "" {
				return raw
			}
		}
		return ""
	}
	if ex.Regex != "" {
		re, err := regexp.Compile(ex.Regex)
		if err != nil {
			return ""
		}
		m := re.FindStringSubmatch(raw)
		switch {
		case m == nil:
			raw = ""
		case len(m) > 1:
			raw = m[1]
		default:
			raw = m[0]
		}
	}
	return Transform(raw, ex.Transform)
}

func rawValue(sel *goquery.Selection, ex record.Extractor) string {
	if ex.Selector == "" {
		return ""
	}
	found := sel.Find(ex.Selector).First()
	if found.Length() == 0 {
		return ""
	}
	if ex.Attribute != "" {
		v, _ := found.Attr(ex.Attribute)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(found.Text())
}

// Rows selects the repeated result rows, falling back through the
// extractor's alternatives until one matches.
func Rows(doc *goquery.Document, ex record.Extractor) *goquery.Selection {
	if ex.Selector != "" {
		if rows := doc.Find(ex.Selector); rows.Length() > 0 {
			return rows
		}
	}
	for _, fb := range ex.Fallbacks {
		if rows := Rows(doc, fb); rows.Length() > 0 {
			return rows
		}
	}
	return doc.Find(ex.Selector) // empty selection
}

// Transform applies a named text transform. Unknown names pass through.
func Transform(v, name string) string {
	switch name {
	case "", "none":
		return v
	case "trim":
		return strings.TrimSpace(v)
	case "lower":
		return strings.ToLower(v)
	case "upper":
		return strings.ToUpper(v)
	case "collapse_ws":
		return strings.Join(strings.Fields(v), " ")
	case "digits":
		var b strings.Builder
		for _, r := range v {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	default:
		return v
	}
}

// Entities maps every row the config matches to a canonical entity.
// Rows producing an empty name are skipped.
func Entities(doc *goquery.Document, cfg record.RowConfig, sourceID, baseURL string) []record.Entity {
	var out []record.Entity
	Rows(doc, cfg.Row).Each(func(_ int, row *goquery.Selection) {
		e := record.Entity{Source: sourceID}
		for field, ex := range cfg.Fields {
			v := Value(row, ex)
			if v == "" {
				continue
			}
			assignField(&e, field, v, baseURL)
		}
		if e.Name != "" {
			out = append(out, e)
		}
	})
	return out
}

// TotalFound extracts the source-reported hit count, defaulting to the row
// count when the config has no total extractor or it fails to parse.
func TotalFound(doc *goquery.Document, cfg record.RowConfig, rowCount int) int {
	if cfg.TotalFound == nil {
		return rowCount
	}
	v := Value(doc.Selection, *cfg.TotalFound)
	n, err := strconv.Atoi(Transform(v, "digits"))
	if err != nil || n < rowCount {
		return rowCount
	}
	return n
}

// Detail applies a detail-page config to an entity. Scalar fields only fill
// gaps the search row left; officers and addresses are appended.
func Detail(doc *goquery.Document, cfg record.DetailConfig, e *record.Entity, baseURL string) {
	for field, ex := range cfg.Fields {
		v := Value(doc.Selection, ex)
		if v == "" {
			continue
		}
		assignDetailField(e, field, v, baseURL)
	}
	if cfg.OfficerRows == nil {
		return
	}
	Rows(doc, *cfg.OfficerRows).Each(func(_ int, row *goquery.Selection) {
		name := Value(row, cfg.OfficerName)
		if name == "" {
			return
		}
		officer := record.Officer{Name: name}
		if role := Value(row, cfg.OfficerRole); role != "" {
			officer.Roles = append(officer.Roles, role)
		}
		e.Officers = append(e.Officers, officer)
	})
}

func assignDetailField(e *record.Entity, field, v, baseURL string) {
	switch field {
	case "name":
		if e.Name == "" {
			e.Name = v
		}
	case "entity_number":
		if e.EntityNumber == "" {
			e.EntityNumber = v
		}
	case "status":
		if e.Status == "" {
			e.Status = v
		}
	case "entity_type":
		if e.EntityType == "" {
			e.EntityType = v
		}
	case "jurisdiction":
		if e.Jurisdiction == "" {
			e.Jurisdiction = v
		}
	case "registration_date":
		if e.RegistrationDate == "" {
			e.RegistrationDate = v
		}
	case "agent_name":
		if e.RegisteredAgent == nil {
			e.RegisteredAgent = &record.RegisteredAgent{}
		}
		if e.RegisteredAgent.Name == "" {
			e.RegisteredAgent.Name = v
		}
	case "agent_address":
		if e.RegisteredAgent == nil {
			e.RegisteredAgent = &record.RegisteredAgent{}
		}
		if e.RegisteredAgent.Address == "" {
			e.RegisteredAgent.Address = v
		}
	case "address":
		for _, existing := range e.Addresses {
			if existing == v {
				return
			}
		}
		e.Addresses = append(e.Addresses, v)
	case "detail_url":
		if e.DetailURL == "" {
			e.DetailURL = resolveURL(baseURL, v)
		}
	}
}

func assignField(e *record.Entity, field, v, baseURL string) {
	switch field {
	case "name":
		e.Name = v
	case "entity_number":
		e.EntityNumber = v
	case "status":
		e.Status = v
	case "entity_type":
		e.EntityType = v
	case "jurisdiction":
		e.Jurisdiction = v
	case "registration_date":
		e.RegistrationDate = v
	case "agent_name":
		if e.RegisteredAgent == nil {
			e.RegisteredAgent = &record.RegisteredAgent{}
		}
		e.RegisteredAgent.Name = v
	case "agent_address":
		if e.RegisteredAgent == nil {
			e.RegisteredAgent = &record.RegisteredAgent{}
		}
		e.RegisteredAgent.Address = v
	case "address":
		e.Addresses = append(e.Addresses, v)
	case "detail_url":
		e.DetailURL = resolveURL(baseURL, v)
	}
}

func resolveURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return base + href
}
