package record

// Extractor is a declarative selector strategy: try the primary selector,
// then each fallback in order; optionally read an attribute instead of text,
// post-filter through a regex capture, and apply a named transform.
type Extractor struct {
	Selector  string      `json:"selector" mapstructure:"selector"`
	Attribute string      `json:"attribute,omitempty" mapstructure:"attribute"`
	Regex     string      `json:"regex,omitempty" mapstructure:"regex"`
	Transform string      `json:"transform,omitempty" mapstructure:"transform"`
	Fallbacks []Extractor `json:"fallbacks,omitempty" mapstructure:"fallbacks"`
}

// RowConfig locates result rows in an HTML document and maps canonical
// entity fields to extractors evaluated relative to each row.
type RowConfig struct {
	Row    Extractor            `json:"row" mapstructure:"row"`
	Fields map[string]Extractor `json:"fields" mapstructure:"fields"`
	// WaitSelector, when set, must appear before the browser tier reads
	// the page.
	WaitSelector string `json:"wait_selector,omitempty" mapstructure:"wait_selector"`
	// TotalFound optionally extracts the source-reported hit count.
	TotalFound *Extractor `json:"total_found,omitempty" mapstructure:"total_found"`
}

// FormConfig describes the search form a browser-driven source submits.
type FormConfig struct {
	// QueryInput is the CSS selector of the search text input.
	QueryInput string `json:"query_input" mapstructure:"query_input"`
	// Submit is the CSS selector of the submit control. Empty means press
	// Enter in the query input.
	Submit string `json:"submit,omitempty" mapstructure:"submit"`
	// Presets are select/checkbox values set before submitting, keyed by
	// CSS selector.
	Presets map[string]string `json:"presets,omitempty" mapstructure:"presets"`
}

// DetailConfig extracts nested data from a per-entity detail page.
type DetailConfig struct {
	Fields map[string]Extractor `json:"fields" mapstructure:"fields"`
	// OfficerRows locates repeated officer rows on the detail page.
	OfficerRows *Extractor `json:"officer_rows,omitempty" mapstructure:"officer_rows"`
	OfficerName Extractor  `json:"officer_name,omitempty" mapstructure:"officer_name"`
	OfficerRole Extractor  `json:"officer_role,omitempty" mapstructure:"officer_role"`
}

// APIMapping describes a tier-1 structured endpoint: how to build the query
// and how to map the response shape onto canonical entity fields.
type APIMapping struct {
	// SearchParam is the query-string parameter carrying the search term.
	SearchParam string `json:"search_param" mapstructure:"search_param"`
	// LimitParam optionally carries the result limit.
	LimitParam string `json:"limit_param,omitempty" mapstructure:"limit_param"`
	// ExtraParams are appended verbatim (API keys, $where clauses, ...).
	ExtraParams map[string]string `json:"extra_params,omitempty" mapstructure:"extra_params"`
	// ResultsPath names the key holding the result array when the response
	// is an object; empty means the response body is the array itself.
	ResultsPath string `json:"results_path,omitempty" mapstructure:"results_path"`
	// TotalPath optionally names the key holding the total hit count.
	TotalPath string `json:"total_path,omitempty" mapstructure:"total_path"`
	// Fields maps canonical entity fields (name, entity_number, status,
	// entity_type, registration_date, agent_name, agent_address,
	// detail_url) to source field names, with dots for one nesting level.
	Fields map[string]string `json:"fields" mapstructure:"fields"`
}
