package redirect

// Type is the response a rule produces when it matches.
type Type int

const (
	Permanent       Type = 301
	Temporary       Type = 302
	TemporaryStrict Type = 307
	Gone            Type = 410
	LegalRemoval    Type = 451
)

// Types lists every supported type in display order.
var Types = []Type{Permanent, Temporary, TemporaryStrict, Gone, LegalRemoval}

func (t Type) Valid() bool {
	switch t {
	case Permanent, Temporary, TemporaryStrict, Gone, LegalRemoval:
		return true
	}
	return false
}

// Terminal reports whether the type ends the request without a Location.
func (t Type) Terminal() bool {
	switch t {
	case Gone, LegalRemoval:
		return true
	case Permanent, Temporary, TemporaryStrict:
		return false
	}
	return false
}

func (t Type) NeedsDestination() bool {
	return !t.Terminal()
}

func (t Type) Label() string {
	switch t {
	case Permanent:
		return "Moved Permanently"
	case Temporary:
		return "Found (Temporary)"
	case TemporaryStrict:
		return "Temporary Redirect"
	case Gone:
		return "Content Deleted"
	case LegalRemoval:
		return "Unavailable For Legal Reasons"
	}
	return "Unknown"
}

// orDefault coerces unknown codes to Permanent.
func (t Type) orDefault() Type {
	if !t.Valid() {
		return Permanent
	}
	return t
}

type Rule struct {
	ID           int64  `json:"id"`
	Source       string `json:"source"`
	Destination  string `json:"destination"`
	Type         Type   `json:"type"`
	Regex        bool   `json:"regex"`
	Hits         int64  `json:"hits"`
	LastAccessed Date   `json:"last_accessed"`
	Created      Date   `json:"created"`
}

// RuleInput holds the user-editable fields of a rule.
type RuleInput struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Type        Type   `json:"type"`
	Regex       bool   `json:"regex"`
}

type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}
