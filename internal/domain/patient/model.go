package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnonymousDisplayName is what an empty or all-caret person name renders as.
const AnonymousDisplayName = "Anonymous Patient"

// UnidentifiedIDPrefix marks external ids synthesized for studies whose
// archive metadata carried no patient identity. Resolve collapses such ids
// onto the anonymous sentinel instead of minting one patient per study.
const UnidentifiedIDPrefix = "UNKNOWN-"

// Patient maps to the patients table. ExternalID is the archive's PatientID
// tag; notifications that carry none collapse onto a single shared row with
// Anonymous set.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ExternalID  *string    `db:"external_id" json:"external_id,omitempty"`
	DisplayName string     `db:"display_name" json:"display_name"`
	FirstName   string     `db:"first_name" json:"first_name,omitempty"`
	LastName    string     `db:"last_name" json:"last_name,omitempty"`
	Sex         *string    `db:"sex" json:"sex,omitempty"`
	BirthDate   *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Anonymous   bool       `db:"anonymous" json:"anonymous"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ParsedName holds the five components of a DICOM person name
// (family^given^middle^prefix^suffix).
type ParsedName struct {
	Family string
	Given  string
	Middle string
	Prefix string
	Suffix string
}

// ParseName splits a raw person-name value on the caret delimiter. Components
// beyond the fifth stay attached to the suffix, so a malformed over-long value
// keeps its carets visible in the display string.
func ParseName(raw string) ParsedName {
	parts := strings.SplitN(raw, "^", 5)
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	return ParsedName{
		Family: strings.TrimSpace(parts[0]),
		Given:  strings.TrimSpace(parts[1]),
		Middle: strings.TrimSpace(parts[2]),
		Prefix: strings.TrimSpace(parts[3]),
		Suffix: strings.TrimSpace(parts[4]),
	}
}

// Display renders the name for humans: prefix, given, middle, family, suffix
// joined by single spaces. An entirely empty name renders as
// AnonymousDisplayName.
func (n ParsedName) Display() string {
	var parts []string
	for _, p := range []string{n.Prefix, n.Given, n.Middle, n.Family, n.Suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return AnonymousDisplayName
	}
	return strings.Join(parts, " ")
}

// ParseBirthDate parses the archive's yyyymmdd date form. Malformed or empty
// values yield nil rather than an error; a bad birth date never blocks
// ingestion.
func ParseBirthDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return nil
	}
	return &t
}
