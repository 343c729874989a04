package lab

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known labs. The default lab absorbs studies that match nothing; the
// emergency lab exists so ingestion can finish even when the database refuses
// writes.
const (
	DefaultIdentifier   = "DEFAULT_LAB"
	DefaultName         = "Default Lab"
	EmergencyIdentifier = "EMERGENCY_LAB"
	EmergencyName       = "Emergency Lab"
)

// Lab maps to the labs table. A lab is the imaging facility a study is billed
// and reported under.
type Lab struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Identifier string    `db:"identifier" json:"identifier"`
	Active     bool      `db:"active" json:"active"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CanonicalIdentifier normalizes free text into the form identifiers are
// stored under: uppercase with every whitespace run replaced by one
// underscore. "Main Street  Imaging" and "main street imaging" canonicalize
// identically, which is what lets scanner-entered institution names round-trip
// to the same lab.
func CanonicalIdentifier(raw string) string {
	return whitespaceRun.ReplaceAllString(strings.ToUpper(raw), "_")
}
