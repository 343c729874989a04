package study

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Study statuses. Ingestion only ever writes the two new-* values; everything
// after that belongs to the reporting workflow and is never rolled back to
// new-* by a re-delivered notification.
const (
	StatusNewMetadataOnly  = "new-metadata-only"
	StatusNewStudyReceived = "new-study-received"
	StatusAssigned         = "assigned"
	StatusReporting        = "reporting"
	StatusReported         = "reported"
	StatusArchived         = "archived"
)

// IsIngestionStatus reports whether a status is one ingestion is allowed to
// overwrite.
func IsIngestionStatus(s string) bool {
	return s == StatusNewMetadataOnly || s == StatusNewStudyReceived
}

// IsWorkflowStatus reports whether a status is one of the downstream
// reporting-workflow values.
func IsWorkflowStatus(s string) bool {
	switch s {
	case StatusAssigned, StatusReporting, StatusReported, StatusArchived:
		return true
	}
	return false
}

// Study maps to the studies table. StudyUID is the DICOM StudyInstanceUID and
// the natural key; ArchiveID is the archive's own identifier for the same
// study. The patient and institution columns are denormalized snapshots of
// the tags seen at the latest ingestion.
type Study struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	StudyUID           string     `db:"study_uid" json:"study_uid"`
	ArchiveID          string     `db:"archive_id" json:"archive_id"`
	AccessionNumber    string     `db:"accession_number" json:"accession_number,omitempty"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	LabID              uuid.UUID  `db:"lab_id" json:"lab_id"`
	SeriesCount        int        `db:"series_count" json:"series_count"`
	InstanceCount      int        `db:"instance_count" json:"instance_count"`
	Modalities         []string   `db:"modalities" json:"modalities"`
	Status             string     `db:"status" json:"status"`
	StudyDescription   string     `db:"study_description" json:"study_description,omitempty"`
	StudyDate          *time.Time `db:"study_date" json:"study_date,omitempty"`
	ReferringPhysician string     `db:"referring_physician" json:"referring_physician,omitempty"`
	InstitutionName    string     `db:"institution_name" json:"institution_name,omitempty"`
	StationName        string     `db:"station_name" json:"station_name,omitempty"`
	Manufacturer       string     `db:"manufacturer" json:"manufacturer,omitempty"`
	PatientName        string     `db:"patient_name" json:"patient_name,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusHistory is one row of the append-only audit trail. FromStatus is nil
// on the row written when the study is first created.
type StatusHistory struct {
	ID         uuid.UUID `db:"id" json:"id"`
	StudyID    uuid.UUID `db:"study_id" json:"study_id"`
	FromStatus *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// UnionModalities merges two modality lists into a sorted, deduplicated set.
// Blank entries are dropped.
func UnionModalities(a, b []string) []string {
	seen := make(map[string]struct{})
	for _, list := range [][]string{a, b} {
		for _, m := range list {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ParseDicomDate parses the archive's yyyymmdd date form, returning nil for
// anything malformed.
func ParseDicomDate(raw string) *time.Time {
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
