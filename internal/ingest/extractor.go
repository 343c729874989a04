package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radgate/radgate/internal/domain/patient"
	"github.com/radgate/radgate/internal/domain/study"
	"github.com/radgate/radgate/internal/platform/orthanc"
)

// ModalityUnknown is the sentinel modality when no source tag carries one.
const ModalityUnknown = "UNKNOWN"

// Discovery methods, recorded on every extraction for observability.
const (
	MethodStudyInstances = "study-instances"
	MethodSeriesWalk     = "series-walk"
	MethodSeriesProbe    = "series-probe"
	MethodNone           = "none"
)

// ArchiveClient is the slice of the archive API the extractor needs.
type ArchiveClient interface {
	Study(ctx context.Context, id string) (*orthanc.StudyDetails, error)
	StudyInstances(ctx context.Context, id string) ([]orthanc.Instance, error)
	Series(ctx context.Context, id string) (*orthanc.SeriesDetails, error)
	InstanceTags(ctx context.Context, id string) (map[string]string, error)
}

// Extraction is the metadata record assembled for one study.
type Extraction struct {
	Tags             map[string]string
	SeriesCount      int
	InstanceCount    int
	Modalities       []string
	Method           string
	UsedPlaceholders bool
}

// Extractor assembles a study's tag set from the archive, trying cheaper
// sources first and degrading instead of failing. The archive's instance
// visibility is unreliable in practice, so a partial record with placeholder
// fields beats no record at all.
type Extractor struct {
	archive ArchiveClient
	logger  zerolog.Logger
}

func NewExtractor(archive ArchiveClient, logger zerolog.Logger) *Extractor {
	return &Extractor{archive: archive, logger: logger}
}

// Extract runs the fallback chain for one external study id. Only the initial
// study summary fetch is fatal; every later step logs and moves on.
func (e *Extractor) Extract(ctx context.Context, externalID string) (*Extraction, error) {
	details, err := e.archive.Study(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("fetch study %s: %w", externalID, err)
	}

	tags := make(map[string]string)
	mergeMissing(tags, details.MainDicomTags)
	mergeMissing(tags, details.PatientMainDicomTags)

	var raw []string
	raw = appendModalities(raw, tags["ModalitiesInStudy"])
	raw = appendModalities(raw, tags["Modality"])

	seriesCount := len(details.Series)
	method := MethodNone

	// Direct listing is the cheap path; a listing error downgrades to the
	// series walk rather than failing the job.
	var instanceIDs []string
	instances, err := e.archive.StudyInstances(ctx, externalID)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("study", externalID).
			Msg("listing study instances failed, walking series instead")
	}
	for _, in := range instances {
		instanceIDs = append(instanceIDs, in.ID)
	}
	if len(instanceIDs) > 0 {
		method = MethodStudyInstances
	}

	if len(instanceIDs) == 0 && seriesCount > 0 {
		for _, sid := range details.Series {
			s, err := e.archive.Series(ctx, sid)
			if err != nil {
				e.logger.Warn().Err(err).
					Str("study", externalID).
					Str("series", sid).
					Msg("skipping unreadable series")
				continue
			}
			mergeMissing(tags, s.MainDicomTags)
			raw = appendModalities(raw, s.MainDicomTags["Modality"])
			instanceIDs = append(instanceIDs, s.Instances...)
		}
		if len(instanceIDs) > 0 {
			method = MethodSeriesWalk
		}
	}

	// Some archive configurations alias series and instance ids for
	// single-instance series, so a failed probe is the expected case.
	if len(instanceIDs) == 0 && seriesCount > 0 {
		for _, sid := range details.Series {
			t, err := e.archive.InstanceTags(ctx, sid)
			if err != nil {
				e.logger.Debug().
					Str("study", externalID).
					Str("series", sid).
					Msg("series id does not answer as an instance")
				continue
			}
			mergeMissing(tags, t)
			raw = appendModalities(raw, t["Modality"])
			instanceIDs = append(instanceIDs, sid)
		}
		if len(instanceIDs) > 0 {
			method = MethodSeriesProbe
		}
	}

	// Instance-level tags take precedence over whatever the study and series
	// summaries carried.
	if len(instanceIDs) > 0 {
		t, err := e.archive.InstanceTags(ctx, instanceIDs[0])
		if err != nil {
			e.logger.Warn().Err(err).
				Str("study", externalID).
				Str("instance", instanceIDs[0]).
				Msg("first instance tags unavailable")
		} else {
			mergeOverwrite(tags, t)
			raw = appendModalities(raw, t["Modality"])
		}
	}

	usedPlaceholders := e.fillIdentifyingTags(tags, details)

	mods := study.UnionModalities(raw, nil)
	if len(mods) == 0 {
		mods = []string{ModalityUnknown}
	}

	ext := &Extraction{
		Tags:             tags,
		SeriesCount:      seriesCount,
		InstanceCount:    len(instanceIDs),
		Modalities:       mods,
		Method:           method,
		UsedPlaceholders: usedPlaceholders,
	}
	e.logger.Info().
		Str("study", externalID).
		Str("method", method).
		Int("series", ext.SeriesCount).
		Int("instances", ext.InstanceCount).
		Strs("modalities", mods).
		Bool("placeholders", usedPlaceholders).
		Msg("extracted study metadata")
	return ext, nil
}

// fillIdentifyingTags backfills the minimum identifying fields from the study
// summary and, failing that, synthesizes placeholders. The placeholder
// patient id carries patient.UnidentifiedIDPrefix so the resolver collapses
// it onto the anonymous sentinel.
func (e *Extractor) fillIdentifyingTags(tags map[string]string, details *orthanc.StudyDetails) bool {
	used := false
	for _, f := range []struct {
		key        string
		synthesize func() string
	}{
		{"PatientID", func() string { return patient.UnidentifiedIDPrefix + uuid.New().String()[:8] }},
		{"PatientName", func() string { return "Unknown" }},
		{"StudyDescription", func() string { return "Unknown" }},
		{"StudyDate", func() string { return time.Now().Format("20060102") }},
	} {
		if strings.TrimSpace(tags[f.key]) != "" {
			continue
		}
		if v := strings.TrimSpace(details.MainDicomTags[f.key]); v != "" {
			tags[f.key] = v
			continue
		}
		if v := strings.TrimSpace(details.PatientMainDicomTags[f.key]); v != "" {
			tags[f.key] = v
			continue
		}
		tags[f.key] = f.synthesize()
		used = true
		e.logger.Warn().
			Str("tag", f.key).
			Str("value", tags[f.key]).
			Msg("synthesized placeholder tag")
	}
	return used
}

// mergeMissing copies non-empty values from src for keys dst lacks.
func mergeMissing(dst, src map[string]string) {
	for k, v := range src {
		if v == "" {
			continue
		}
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

// mergeOverwrite copies every non-empty value from src, replacing existing
// entries.
func mergeOverwrite(dst, src map[string]string) {
	for k, v := range src {
		if v != "" {
			dst[k] = v
		}
	}
}

// appendModalities splits a possibly backslash-delimited modality value and
// appends its non-blank parts.
func appendModalities(dst []string, value string) []string {
	for _, m := range strings.Split(value, `\`) {
		if m = strings.TrimSpace(m); m != "" {
			dst = append(dst, m)
		}
	}
	return dst
}
