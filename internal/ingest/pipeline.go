package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/radgate/radgate/internal/domain/lab"
	"github.com/radgate/radgate/internal/domain/patient"
	"github.com/radgate/radgate/internal/domain/study"
	"github.com/radgate/radgate/internal/platform/websocket"
)

// PatientResolver maps a tag set to a stored patient.
type PatientResolver interface {
	Resolve(ctx context.Context, tags map[string]string) (*patient.Patient, error)
}

// LabResolver maps a tag set to a stored lab. It never fails; the lab service
// degrades through its fallback tiers instead.
type LabResolver interface {
	Resolve(ctx context.Context, tags map[string]string) *lab.Lab
}

// StudyUpserter persists one extraction as a study aggregate.
type StudyUpserter interface {
	Upsert(ctx context.Context, in study.UpsertInput) (*study.Study, bool, error)
}

// Pipeline runs one notification end to end: extract metadata, resolve the
// patient and lab, upsert the study, announce the result. It implements
// Runner, so the queue drives it directly.
type Pipeline struct {
	extractor *Extractor
	patients  PatientResolver
	labs      LabResolver
	studies   StudyUpserter
	notifier  websocket.EventPublisher
	logger    zerolog.Logger
}

func NewPipeline(extractor *Extractor, patients PatientResolver, labs LabResolver, studies StudyUpserter, notifier websocket.EventPublisher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		patients:  patients,
		labs:      labs,
		studies:   studies,
		notifier:  notifier,
		logger:    logger,
	}
}

// Run processes one job payload. Progress moves through fixed checkpoints:
// 50 after extraction, 70 after entity resolution, 90 after the upsert.
func (p *Pipeline) Run(ctx context.Context, pl Payload, progress func(int)) (*Outcome, error) {
	ext, err := p.extractor.Extract(ctx, pl.ExternalStudyID)
	if err != nil {
		return nil, err
	}
	progress(50)

	studyUID := strings.TrimSpace(ext.Tags["StudyInstanceUID"])
	if studyUID == "" {
		return nil, fmt.Errorf("study %s has no StudyInstanceUID", pl.ExternalStudyID)
	}

	pt, err := p.patients.Resolve(ctx, ext.Tags)
	if err != nil {
		return nil, fmt.Errorf("resolve patient: %w", err)
	}
	lb := p.labs.Resolve(ctx, ext.Tags)
	progress(70)

	st, created, err := p.studies.Upsert(ctx, study.UpsertInput{
		StudyUID:           studyUID,
		ArchiveID:          pl.ExternalStudyID,
		AccessionNumber:    ext.Tags["AccessionNumber"],
		PatientID:          pt.ID,
		LabID:              lb.ID,
		LabName:            lb.Name,
		SeriesCount:        ext.SeriesCount,
		InstanceCount:      ext.InstanceCount,
		Modalities:         ext.Modalities,
		StudyDescription:   ext.Tags["StudyDescription"],
		StudyDate:          study.ParseDicomDate(ext.Tags["StudyDate"]),
		ReferringPhysician: ext.Tags["ReferringPhysicianName"],
		InstitutionName:    ext.Tags["InstitutionName"],
		StationName:        ext.Tags["StationName"],
		Manufacturer:       ext.Tags["Manufacturer"],
		PatientName:        pt.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert study: %w", err)
	}
	progress(90)

	p.notify(ctx, st, created)

	return &Outcome{
		StudyID:       st.ID,
		StudyUID:      st.StudyUID,
		PatientID:     pt.ID,
		LabID:         lb.ID,
		Status:        st.Status,
		SeriesCount:   ext.SeriesCount,
		InstanceCount: ext.InstanceCount,
		Method:        ext.Method,
	}, nil
}

// notify announces the upsert to subscribed consoles. Dispatch is best
// effort; a broken notifier never fails the job.
func (p *Pipeline) notify(ctx context.Context, st *study.Study, created bool) {
	if p.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn().Interface("panic", r).Msg("event dispatch panicked")
		}
	}()

	eventType := websocket.EventStudyUpdated
	if created {
		eventType = websocket.EventStudyCreated
	}
	evt := websocket.StudyEvent(eventType, st.ID, st.StudyUID, map[string]interface{}{
		"status":        st.Status,
		"seriesCount":   st.SeriesCount,
		"instanceCount": st.InstanceCount,
		"modalities":    st.Modalities,
	})
	if err := p.notifier.Publish(ctx, evt); err != nil {
		p.logger.Warn().Err(err).Str("study_uid", st.StudyUID).Msg("event dispatch failed")
	}
}
