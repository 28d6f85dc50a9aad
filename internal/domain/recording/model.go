package recording

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/workspace/internal/store"
)

var ErrValidation = fmt.Errorf("%w recording", store.ErrInvalid)

type Status string

const (
	StatusRecording  Status = "recording"
	StatusPaused     Status = "paused"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var validStatuses = map[Status]bool{
	StatusRecording: true, StatusPaused: true, StatusProcessing: true, StatusCompleted: true, StatusFailed: true,
}

// Session is one ambient-scribe recording of a visit.
type Session struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patient_id,omitempty"`
	PatientName string     `json:"patient_name"`
	ProviderID  string     `json:"provider_id,omitempty"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	// Duration is the recorded length in seconds, excluding pauses.
	Duration   int       `json:"duration"`
	Transcript string    `json:"transcript,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s Session) EntityID() string { return s.ID }

func (s Session) Validate() error {
	if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.PatientName) == "" {
		return fmt.Errorf("%w: title or patient_name is required", ErrValidation)
	}
	if !validStatuses[s.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, s.Status)
	}
	if s.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("%w: ended_at is before started_at", ErrValidation)
	}
	return nil
}

type SortField string

const (
	SortStartedAt   SortField = "startedAt"
	SortDuration    SortField = "duration"
	SortPatientName SortField = "patientName"
	SortTitle       SortField = "title"
)

var validSortFields = map[SortField]bool{
	SortStartedAt: true, SortDuration: true, SortPatientName: true, SortTitle: true,
}

type Filter struct {
	Search    string          `json:"search,omitempty"`
	Status    Status          `json:"status,omitempty"`
	PatientID string          `json:"patient_id,omitempty"`
	From      *time.Time      `json:"from,omitempty"`
	To        *time.Time      `json:"to,omitempty"`
	SortBy    SortField       `json:"sort_by"`
	SortOrder store.SortOrder `json:"sort_order"`
}

func (f Filter) Order() store.SortOrder { return f.SortOrder }

func (f Filter) Validate() error {
	if f.SortBy != "" && !validSortFields[f.SortBy] {
		return fmt.Errorf("%w: unknown sort_by %q", ErrValidation, f.SortBy)
	}
	if !f.SortOrder.Valid() {
		return fmt.Errorf("%w: unknown sort_order %q", ErrValidation, f.SortOrder)
	}
	if f.Status != "" && f.Status != store.AllValue && !validStatuses[f.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: to is before from", ErrValidation)
	}
	return nil
}

// DefaultFilter lists the newest recordings first.
func DefaultFilter() Filter {
	return Filter{
		Status:    store.AllValue,
		SortBy:    SortStartedAt,
		SortOrder: store.Desc,
	}
}

type Patch struct {
	PatientName *string    `json:"patient_name,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Duration    *int       `json:"duration,omitempty"`
	Transcript  *string    `json:"transcript,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	Tags        *[]string  `json:"tags,omitempty"`
}

func (p Patch) Apply(s *Session) {
	if p.PatientName != nil {
		s.PatientName = *p.PatientName
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		s.EndedAt = &t
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.Transcript != nil {
		s.Transcript = *p.Transcript
	}
	if p.Summary != nil {
		s.Summary = *p.Summary
	}
	if p.Tags != nil {
		s.Tags = append([]string(nil), (*p.Tags)...)
	}
}

// Draft is an unsaved clinician note attached to a session.
type Draft struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}
