package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/workspace/internal/store"
)

var (
	ErrValidation = fmt.Errorf("%w appointment", store.ErrInvalid)
	ErrConflict   = fmt.Errorf("%w: overlapping appointment", store.ErrConflict)
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

var statusRank = map[Status]int{
	StatusScheduled:  1,
	StatusConfirmed:  2,
	StatusInProgress: 3,
	StatusCompleted:  4,
	StatusCancelled:  5,
	StatusNoShow:     6,
}

// Terminal statuses never block a time slot.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Type string

const (
	TypeNewPatient   Type = "new-patient"
	TypeFollowUp     Type = "follow-up"
	TypeConsultation Type = "consultation"
	TypeProcedure    Type = "procedure"
	TypeTelehealth   Type = "telehealth"
)

var validTypes = map[Type]bool{
	TypeNewPatient: true, TypeFollowUp: true, TypeConsultation: true, TypeProcedure: true, TypeTelehealth: true,
}

type Appointment struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	ProviderID   string    `json:"provider_id,omitempty"`
	ProviderName string    `json:"provider_name,omitempty"`
	Title        string    `json:"title,omitempty"`
	Type         Type      `json:"type"`
	Status       Status    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Location     string    `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a Appointment) EntityID() string { return a.ID }

func (a Appointment) Duration() time.Duration { return a.EndTime.Sub(a.StartTime) }

// Overlaps is the half-open test against [start, end): touching boundaries
// do not overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && end.After(a.StartTime)
}

func (a Appointment) Validate() error {
	if strings.TrimSpace(a.PatientID) == "" && strings.TrimSpace(a.PatientName) == "" {
		return fmt.Errorf("%w: patient_id or patient_name is required", ErrValidation)
	}
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", ErrValidation)
	}
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrValidation)
	}
	if statusRank[a.Status] == 0 {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, a.Status)
	}
	if a.Type != "" && !validTypes[a.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, a.Type)
	}
	return nil
}

type SortField string

const (
	SortStartTime   SortField = "startTime"
	SortPatientName SortField = "patientName"
	SortStatus      SortField = "status"
	SortCreatedAt   SortField = "createdAt"
)

var validSortFields = map[SortField]bool{
	SortStartTime: true, SortPatientName: true, SortStatus: true, SortCreatedAt: true,
}

// Filter narrows the schedule. From and To bound the start time inclusively.
type Filter struct {
	Search     string          `json:"search,omitempty"`
	Status     Status          `json:"status,omitempty"`
	Type       Type            `json:"type,omitempty"`
	ProviderID string          `json:"provider_id,omitempty"`
	From       *time.Time      `json:"from,omitempty"`
	To         *time.Time      `json:"to,omitempty"`
	SortBy     SortField       `json:"sort_by"`
	SortOrder  store.SortOrder `json:"sort_order"`
}

func (f Filter) Order() store.SortOrder { return f.SortOrder }

func (f Filter) Validate() error {
	if f.SortBy != "" && !validSortFields[f.SortBy] {
		return fmt.Errorf("%w: unknown sort_by %q", ErrValidation, f.SortBy)
	}
	if !f.SortOrder.Valid() {
		return fmt.Errorf("%w: unknown sort_order %q", ErrValidation, f.SortOrder)
	}
	if f.Status != "" && f.Status != store.AllValue && statusRank[f.Status] == 0 {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Type != "" && f.Type != store.AllValue && !validTypes[f.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, f.Type)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: to is before from", ErrValidation)
	}
	return nil
}

func DefaultFilter() Filter {
	return Filter{
		Status:    store.AllValue,
		Type:      store.AllValue,
		SortBy:    SortStartTime,
		SortOrder: store.Asc,
	}
}

type Patch struct {
	PatientName  *string    `json:"patient_name,omitempty"`
	ProviderID   *string    `json:"provider_id,omitempty"`
	ProviderName *string    `json:"provider_name,omitempty"`
	Title        *string    `json:"title,omitempty"`
	Type         *Type      `json:"type,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

// Reschedules reports whether the patch moves the appointment or revives a
// terminal one, either of which needs a fresh conflict check.
func (p Patch) Reschedules() bool {
	return p.StartTime != nil || p.EndTime != nil || (p.Status != nil && !p.Status.Terminal())
}

func (p Patch) Apply(a *Appointment) {
	if p.PatientName != nil {
		a.PatientName = *p.PatientName
	}
	if p.ProviderID != nil {
		a.ProviderID = *p.ProviderID
	}
	if p.ProviderName != nil {
		a.ProviderName = *p.ProviderName
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		a.EndTime = *p.EndTime
	}
	if p.Location != nil {
		a.Location = *p.Location
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
}
