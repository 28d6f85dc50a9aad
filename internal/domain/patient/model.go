package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/workspace/internal/store"
)

var ErrValidation = fmt.Errorf("%w patient", store.ErrInvalid)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

var validStatuses = map[Status]bool{
	StatusActive: true, StatusInactive: true, StatusArchived: true,
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskRank orders risk levels for sorting; unknown levels rank lowest.
var riskRank = map[RiskLevel]int{RiskLow: 1, RiskMedium: 2, RiskHigh: 3}

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

var validGenders = map[Gender]bool{
	GenderMale: true, GenderFemale: true, GenderOther: true, GenderUnknown: true,
}

// Patient is one row of a clinician's patient panel.
type Patient struct {
	ID              string     `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	Gender          Gender     `json:"gender,omitempty"`
	MRN             string     `json:"mrn,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Status          Status     `json:"status"`
	RiskLevel       RiskLevel  `json:"risk_level,omitempty"`
	Conditions      []string   `json:"conditions,omitempty"`
	LastVisit       *time.Time `json:"last_visit,omitempty"`
	NextAppointment *time.Time `json:"next_appointment,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (p Patient) EntityID() string { return p.ID }

// FullName is "First Last", trimmed when either part is empty.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Age in whole years at now; -1 when the date of birth is unknown.
func (p Patient) Age(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func (p Patient) Validate() error {
	if strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: first_name or last_name is required", ErrValidation)
	}
	if !validStatuses[p.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, p.Status)
	}
	if p.RiskLevel != "" && riskRank[p.RiskLevel] == 0 {
		return fmt.Errorf("%w: unknown risk_level %q", ErrValidation, p.RiskLevel)
	}
	if p.Gender != "" && !validGenders[p.Gender] {
		return fmt.Errorf("%w: unknown gender %q", ErrValidation, p.Gender)
	}
	return nil
}

type SortField string

const (
	SortName            SortField = "name"
	SortLastVisit       SortField = "lastVisit"
	SortNextAppointment SortField = "nextAppointment"
	SortRiskLevel       SortField = "riskLevel"
	SortCreatedAt       SortField = "createdAt"
)

var validSortFields = map[SortField]bool{
	SortName: true, SortLastVisit: true, SortNextAppointment: true, SortRiskLevel: true, SortCreatedAt: true,
}

// Filter is the patient list filter descriptor. Empty or "all" categorical
// values disable the corresponding predicate.
type Filter struct {
	Search                 string          `json:"search,omitempty"`
	Status                 Status          `json:"status,omitempty"`
	RiskLevel              RiskLevel       `json:"risk_level,omitempty"`
	Gender                 Gender          `json:"gender,omitempty"`
	HasUpcomingAppointment *bool           `json:"has_upcoming_appointment,omitempty"`
	SortBy                 SortField       `json:"sort_by"`
	SortOrder              store.SortOrder `json:"sort_order"`
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
	if f.RiskLevel != "" && f.RiskLevel != store.AllValue && riskRank[f.RiskLevel] == 0 {
		return fmt.Errorf("%w: unknown risk_level %q", ErrValidation, f.RiskLevel)
	}
	return nil
}

func DefaultFilter() Filter {
	return Filter{
		Status:    store.AllValue,
		RiskLevel: store.AllValue,
		Gender:    store.AllValue,
		SortBy:    SortName,
		SortOrder: store.Asc,
	}
}

// Patch carries the fields of a partial update. Nil fields are left alone.
type Patch struct {
	FirstName       *string    `json:"first_name,omitempty"`
	LastName        *string    `json:"last_name,omitempty"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	Gender          *Gender    `json:"gender,omitempty"`
	MRN             *string    `json:"mrn,omitempty"`
	Email           *string    `json:"email,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Status          *Status    `json:"status,omitempty"`
	RiskLevel       *RiskLevel `json:"risk_level,omitempty"`
	Conditions      []string   `json:"conditions,omitempty"`
	LastVisit       *time.Time `json:"last_visit,omitempty"`
	NextAppointment *time.Time `json:"next_appointment,omitempty"`
}

func (p Patch) Apply(pt *Patient) {
	if p.FirstName != nil {
		pt.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		pt.LastName = *p.LastName
	}
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		pt.DateOfBirth = &dob
	}
	if p.Gender != nil {
		pt.Gender = *p.Gender
	}
	if p.MRN != nil {
		pt.MRN = *p.MRN
	}
	if p.Email != nil {
		pt.Email = *p.Email
	}
	if p.Phone != nil {
		pt.Phone = *p.Phone
	}
	if p.Status != nil {
		pt.Status = *p.Status
	}
	if p.RiskLevel != nil {
		pt.RiskLevel = *p.RiskLevel
	}
	if p.Conditions != nil {
		pt.Conditions = append([]string(nil), p.Conditions...)
	}
	if p.LastVisit != nil {
		lv := *p.LastVisit
		pt.LastVisit = &lv
	}
	if p.NextAppointment != nil {
		na := *p.NextAppointment
		pt.NextAppointment = &na
	}
}
