package prevention

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/workspace/internal/store"
)

var ErrValidation = fmt.Errorf("%w prevention template", store.ErrInvalid)

type Category string

const (
	CategoryScreening   Category = "screening"
	CategoryVaccination Category = "vaccination"
	CategoryLifestyle   Category = "lifestyle"
	CategoryMedication  Category = "medication"
)

var categoryRank = map[Category]int{
	CategoryScreening:   1,
	CategoryVaccination: 2,
	CategoryLifestyle:   3,
	CategoryMedication:  4,
}

type Gender string

const (
	GenderAll    Gender = "all"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

var validGenders = map[Gender]bool{GenderAll: true, GenderMale: true, GenderFemale: true}

// Template is a reusable preventive-care recommendation, e.g. a colorectal
// cancer screening every ten years for adults 45 to 75.
type Template struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Category     Category  `json:"category"`
	MinAge       *int      `json:"min_age,omitempty"`
	MaxAge       *int      `json:"max_age,omitempty"`
	TargetGender Gender    `json:"target_gender"`
	Frequency    string    `json:"frequency,omitempty"`
	Active       bool      `json:"active"`
	UsageCount   int       `json:"usage_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (t Template) EntityID() string { return t.ID }

// AppliesTo reports whether the template targets a patient of the given age
// and gender. GenderAll templates apply to everyone.
func (t Template) AppliesTo(age int, gender Gender) bool {
	if t.MinAge != nil && age < *t.MinAge {
		return false
	}
	if t.MaxAge != nil && age > *t.MaxAge {
		return false
	}
	return t.TargetGender == GenderAll || t.TargetGender == "" || t.TargetGender == gender
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if categoryRank[t.Category] == 0 {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}
	if !validGenders[t.TargetGender] {
		return fmt.Errorf("%w: unknown target_gender %q", ErrValidation, t.TargetGender)
	}
	if (t.MinAge != nil && *t.MinAge < 0) || (t.MaxAge != nil && *t.MaxAge < 0) {
		return fmt.Errorf("%w: ages must not be negative", ErrValidation)
	}
	if t.MinAge != nil && t.MaxAge != nil && *t.MinAge > *t.MaxAge {
		return fmt.Errorf("%w: min_age exceeds max_age", ErrValidation)
	}
	if t.UsageCount < 0 {
		return fmt.Errorf("%w: usage_count must not be negative", ErrValidation)
	}
	return nil
}

type SortField string

const (
	SortName       SortField = "name"
	SortCategory   SortField = "category"
	SortUsageCount SortField = "usageCount"
	SortUpdatedAt  SortField = "updatedAt"
)

var validSortFields = map[SortField]bool{
	SortName: true, SortCategory: true, SortUsageCount: true, SortUpdatedAt: true,
}

// Filter narrows the template library. Gender matches templates aimed at
// that gender or at everyone.
type Filter struct {
	Search    string          `json:"search,omitempty"`
	Category  Category        `json:"category,omitempty"`
	Active    *bool           `json:"active,omitempty"`
	Gender    Gender          `json:"gender,omitempty"`
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
	if f.Category != "" && f.Category != store.AllValue && categoryRank[f.Category] == 0 {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, f.Category)
	}
	if f.Gender != "" && !validGenders[f.Gender] {
		return fmt.Errorf("%w: unknown gender %q", ErrValidation, f.Gender)
	}
	return nil
}

func DefaultFilter() Filter {
	return Filter{
		Category:  store.AllValue,
		Gender:    GenderAll,
		SortBy:    SortName,
		SortOrder: store.Asc,
	}
}

type Patch struct {
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Category     *Category `json:"category,omitempty"`
	MinAge       *int      `json:"min_age,omitempty"`
	MaxAge       *int      `json:"max_age,omitempty"`
	TargetGender *Gender   `json:"target_gender,omitempty"`
	Frequency    *string   `json:"frequency,omitempty"`
	Active       *bool     `json:"active,omitempty"`
}

func (p Patch) Apply(t *Template) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.MinAge != nil {
		v := *p.MinAge
		t.MinAge = &v
	}
	if p.MaxAge != nil {
		v := *p.MaxAge
		t.MaxAge = &v
	}
	if p.TargetGender != nil {
		t.TargetGender = *p.TargetGender
	}
	if p.Frequency != nil {
		t.Frequency = *p.Frequency
	}
	if p.Active != nil {
		t.Active = *p.Active
	}
}
