// Package sandbox generates reproducible demo collections for a workspace.
// It is meant for development, UI demos and load testing; generated data
// is never persisted since collections are not part of a workspace's
// durable state.
package sandbox

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/ehr/workspace/internal/domain/appointment"
	"github.com/ehr/workspace/internal/domain/patient"
	"github.com/ehr/workspace/internal/domain/prevention"
	"github.com/ehr/workspace/internal/domain/recording"
	"github.com/ehr/workspace/internal/workspace"
)

// Config controls the volume of generated data.
type Config struct {
	Patients               int   `json:"patients"`
	AppointmentsPerPatient int   `json:"appointments_per_patient"`
	RecordingsPerPatient   int   `json:"recordings_per_patient"`
	Templates              bool  `json:"templates"`
	Seed                   int64 `json:"seed"`
}

// Upper bounds accepted by Validate.
const (
	MaxPatients   = 1000
	MaxPerPatient = 20
)

const (
	slotLength   = 30 * time.Minute
	dayStartHour = 9
	dayEndHour   = 17
	historyDays  = 14
)

func DefaultConfig() Config {
	return Config{
		Patients:               25,
		AppointmentsPerPatient: 2,
		RecordingsPerPatient:   1,
		Templates:              true,
	}
}

func (c Config) Validate() error {
	if c.Patients < 0 || c.Patients > MaxPatients {
		return fmt.Errorf("patients must be between 0 and %d", MaxPatients)
	}
	if c.AppointmentsPerPatient < 0 || c.AppointmentsPerPatient > MaxPerPatient {
		return fmt.Errorf("appointments_per_patient must be between 0 and %d", MaxPerPatient)
	}
	if c.RecordingsPerPatient < 0 || c.RecordingsPerPatient > MaxPerPatient {
		return fmt.Errorf("recordings_per_patient must be between 0 and %d", MaxPerPatient)
	}
	return nil
}

// Dataset is one generated set of collections.
type Dataset struct {
	Patients     []patient.Patient         `json:"patients"`
	Appointments []appointment.Appointment `json:"appointments"`
	Recordings   []recording.Session       `json:"recordings"`
	Templates    []prevention.Template     `json:"templates"`
}

// Result summarizes a seeded workspace.
type Result struct {
	Seed         int64 `json:"seed"`
	Patients     int   `json:"patients"`
	Appointments int   `json:"appointments"`
	Recordings   int   `json:"recordings"`
	Templates    int   `json:"templates"`
}

// Generator produces deterministic domain entities. Two generators with the
// same seed and clock produce identical datasets.
type Generator struct {
	rng     *rand.Rand
	seed    int64
	counter uint64
	now     time.Time

	// next free appointment slot; appointments never overlap
	slot time.Time
}

// NewGenerator returns a generator anchored at now. A zero seed picks a
// time-based one.
func NewGenerator(seed int64, now time.Time) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &Generator{
		rng:  rand.New(rand.NewSource(seed)),
		seed: seed,
		now:  now,
	}
	start := now.AddDate(0, 0, -historyDays)
	g.slot = time.Date(start.Year(), start.Month(), start.Day(), dayStartHour, 0, 0, 0, now.Location())
	return g
}

// Seed returns the seed actually in use.
func (g *Generator) Seed() int64 { return g.seed }

func (g *Generator) nextID(prefix string) string {
	g.counter++
	return fmt.Sprintf("%s-%08x-%04x", prefix, g.rng.Uint32(), g.counter)
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) daysAgo(maxDays int) time.Time {
	return g.now.Add(-time.Duration(1+g.rng.Intn(maxDays*24)) * time.Hour)
}

// Generate builds a complete dataset for cfg.
func (g *Generator) Generate(cfg Config) Dataset {
	var ds Dataset
	for i := 0; i < cfg.Patients; i++ {
		p := g.Patient()
		for j := 0; j < cfg.AppointmentsPerPatient; j++ {
			ds.Appointments = append(ds.Appointments, g.Appointment(p))
		}
		for j := 0; j < cfg.RecordingsPerPatient; j++ {
			ds.Recordings = append(ds.Recordings, g.Recording(p))
		}
		ds.Patients = append(ds.Patients, p)
	}
	linkNextAppointments(ds.Patients, ds.Appointments, g.now)
	if cfg.Templates {
		ds.Templates = g.Templates()
	}
	return ds
}

func (g *Generator) Patient() patient.Patient {
	gender := patient.GenderFemale
	first := g.pick(firstNamesFemale)
	if g.rng.Intn(2) == 0 {
		gender = patient.GenderMale
		first = g.pick(firstNamesMale)
	}
	last := g.pick(lastNames)
	dob := time.Date(1940+g.rng.Intn(70), time.Month(1+g.rng.Intn(12)), 1+g.rng.Intn(28), 0, 0, 0, 0, time.UTC)
	lastVisit := g.daysAgo(365)
	created := lastVisit.AddDate(-g.rng.Intn(5), 0, 0)

	p := patient.Patient{
		ID:          g.nextID("pat"),
		FirstName:   first,
		LastName:    last,
		DateOfBirth: &dob,
		Gender:      gender,
		MRN:         fmt.Sprintf("MRN-%08d", g.rng.Intn(100000000)),
		Email:       strings.ToLower(first + "." + last + "@example.com"),
		Phone:       fmt.Sprintf("(%03d) %03d-%04d", 200+g.rng.Intn(800), 200+g.rng.Intn(800), g.rng.Intn(10000)),
		Status:      weighted(g.rng, []patient.Status{patient.StatusActive, patient.StatusActive, patient.StatusActive, patient.StatusInactive}),
		RiskLevel:   weighted(g.rng, []patient.RiskLevel{patient.RiskLow, patient.RiskLow, patient.RiskMedium, patient.RiskHigh}),
		LastVisit:   &lastVisit,
		CreatedAt:   created,
		UpdatedAt:   lastVisit,
	}
	for n := g.rng.Intn(3); n > 0; n-- {
		c := g.pick(conditions)
		if !slices.Contains(p.Conditions, c) {
			p.Conditions = append(p.Conditions, c)
		}
	}
	return p
}

// Appointment books the next free clinic slot for p. Slots run on weekdays
// between 09:00 and 17:00 starting two weeks before the generator clock.
func (g *Generator) Appointment(p patient.Patient) appointment.Appointment {
	g.slot = g.slot.Add(time.Duration(g.rng.Intn(3)) * slotLength)
	length := slotLength
	if g.rng.Intn(4) == 0 {
		length = 2 * slotLength
	}
	start := g.fitSlot(length)
	end := start.Add(length)
	g.slot = end

	typ := weighted(g.rng, []appointment.Type{appointment.TypeConsultation, appointment.TypeConsultation, appointment.TypeTelehealth, appointment.TypeProcedure})
	var status appointment.Status
	if end.Before(g.now) {
		status = weighted(g.rng, []appointment.Status{appointment.StatusCompleted, appointment.StatusCompleted, appointment.StatusCompleted, appointment.StatusNoShow, appointment.StatusCancelled})
	} else {
		status = weighted(g.rng, []appointment.Status{appointment.StatusScheduled, appointment.StatusConfirmed})
	}
	provider := g.rng.Intn(len(providers))
	location := g.pick(rooms)
	if typ == appointment.TypeTelehealth {
		location = "Video visit"
	}
	created := start.AddDate(0, 0, -(1 + g.rng.Intn(30)))

	return appointment.Appointment{
		ID:           g.nextID("apt"),
		PatientID:    p.ID,
		PatientName:  p.FullName(),
		ProviderID:   fmt.Sprintf("prov-%02d", provider+1),
		ProviderName: providers[provider],
		Title:        g.pick(visitReasons),
		Type:         typ,
		Status:       status,
		StartTime:    start,
		EndTime:      end,
		Location:     location,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// fitSlot moves g.slot into clinic hours so that a visit of length fits.
func (g *Generator) fitSlot(length time.Duration) time.Time {
	s := g.slot
	for {
		closing := time.Date(s.Year(), s.Month(), s.Day(), dayEndHour, 0, 0, 0, s.Location())
		weekend := s.Weekday() == time.Saturday || s.Weekday() == time.Sunday
		if !weekend && s.Hour() >= dayStartHour && !s.Add(length).After(closing) {
			return s
		}
		next := s.AddDate(0, 0, 1)
		s = time.Date(next.Year(), next.Month(), next.Day(), dayStartHour, 0, 0, 0, s.Location())
	}
}

func (g *Generator) Recording(p patient.Patient) recording.Session {
	started := g.daysAgo(60)
	duration := 300 + g.rng.Intn(1800)
	ended := started.Add(time.Duration(duration) * time.Second)
	reason := g.pick(visitReasons)
	status := weighted(g.rng, []recording.Status{recording.StatusCompleted, recording.StatusCompleted, recording.StatusCompleted, recording.StatusProcessing, recording.StatusFailed})

	s := recording.Session{
		ID:          g.nextID("rec"),
		PatientID:   p.ID,
		PatientName: p.FullName(),
		ProviderID:  fmt.Sprintf("prov-%02d", 1+g.rng.Intn(len(providers))),
		Title:       reason + " with " + p.FullName(),
		Status:      status,
		StartedAt:   started,
		Duration:    duration,
		CreatedAt:   started,
		UpdatedAt:   ended,
	}
	if status != recording.StatusFailed {
		s.EndedAt = &ended
	}
	if status == recording.StatusCompleted {
		s.Transcript = fmt.Sprintf("Patient presents for %s. %s", strings.ToLower(reason), g.pick(transcriptLines))
		s.Summary = fmt.Sprintf("%s reviewed. %s", reason, g.pick(plans))
		s.Tags = []string{g.pick(tags)}
	}
	return s
}

// Templates returns the standard preventive care catalog with randomized
// usage counts.
func (g *Generator) Templates() []prevention.Template {
	out := make([]prevention.Template, 0, len(catalog))
	for _, c := range catalog {
		created := g.daysAgo(720)
		t := prevention.Template{
			ID:           g.nextID("tpl"),
			Name:         c.name,
			Description:  c.description,
			Category:     c.category,
			TargetGender: c.gender,
			Frequency:    c.frequency,
			Active:       g.rng.Intn(6) != 0,
			UsageCount:   g.rng.Intn(250),
			CreatedAt:    created,
			UpdatedAt:    created,
		}
		if c.minAge >= 0 {
			v := c.minAge
			t.MinAge = &v
		}
		if c.maxAge >= 0 {
			v := c.maxAge
			t.MaxAge = &v
		}
		out = append(out, t)
	}
	return out
}

// Apply replaces every collection of w with ds. Selections, filters and
// ledgers are left as they are.
func Apply(w *workspace.Workspace, ds Dataset) {
	w.Patients.SetCollection(ds.Patients)
	w.Appointments.SetCollection(ds.Appointments)
	w.Recordings.SetCollection(ds.Recordings)
	w.Prevention.SetCollection(ds.Templates)
}

// linkNextAppointments sets each patient's next appointment to the earliest
// upcoming booked visit.
func linkNextAppointments(patients []patient.Patient, appts []appointment.Appointment, now time.Time) {
	next := make(map[string]time.Time)
	for _, a := range appts {
		if !a.StartTime.After(now) || a.Status.Terminal() {
			continue
		}
		if cur, ok := next[a.PatientID]; !ok || a.StartTime.Before(cur) {
			next[a.PatientID] = a.StartTime
		}
	}
	for i := range patients {
		if t, ok := next[patients[i].ID]; ok {
			patients[i].NextAppointment = &t
		}
	}
}

func weighted[T any](rng *rand.Rand, pool []T) T {
	return pool[rng.Intn(len(pool))]
}
