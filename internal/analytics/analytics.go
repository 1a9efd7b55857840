// Package analytics computes read-only rollups over the caller's tenant
// scope. Doctors only ever see numbers for their own appointments.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
)

const (
	DefaultTrendMonths = 6
	MaxTrendMonths     = 24
)

// FeatureGate reports whether an organization has an add-on switched on.
type FeatureGate interface {
	EnsureActive(ctx context.Context, orgID uuid.UUID, name string) error
}

type Overview struct {
	TotalPatients        int64            `json:"total_patients"`
	TotalClinics         int64            `json:"total_clinics"`
	TotalDoctors         int64            `json:"total_doctors"`
	TotalAppointments    int64            `json:"total_appointments"`
	AppointmentsByStatus map[string]int64 `json:"appointments_by_status"`
	TodayAppointments    int64            `json:"today_appointments"`
	UpcomingAppointments int64            `json:"upcoming_appointments"`
	CompletionRate       float64          `json:"completion_rate"`
	CancellationRate     float64          `json:"cancellation_rate"`
	NoShowRate           float64          `json:"no_show_rate"`
}

type DoctorStat struct {
	DoctorID       uuid.UUID `json:"doctor_id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization,omitempty"`
	Total          int64     `json:"total_appointments"`
	Completed      int64     `json:"completed"`
	Cancelled      int64     `json:"cancelled"`
	NoShow         int64     `json:"no_show"`
	Upcoming       int64     `json:"upcoming"`
	CompletionRate float64   `json:"completion_rate"`
}

type MonthCount struct {
	Month        string `json:"month"` // YYYY-MM
	NewPatients  int64  `json:"new_patients"`
	Appointments int64  `json:"appointments"`
	Completed    int64  `json:"completed"`
}

type Trends struct {
	Months []MonthCount `json:"months"`
}

type ClinicUtilisation struct {
	ClinicID       uuid.UUID `json:"clinic_id"`
	Name           string    `json:"name"`
	Patients       int64     `json:"patients"`
	Appointments   int64     `json:"appointments"`
	Completed      int64     `json:"completed"`
	CompletionRate float64   `json:"completion_rate"`
}

type Advanced struct {
	Clinics                   []ClinicUtilisation `json:"clinics"`
	AppointmentsByWeekday     map[string]int64    `json:"appointments_by_weekday"`
	AppointmentsByHour        map[int]int64       `json:"appointments_by_hour"`
	BusiestWeekday            string              `json:"busiest_weekday,omitempty"`
	BusiestHour               *int                `json:"busiest_hour,omitempty"`
	AvgAppointmentsPerPatient float64             `json:"avg_appointments_per_patient"`
	ReturningPatients         int64               `json:"returning_patients"`
}

type Service struct {
	db   *gorm.DB
	gate FeatureGate
	now  func() time.Time
}

func NewService(db *gorm.DB, gate FeatureGate) *Service {
	return &Service{
		db:   db,
		gate: gate,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) scoped(ctx context.Context, caller tenant.Caller, kind tenant.Kind, model interface{}) *gorm.DB {
	return s.db.WithContext(ctx).Model(model).Scopes(tenant.ScopeFor(caller, kind).Apply)
}

type statusCount struct {
	Status models.AppointmentStatus
	Count  int64
}

func (s *Service) Overview(ctx context.Context, caller tenant.Caller) (*Overview, error) {
	out := &Overview{AppointmentsByStatus: map[string]int64{}}

	if err := s.scoped(ctx, caller, tenant.KindPatient, &models.Patient{}).Count(&out.TotalPatients).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.scoped(ctx, caller, tenant.KindClinic, &models.Clinic{}).Count(&out.TotalClinics).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.scoped(ctx, caller, tenant.KindUser, &models.User{}).
		Where("users.role = ?", models.RoleDoctor).
		Count(&out.TotalDoctors).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	var counts []statusCount
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Select("appointments.status AS status, COUNT(*) AS count").
		Group("appointments.status").
		Scan(&counts).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	for _, c := range counts {
		out.AppointmentsByStatus[string(c.Status)] = c.Count
		out.TotalAppointments += c.Count
	}

	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Where("appointments.date >= ? AND appointments.date < ?", dayStart, dayStart.Add(24*time.Hour)).
		Count(&out.TodayAppointments).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Where("appointments.date > ? AND appointments.status IN ?", now,
			[]models.AppointmentStatus{models.AppointmentScheduled, models.AppointmentConfirmed}).
		Count(&out.UpcomingAppointments).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	byStatus := out.AppointmentsByStatus
	out.CompletionRate = rate(byStatus[string(models.AppointmentCompleted)], out.TotalAppointments)
	out.CancellationRate = rate(byStatus[string(models.AppointmentCancelled)], out.TotalAppointments)
	out.NoShowRate = rate(byStatus[string(models.AppointmentNoShow)], out.TotalAppointments)

	return out, nil
}

type doctorStatusCount struct {
	DoctorID uuid.UUID
	Status   models.AppointmentStatus
	Count    int64
}

// DoctorStats returns per-doctor appointment totals, busiest first.
func (s *Service) DoctorStats(ctx context.Context, caller tenant.Caller) ([]DoctorStat, error) {
	doctorsQ := s.scoped(ctx, caller, tenant.KindUser, &models.User{}).
		Where("users.role = ?", models.RoleDoctor)
	if caller.IsDoctor() {
		doctorsQ = doctorsQ.Where("users.id = ?", caller.UserID)
	}

	var doctors []models.User
	if err := doctorsQ.Find(&doctors).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	var counts []doctorStatusCount
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Select("appointments.doctor_id AS doctor_id, appointments.status AS status, COUNT(*) AS count").
		Group("appointments.doctor_id, appointments.status").
		Scan(&counts).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	var upcoming []doctorStatusCount
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Select("appointments.doctor_id AS doctor_id, COUNT(*) AS count").
		Where("appointments.date > ? AND appointments.status IN ?", s.now(),
			[]models.AppointmentStatus{models.AppointmentScheduled, models.AppointmentConfirmed}).
		Group("appointments.doctor_id").
		Scan(&upcoming).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	stats := make(map[uuid.UUID]*DoctorStat, len(doctors))
	out := make([]DoctorStat, 0, len(doctors))
	for _, d := range doctors {
		stats[d.ID] = &DoctorStat{DoctorID: d.ID, Name: d.Name, Specialization: d.Specialization}
	}
	for _, c := range counts {
		st, ok := stats[c.DoctorID]
		if !ok {
			continue
		}
		st.Total += c.Count
		switch c.Status {
		case models.AppointmentCompleted:
			st.Completed += c.Count
		case models.AppointmentCancelled:
			st.Cancelled += c.Count
		case models.AppointmentNoShow:
			st.NoShow += c.Count
		}
	}
	for _, c := range upcoming {
		if st, ok := stats[c.DoctorID]; ok {
			st.Upcoming = c.Count
		}
	}
	for _, d := range doctors {
		st := stats[d.ID]
		st.CompletionRate = rate(st.Completed, st.Total)
		out = append(out, *st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Trends buckets new patients and appointments by calendar month (UTC) for
// the last months months, oldest first.
func (s *Service) Trends(ctx context.Context, caller tenant.Caller, months int) (*Trends, error) {
	if months <= 0 {
		months = DefaultTrendMonths
	}
	if months > MaxTrendMonths {
		months = MaxTrendMonths
	}

	now := s.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	buckets := make([]MonthCount, months)
	index := make(map[string]int, months)
	for i := 0; i < months; i++ {
		key := start.AddDate(0, i, 0).Format("2006-01")
		buckets[i] = MonthCount{Month: key}
		index[key] = i
	}

	var created []time.Time
	if err := s.scoped(ctx, caller, tenant.KindPatient, &models.Patient{}).
		Where("patients.created_at >= ?", start).
		Pluck("patients.created_at", &created).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	for _, t := range created {
		if i, ok := index[t.UTC().Format("2006-01")]; ok {
			buckets[i].NewPatients++
		}
	}

	var appts []models.Appointment
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Select("appointments.date", "appointments.status").
		Where("appointments.date >= ? AND appointments.date <= ?", start, now).
		Find(&appts).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	for _, a := range appts {
		i, ok := index[a.Date.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		buckets[i].Appointments++
		if a.Status == models.AppointmentCompleted {
			buckets[i].Completed++
		}
	}

	return &Trends{Months: buckets}, nil
}

// Advanced requires the ADVANCED_ANALYTICS add-on.
func (s *Service) Advanced(ctx context.Context, caller tenant.Caller) (*Advanced, error) {
	if err := s.gate.EnsureActive(ctx, caller.OrganizationID, models.AddOnAdvancedAnalytics); err != nil {
		return nil, err
	}

	var clinics []models.Clinic
	if err := s.scoped(ctx, caller, tenant.KindClinic, &models.Clinic{}).Order("clinics.name ASC").Find(&clinics).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	var patients []models.Patient
	if err := s.scoped(ctx, caller, tenant.KindPatient, &models.Patient{}).
		Select("patients.id", "patients.clinic_id").
		Find(&patients).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	var appts []models.Appointment
	if err := s.scoped(ctx, caller, tenant.KindAppointment, &models.Appointment{}).
		Select("appointments.patient_id", "appointments.clinic_id", "appointments.date", "appointments.status").
		Find(&appts).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	out := &Advanced{
		AppointmentsByWeekday: map[string]int64{},
		AppointmentsByHour:    map[int]int64{},
	}

	perClinic := make(map[uuid.UUID]*ClinicUtilisation, len(clinics))
	for _, c := range clinics {
		out.Clinics = append(out.Clinics, ClinicUtilisation{ClinicID: c.ID, Name: c.Name})
	}
	for i := range out.Clinics {
		perClinic[out.Clinics[i].ClinicID] = &out.Clinics[i]
	}
	for _, p := range patients {
		if c, ok := perClinic[p.ClinicID]; ok {
			c.Patients++
		}
	}

	perPatient := map[uuid.UUID]int64{}
	for _, a := range appts {
		if c, ok := perClinic[a.ClinicID]; ok {
			c.Appointments++
			if a.Status == models.AppointmentCompleted {
				c.Completed++
			}
		}
		d := a.Date.UTC()
		out.AppointmentsByWeekday[d.Weekday().String()]++
		out.AppointmentsByHour[d.Hour()]++
		perPatient[a.PatientID]++
	}
	for i := range out.Clinics {
		out.Clinics[i].CompletionRate = rate(out.Clinics[i].Completed, out.Clinics[i].Appointments)
	}

	var best int64
	for day := time.Sunday; day <= time.Saturday; day++ {
		if n := out.AppointmentsByWeekday[day.String()]; n > best {
			best, out.BusiestWeekday = n, day.String()
		}
	}
	best = 0
	for hour := 0; hour < 24; hour++ {
		if n := out.AppointmentsByHour[hour]; n > best {
			h := hour
			best, out.BusiestHour = n, &h
		}
	}

	for _, n := range perPatient {
		if n > 1 {
			out.ReturningPatients++
		}
	}
	if len(perPatient) > 0 {
		out.AvgAppointmentsPerPatient = round2(float64(len(appts)) / float64(len(perPatient)))
	}

	return out, nil
}

// rate is part/total as a percentage with two decimals.
func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
