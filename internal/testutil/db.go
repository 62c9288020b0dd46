package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/doutoragenda/backend/internal/migrate"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/migrations"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens GORM on DATABASE_URL and applies the migrations.
// Without DATABASE_URL the test is skipped.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := repo.Open(context.Background(), url, 5)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := migrate.Run(context.Background(), db, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// OpenSQLite returns an in-memory database private to the test with every model migrated.
func OpenSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_busy_timeout=5000"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(repo.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// Fixture is one clinic with a doctor, a patient and an appointment priced at PriceInCents.
type Fixture struct {
	Clinic      repo.Clinic
	Doctor      repo.Doctor
	Patient     repo.Patient
	Appointment repo.Appointment
}

// NewFixture inserts a clinic graph. price 0 is stored as is.
func NewFixture(t *testing.T, db *gorm.DB, price int64, date time.Time) Fixture {
	t.Helper()
	ctx := context.Background()
	email := "paciente@example.com"
	phone := "+5511999990000"
	f := Fixture{
		Clinic:  repo.Clinic{Name: "Clínica Teste " + uuid.NewString()[:8]},
		Doctor:  repo.Doctor{Name: "Dra. Ana Souza", AppointmentPriceInCents: price},
		Patient: repo.Patient{Name: "Maria Silva", Email: &email, Phone: &phone},
	}
	if err := repo.CreateClinic(ctx, db, &f.Clinic); err != nil {
		t.Fatalf("create clinic: %v", err)
	}
	f.Doctor.ClinicID = f.Clinic.ID
	f.Patient.ClinicID = f.Clinic.ID
	if err := repo.CreateDoctor(ctx, db, &f.Doctor); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	if err := repo.CreatePatient(ctx, db, &f.Patient); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	f.Appointment = repo.Appointment{
		ClinicID:        f.Clinic.ID,
		DoctorID:        f.Doctor.ID,
		PatientID:       f.Patient.ID,
		AppointmentDate: repo.DateOnly(date),
		StartTime:       "14:30:00",
		EndTime:         "15:00:00",
		PriceInCents:    price,
		Status:          repo.AppointmentConfirmed,
	}
	if err := repo.CreateAppointment(ctx, db, &f.Appointment); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return f
}

// AddAppointment books another appointment for the fixture's patient.
func (f Fixture) AddAppointment(t *testing.T, db *gorm.DB, price int64, date time.Time, start string) repo.Appointment {
	t.Helper()
	a := repo.Appointment{
		ClinicID:        f.Clinic.ID,
		DoctorID:        f.Doctor.ID,
		PatientID:       f.Patient.ID,
		AppointmentDate: repo.DateOnly(date),
		StartTime:       start,
		EndTime:         start,
		PriceInCents:    price,
		Status:          repo.AppointmentScheduled,
	}
	if err := repo.CreateAppointment(context.Background(), db, &a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}
