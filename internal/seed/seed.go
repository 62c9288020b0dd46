// Package seed inserts a demo clinic for local development (SEED_DEMO=true).
package seed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/doutoragenda/backend/internal/repo"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DemoClinicName = "Clínica Demo"

// Demo is what Run created (or found). AdminID and FrontDeskID are stable
// user ids to mint development tokens with.
type Demo struct {
	ClinicID     uuid.UUID
	AdminID      uuid.UUID
	FrontDeskID  uuid.UUID
	Appointments []uuid.UUID
	Created      bool
}

var (
	demoAdminID     = uuid.MustParse("00000000-0000-4000-8000-00000000a001")
	demoFrontDeskID = uuid.MustParse("00000000-0000-4000-8000-00000000f001")
)

type demoPatient struct {
	name  string
	email string
	phone string
}

// Run creates the demo clinic once: two doctors, four patients and a day of
// appointments on today and tomorrow (relative to now). If a clinic with the
// demo name exists nothing is written.
func Run(ctx context.Context, db *gorm.DB, now time.Time) (*Demo, error) {
	log := slog.Default().With("component", "seed")
	demo := &Demo{AdminID: demoAdminID, FrontDeskID: demoFrontDeskID}

	var existing repo.Clinic
	err := db.WithContext(ctx).Where("name = ?", DemoClinicName).Take(&existing).Error
	switch {
	case err == nil:
		demo.ClinicID = existing.ID
		log.InfoContext(ctx, "demo clinic already present", "clinic_id", existing.ID)
		return demo, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		clinic := repo.Clinic{Name: DemoClinicName}
		if err := repo.CreateClinic(ctx, tx, &clinic); err != nil {
			return err
		}
		demo.ClinicID = clinic.ID

		doctors := []repo.Doctor{
			{ClinicID: clinic.ID, Name: "Dra. Ana Souza", AppointmentPriceInCents: 15000},
			{ClinicID: clinic.ID, Name: "Dr. Bruno Lima", AppointmentPriceInCents: 22000},
		}
		for i := range doctors {
			if err := repo.CreateDoctor(ctx, tx, &doctors[i]); err != nil {
				return err
			}
		}

		people := []demoPatient{
			{"Maria Silva", "maria.silva@example.com", "+5511999990001"},
			{"João Pereira", "joao.pereira@example.com", "+5511999990002"},
			{"Carla Mendes", "", "+5511999990003"},
			{"Pedro Alves", "pedro.alves@example.com", ""},
		}
		patients := make([]repo.Patient, len(people))
		for i, p := range people {
			patients[i] = repo.Patient{ClinicID: clinic.ID, Name: p.name}
			if p.email != "" {
				e := p.email
				patients[i].Email = &e
			}
			if p.phone != "" {
				ph := p.phone
				patients[i].Phone = &ph
			}
			if err := repo.CreatePatient(ctx, tx, &patients[i]); err != nil {
				return err
			}
		}

		today := repo.DateOnly(now)
		slots := []string{"09:00:00", "10:00:00", "14:30:00", "16:00:00"}
		for d, date := range []time.Time{today, today.AddDate(0, 0, 1)} {
			for i, start := range slots {
				doc := doctors[(i+d)%len(doctors)]
				appt := repo.Appointment{
					ClinicID:        clinic.ID,
					DoctorID:        doc.ID,
					PatientID:       patients[i].ID,
					AppointmentDate: date,
					StartTime:       start,
					EndTime:         start,
					PriceInCents:    doc.AppointmentPriceInCents,
					Status:          repo.AppointmentConfirmed,
				}
				if err := repo.CreateAppointment(ctx, tx, &appt); err != nil {
					return err
				}
				demo.Appointments = append(demo.Appointments, appt.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	demo.Created = true
	log.InfoContext(ctx, "demo clinic created", "clinic_id", demo.ClinicID, "appointments", len(demo.Appointments))
	return demo, nil
}
