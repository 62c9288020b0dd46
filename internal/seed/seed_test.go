package seed

import (
	"context"
	"testing"
	"time"

	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CreatesDemoOnce(t *testing.T) {
	db := testutil.OpenSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	demo, err := Run(ctx, db, now)
	require.NoError(t, err)
	assert.True(t, demo.Created)
	assert.Len(t, demo.Appointments, 8)

	appt, err := repo.AppointmentForPayment(ctx, db, demo.ClinicID, demo.Appointments[0])
	require.NoError(t, err)
	assert.Equal(t, DemoClinicName, appt.ClinicName)
	assert.Equal(t, int64(15000), appt.PriceInCents)

	again, err := Run(ctx, db, now)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, demo.ClinicID, again.ClinicID)

	var n int64
	require.NoError(t, db.Model(&repo.Appointment{}).Count(&n).Error)
	assert.Equal(t, int64(8), n)

	// three of the four patients have a phone
	rows, err := repo.ListPendingBalances(ctx, db, now.AddDate(0, 0, 1), &demo.ClinicID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
