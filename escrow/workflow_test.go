package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vaultbay/models"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		name    string
		current models.TransactionStatus
		next    models.TransactionStatus
		ok      bool
	}{
		{"created to funds confirmed", models.StatusCreated, models.StatusFundsConfirmed, true},
		{"created to cancelled", models.StatusCreated, models.StatusCancelled, true},
		{"created to delivered", models.StatusCreated, models.StatusDelivered, false},
		{"funds confirmed to release authorized", models.StatusFundsConfirmed, models.StatusReleaseAuthorized, true},
		{"funds confirmed to delivered", models.StatusFundsConfirmed, models.StatusDelivered, true},
		{"funds confirmed to cancelled", models.StatusFundsConfirmed, models.StatusCancelled, false},
		{"release authorized to delivered", models.StatusReleaseAuthorized, models.StatusDelivered, true},
		{"delivered to completed", models.StatusDelivered, models.StatusCompleted, true},
		{"completed is terminal", models.StatusCompleted, models.StatusDelivered, false},
		{"cancelled is terminal", models.StatusCancelled, models.StatusFundsConfirmed, false},
		{"repeat is rejected", models.StatusFundsConfirmed, models.StatusFundsConfirmed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTransition(tc.current, tc.next)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidState)
		})
	}
}
