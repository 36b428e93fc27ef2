package escrow

import (
	"fmt"

	"vaultbay/models"
)

// allowedTransitions defines the forward-only escrow workflow. A status never
// moves backwards and terminal states have no outgoing edges.
var allowedTransitions = map[models.TransactionStatus][]models.TransactionStatus{
	models.StatusCreated:           {models.StatusFundsConfirmed, models.StatusCancelled},
	models.StatusFundsConfirmed:    {models.StatusReleaseAuthorized, models.StatusDelivered},
	models.StatusReleaseAuthorized: {models.StatusDelivered},
	models.StatusDelivered:         {models.StatusCompleted},
}

// ValidateTransition ensures the transition follows the defined state machine.
// Repeating a transition (current == next) is rejected so a retried request
// can never double-apply a financial effect.
func ValidateTransition(current, next models.TransactionStatus) error {
	if current.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidState, current)
	}
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: no transitions allowed from %s", ErrInvalidState, current)
	}
	for _, state := range allowed {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("%w: transition from %s to %s is not permitted", ErrInvalidState, current, next)
}
