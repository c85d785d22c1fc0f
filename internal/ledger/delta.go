package ledger

import (
	"fmt"
	"math"

	"kioskd/internal/domain"
)

// ComputeDelta turns an action into a signed delta against current.
// recorded is the amount written to the entry (reset records 0).
func ComputeDelta(action domain.Action, amount *int64, current int64) (delta, recorded int64, err error) {
	switch action {
	case domain.ActionAdd, domain.ActionRemove, domain.ActionSet:
		if amount == nil {
			return 0, 0, domain.Invalid("amount", fmt.Sprintf("required for %s", action))
		}
		if *amount < 0 {
			return 0, 0, domain.Invalid("amount", "must be >= 0")
		}
	case domain.ActionReset:
	default:
		return 0, 0, domain.Invalid("action", fmt.Sprintf("unknown action %q", action))
	}

	switch action {
	case domain.ActionAdd:
		if *amount > math.MaxInt64-current {
			return 0, 0, domain.Invalid("amount", "total would overflow")
		}
		return *amount, *amount, nil
	case domain.ActionRemove:
		if *amount > current {
			return 0, 0, &domain.InsufficientError{Requested: *amount, Available: current}
		}
		return -*amount, *amount, nil
	case domain.ActionSet:
		return *amount - current, *amount, nil
	default:
		return -current, 0, nil
	}
}
