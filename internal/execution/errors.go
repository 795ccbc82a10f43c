package execution

import (
	"fmt"
	"strings"
)

// Error wraps a failed exchange operation with the operation name and how many
// attempts were made before giving up.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("execution %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsBalanceOrAllowance reports whether an error looks like the exchange
// rejecting an order for insufficient funds or allowance. Sellers hit this
// when local inventory tracking has drifted from the chain and should force a
// position resync.
func IsBalanceOrAllowance(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not enough balance") ||
		strings.Contains(msg, "insufficient balance") ||
		strings.Contains(msg, "allowance")
}
