package execution

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQuantizePrice(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0.51, "0.51"},
		{0.123456, "0.1234"},
		{0.9999999, "0.9999"},
		{0.5, "0.5"},
	}
	for _, tc := range cases {
		if got := QuantizePrice(tc.in); got != tc.want {
			t.Errorf("QuantizePrice(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestQuantizeSize(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{10, "10"},
		{7.999, "7.99"},
		{5.004999, "5"},
	}
	for _, tc := range cases {
		if got := QuantizeSize(tc.in); got != tc.want {
			t.Errorf("QuantizeSize(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSizeBelow(t *testing.T) {
	if !SizeBelow(4.999, 5.0) {
		t.Errorf("4.999 truncates to 4.99 which is below 5")
	}
	if SizeBelow(5.0, 5.0) {
		t.Errorf("5.0 is not below 5")
	}
}

func TestIsBalanceOrAllowance(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("clob POST /order: status 400: not enough balance / allowance"), true},
		{errors.New("Insufficient Balance"), true},
		{errors.New("invalid price"), false},
	}
	for _, tc := range cases {
		if got := IsBalanceOrAllowance(tc.err); got != tc.want {
			t.Errorf("IsBalanceOrAllowance(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestWithRetryRecoversAfterFailure(t *testing.T) {
	a := &Adapter{maxAttempts: 3, retryDelay: time.Millisecond}

	calls := 0
	err := a.withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls=%d want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	a := &Adapter{maxAttempts: 2, retryDelay: time.Millisecond}

	calls := 0
	err := a.withRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("still broken")
	})
	if calls != 2 {
		t.Errorf("calls=%d want 2", calls)
	}

	var execErr *Error
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if execErr.Op != "op" || execErr.Attempts != 2 {
		t.Errorf("unexpected error detail: %+v", execErr)
	}
}

func TestWithRetryStopsOnBalanceError(t *testing.T) {
	a := &Adapter{maxAttempts: 5, retryDelay: time.Millisecond}

	calls := 0
	err := a.withRetry(context.Background(), "submit_limit", func() error {
		calls++
		return errors.New("not enough balance / allowance")
	})
	if calls != 1 {
		t.Errorf("balance errors must not be retried, calls=%d", calls)
	}
	if !IsBalanceOrAllowance(err) {
		t.Errorf("wrapped error should still test as balance-related: %v", err)
	}
}

func TestOrderIDFromResponse(t *testing.T) {
	cases := []struct {
		name    string
		resp    map[string]any
		want    string
		wantErr bool
	}{
		{"orderID key", map[string]any{"orderID": "0xabc", "success": true}, "0xabc", false},
		{"orderId key", map[string]any{"orderId": "0xdef"}, "0xdef", false},
		{"id key", map[string]any{"id": "0x123"}, "0x123", false},
		{"error msg", map[string]any{"errorMsg": "invalid order", "orderID": "0xabc"}, "", true},
		{"failed", map[string]any{"success": false}, "", true},
		{"missing", map[string]any{"success": true}, "", true},
		{"nil", nil, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := orderIDFromResponse(tc.resp)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestOpenOrderRemaining(t *testing.T) {
	o := OpenOrder{OriginalSize: 10, MatchedSize: 3.5}
	if got := o.Remaining(); got != 6.5 {
		t.Errorf("Remaining()=%v want 6.5", got)
	}
	over := OpenOrder{OriginalSize: 2, MatchedSize: 3}
	if got := over.Remaining(); got != 0 {
		t.Errorf("Remaining() must clamp at zero, got %v", got)
	}
}
