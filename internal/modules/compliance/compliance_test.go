package compliance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/models"
)

func newChecker(opts ...Option) *Checker {
	return NewChecker(zap.NewNop(), opts...)
}

func check(t *testing.T, c *Checker, sender models.SenderInfo, amount float64, currency string) *Result {
	t.Helper()
	res, err := c.CheckPayment(context.Background(), sender, models.ReceiverInfo{
		FirstName: "Grace", LastName: "Wanjiku",
	}, amount, currency)
	require.NoError(t, err)
	return res
}

func TestCleanPaymentApproved(t *testing.T) {
	res := check(t, newChecker(), models.SenderInfo{ID: "s1", FirstName: "Alice", LastName: "Smith"}, 500, "USD")
	assert.Equal(t, Approved, res.Decision)
	assert.Equal(t, 0, res.RiskScore)
	assert.False(t, res.ReviewRequired)
	for name, outcome := range res.Checks {
		assert.True(t, outcome.Passed, "check %s", name)
	}
}

func TestSanctionedSenderRejected(t *testing.T) {
	res := check(t, newChecker(), models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Sanctions"}, 100, "USD")
	assert.Equal(t, Rejected, res.Decision)
	assert.Equal(t, 100, res.RiskScore)
	assert.Equal(t, "Sanctions list match detected", res.RejectionReason)
	assert.False(t, res.Checks["sanctions"].Passed)
}

func TestSanctionedReceiverRejected(t *testing.T) {
	c := newChecker()
	res, err := c.CheckPayment(context.Background(),
		models.SenderInfo{ID: "s1", FirstName: "Alice", LastName: "Smith"},
		models.ReceiverInfo{FirstName: "Vladimir", LastName: "Putin"},
		100, "USD")
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Decision)
}

func TestPEPAloneApprovedBelowReviewThreshold(t *testing.T) {
	res := check(t, newChecker(), models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Pep"}, 100, "USD")
	assert.Equal(t, Approved, res.Decision)
	assert.Equal(t, 30, res.RiskScore)
	assert.False(t, res.Checks["pep"].Passed)
}

func TestPEPPlusThresholdGoesToReview(t *testing.T) {
	res := check(t, newChecker(), models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Pep"}, 12000, "USD")
	assert.Equal(t, PendingReview, res.Decision)
	assert.Equal(t, 50, res.RiskScore)
	assert.True(t, res.ReviewRequired)
}

func TestAmountThresholdsPerCurrency(t *testing.T) {
	cases := []struct {
		currency string
		amount   float64
		passed   bool
	}{
		{"USD", 9999, true},
		{"USD", 10000, false},
		{"EUR", 8999, true},
		{"EUR", 9000, false},
		{"GBP", 7999, true},
		{"GBP", 8000, false},
		{"KES", 9999, true}, // unknown currency uses the USD default
		{"KES", 10000, false},
	}
	for i, tc := range cases {
		sender := models.SenderInfo{ID: fmt.Sprintf("s%d", i), FirstName: "Alice", LastName: "Smith"}
		res := check(t, newChecker(), sender, tc.amount, tc.currency)
		assert.Equal(t, tc.passed, res.Checks["amountThreshold"].Passed,
			"%s %.0f", tc.currency, tc.amount)
	}
}

func TestVelocityCountLimit(t *testing.T) {
	c := newChecker()
	sender := models.SenderInfo{ID: "busy", FirstName: "Alice", LastName: "Smith"}

	for i := 0; i < 10; i++ {
		res := check(t, c, sender, 10, "USD")
		assert.True(t, res.Checks["velocityCheck"].Passed, "tx %d", i)
	}
	res := check(t, c, sender, 10, "USD")
	assert.False(t, res.Checks["velocityCheck"].Passed)
	assert.Contains(t, res.Checks["velocityCheck"].Details, "Too many transactions")
}

func TestVelocityCountResetsAfterWindow(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newChecker(WithClock(func() time.Time { return current }))
	sender := models.SenderInfo{ID: "busy", FirstName: "Alice", LastName: "Smith"}

	for i := 0; i < 10; i++ {
		check(t, c, sender, 10, "USD")
	}
	current = current.Add(2 * time.Hour)
	res := check(t, c, sender, 10, "USD")
	assert.True(t, res.Checks["velocityCheck"].Passed)
}

func TestVelocityWindowConfigurable(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newChecker(
		WithWindow(10*time.Minute),
		WithClock(func() time.Time { return current }),
	)
	sender := models.SenderInfo{ID: "busy", FirstName: "Alice", LastName: "Smith"}

	for i := 0; i < 10; i++ {
		check(t, c, sender, 10, "USD")
	}
	res := check(t, c, sender, 10, "USD")
	assert.False(t, res.Checks["velocityCheck"].Passed)

	// A shortened window clears the count limit far sooner than an hour.
	current = current.Add(11 * time.Minute)
	res = check(t, c, sender, 10, "USD")
	assert.True(t, res.Checks["velocityCheck"].Passed)
}

func TestVelocityCumulativeAmountLimit(t *testing.T) {
	c := newChecker()
	sender := models.SenderInfo{ID: "whale", FirstName: "Alice", LastName: "Smith"}

	check(t, c, sender, 9000, "USD")
	res := check(t, c, sender, 45000, "USD")
	assert.False(t, res.Checks["velocityCheck"].Passed)
	assert.Contains(t, res.Checks["velocityCheck"].Details, "$50,000")
}

func TestSenderKeyFallsBackToEmail(t *testing.T) {
	c := newChecker()
	sender := models.SenderInfo{Email: "a@example.com", FirstName: "Alice", LastName: "Smith"}

	for i := 0; i < 10; i++ {
		check(t, c, sender, 10, "USD")
	}
	res := check(t, c, sender, 10, "USD")
	assert.False(t, res.Checks["velocityCheck"].Passed)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newChecker().CheckPayment(ctx,
		models.SenderInfo{FirstName: "Alice", LastName: "Smith"},
		models.ReceiverInfo{}, 100, "USD")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetailsMapShape(t *testing.T) {
	res := check(t, newChecker(), models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Pep"}, 12000, "USD")
	details := res.Details()
	assert.Equal(t, "PENDING_REVIEW", details["decision"])
	assert.Equal(t, 50, details["riskScore"])
	assert.Equal(t, true, details["reviewRequired"])
	checks, ok := details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, checks, 4)
}
