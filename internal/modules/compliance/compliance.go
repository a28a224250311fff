// Package compliance screens payments before they reach a settlement
// network: sanctions and PEP name matching, per-sender velocity limits and
// per-currency amount thresholds, combined into a risk score.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crossborder/core/internal/models"
)

// Decision is the screening outcome.
type Decision string

const (
	Approved      Decision = "APPROVED"
	Rejected      Decision = "REJECTED"
	PendingReview Decision = "PENDING_REVIEW"
)

// Risk weights per failed check. A sanctions hit alone forces rejection;
// anything scoring at or above reviewThreshold goes to manual review.
const (
	sanctionsWeight = 100
	pepWeight       = 30
	velocityWeight  = 25
	thresholdWeight = 20
	reviewThreshold = 50
	maxRiskScore    = 100
)

// Velocity limits per sender. The window defaults to one hour and is
// configurable via WithWindow.
const (
	velocityMaxCount      = 10
	velocityMaxAmount     = 50000.0
	defaultVelocityWindow = time.Hour
)

var simulatedSanctionsList = []string{
	"kim jong",
	"vladimir putin",
	"ali khamenei",
	"test sanctions",
}

var simulatedPEPList = []string{
	"joe biden",
	"donald trump",
	"test pep",
}

var amountThresholds = map[string]float64{
	"USD": 10000,
	"EUR": 9000,
	"GBP": 8000,
}

const defaultThreshold = 10000.0

// CheckOutcome is one individual check's result.
type CheckOutcome struct {
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// Result is the full screening verdict for a payment.
type Result struct {
	Decision        Decision                `json:"decision"`
	RiskScore       int                     `json:"riskScore"`
	Checks          map[string]CheckOutcome `json:"checks"`
	ReviewRequired  bool                    `json:"reviewRequired"`
	RejectionReason string                  `json:"rejectionReason,omitempty"`
}

// Details flattens the result into the payment's compliance details map.
func (r *Result) Details() map[string]any {
	checks := make(map[string]any, len(r.Checks))
	for name, c := range r.Checks {
		checks[name] = map[string]any{"passed": c.Passed, "details": c.Details}
	}
	out := map[string]any{
		"decision":       string(r.Decision),
		"riskScore":      r.RiskScore,
		"checks":         checks,
		"reviewRequired": r.ReviewRequired,
	}
	if r.RejectionReason != "" {
		out["rejectionReason"] = r.RejectionReason
	}
	return out
}

type senderHistory struct {
	count       int
	totalAmount float64
	lastTxTime  time.Time
}

// Checker screens payments. Sender velocity history is in-process state.
type Checker struct {
	mu      sync.Mutex
	history map[string]*senderHistory
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock overrides the velocity window clock.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithWindow overrides the velocity window length.
func WithWindow(window time.Duration) Option {
	return func(c *Checker) {
		if window > 0 {
			c.window = window
		}
	}
}

func NewChecker(logger *zap.Logger, opts ...Option) *Checker {
	c := &Checker{
		history: make(map[string]*senderHistory),
		window:  defaultVelocityWindow,
		now:     time.Now,
		logger:  logger.Named("compliance"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckPayment screens a payment and records it against the sender's
// velocity history.
func (c *Checker) CheckPayment(ctx context.Context, sender models.SenderInfo, receiver models.ReceiverInfo, amount float64, currency string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	senderKey := sender.ID
	if senderKey == "" {
		senderKey = sender.Email
	}
	if senderKey == "" {
		senderKey = "unknown"
	}

	checks := map[string]CheckOutcome{
		"sanctions":       c.checkSanctions(sender, receiver),
		"pep":             c.checkPEP(sender),
		"velocityCheck":   c.checkVelocity(senderKey, amount),
		"amountThreshold": c.checkAmountThreshold(amount, currency),
	}

	score := 0
	if !checks["sanctions"].Passed {
		score += sanctionsWeight
	}
	if !checks["pep"].Passed {
		score += pepWeight
	}
	if !checks["velocityCheck"].Passed {
		score += velocityWeight
	}
	if !checks["amountThreshold"].Passed {
		score += thresholdWeight
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}

	result := &Result{RiskScore: score, Checks: checks}
	switch {
	case !checks["sanctions"].Passed:
		result.Decision = Rejected
		result.RejectionReason = "Sanctions list match detected"
	case score >= reviewThreshold:
		result.Decision = PendingReview
		result.ReviewRequired = true
	default:
		result.Decision = Approved
	}

	c.recordTransaction(senderKey, amount)

	c.logger.Info("payment screened",
		zap.String("decision", string(result.Decision)),
		zap.Int("riskScore", score))
	return result, nil
}

func (c *Checker) checkSanctions(sender models.SenderInfo, receiver models.ReceiverInfo) CheckOutcome {
	names := []string{
		strings.ToLower(sender.FirstName + " " + sender.LastName),
		strings.ToLower(receiver.FirstName + " " + receiver.LastName),
	}
	for _, name := range names {
		for _, sanctioned := range simulatedSanctionsList {
			if strings.Contains(name, sanctioned) {
				return CheckOutcome{Passed: false, Details: "Name matches sanctions list: " + sanctioned}
			}
		}
	}
	return CheckOutcome{Passed: true}
}

func (c *Checker) checkPEP(sender models.SenderInfo) CheckOutcome {
	name := strings.ToLower(sender.FirstName + " " + sender.LastName)
	for _, pep := range simulatedPEPList {
		if strings.Contains(name, pep) {
			return CheckOutcome{Passed: false, Details: "Name matches PEP list: " + pep}
		}
	}
	return CheckOutcome{Passed: true}
}

func (c *Checker) checkVelocity(senderKey string, amount float64) CheckOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.history[senderKey]
	if !ok {
		return CheckOutcome{Passed: true}
	}
	if c.now().Sub(h.lastTxTime) < c.window && h.count >= velocityMaxCount {
		return CheckOutcome{Passed: false, Details: "Too many transactions in the last hour"}
	}
	if h.totalAmount+amount > velocityMaxAmount {
		return CheckOutcome{Passed: false, Details: "Cumulative transaction amount exceeds $50,000"}
	}
	return CheckOutcome{Passed: true}
}

func (c *Checker) checkAmountThreshold(amount float64, currency string) CheckOutcome {
	threshold, ok := amountThresholds[currency]
	if !ok {
		threshold = defaultThreshold
	}
	if amount >= threshold {
		return CheckOutcome{
			Passed:  false,
			Details: fmt.Sprintf("Amount exceeds %s %.0f threshold", currency, threshold),
		}
	}
	return CheckOutcome{Passed: true}
}

// Prune drops velocity history for senders whose last transaction fell
// out of the window. Wired as a cron job.
func (c *Checker) Prune(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, h := range c.history {
		if c.now().Sub(h.lastTxTime) >= c.window {
			delete(c.history, key)
		}
	}
	return nil
}

func (c *Checker) recordTransaction(senderKey string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.history[senderKey]; ok {
		h.count++
		h.totalAmount += amount
		h.lastTxTime = c.now()
		return
	}
	c.history[senderKey] = &senderHistory{count: 1, totalAmount: amount, lastTxTime: c.now()}
}
