// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money math uses shopspring/decimal throughout; float rounding on
// budget thresholds produces off-by-a-cent alerts.

// warnThreshold is the spent/limit ratio that triggers an approaching-
// limit reminder.
var warnThreshold = decimal.NewFromFloat(0.8)

// BudgetStatus is a budget's current standing.
type BudgetStatus struct {
	// Name identifies the budget ("Groceries").
	Name string

	// Limit is the budgeted amount for the period.
	Limit decimal.Decimal

	// Spent is the amount consumed so far.
	Spent decimal.Decimal
}

// LoanStatus is an upcoming loan payment.
type LoanStatus struct {
	// Name identifies the loan ("Car loan").
	Name string

	// PaymentAmount is the next installment.
	PaymentAmount decimal.Decimal

	// DueInDays is days until the installment is due.
	DueInDays int
}

// CheckBudgets dispatches reminders for budgets that are over or
// approaching their limit.
//
// # Description
//
// Over-limit budgets get a sticky (require-interaction) notification;
// budgets past 80% of their limit get a plain reminder. Tags are
// per-budget so repeated checks replace rather than stack.
//
// # Outputs
//
//   - int: Number of notifications dispatched.
func (s *Service) CheckBudgets(budgets []BudgetStatus) int {
	dispatched := 0
	for _, b := range budgets {
		if b.Limit.IsZero() {
			continue
		}
		ratio := b.Spent.Div(b.Limit)
		switch {
		case ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
			over := b.Spent.Sub(b.Limit)
			s.Dispatch(Notification{
				Title:              fmt.Sprintf("Budget exceeded: %s", b.Name),
				Body:               fmt.Sprintf("You are %s over your %s limit.", over.StringFixed(2), b.Limit.StringFixed(2)),
				Tag:                "budget-" + b.Name,
				RequireInteraction: true,
			})
			dispatched++
		case ratio.GreaterThanOrEqual(warnThreshold):
			pct := ratio.Mul(decimal.NewFromInt(100)).Round(0)
			s.Dispatch(Notification{
				Title: fmt.Sprintf("Budget at %s%%: %s", pct, b.Name),
				Body:  fmt.Sprintf("%s of %s spent.", b.Spent.StringFixed(2), b.Limit.StringFixed(2)),
				Tag:   "budget-" + b.Name,
			})
			dispatched++
		}
	}
	return dispatched
}

// CheckLoanPayments dispatches reminders for installments due within
// the given horizon.
func (s *Service) CheckLoanPayments(loans []LoanStatus, horizonDays int) int {
	dispatched := 0
	for _, l := range loans {
		if l.DueInDays < 0 || l.DueInDays > horizonDays {
			continue
		}
		body := fmt.Sprintf("Payment of %s due in %d days.", l.PaymentAmount.StringFixed(2), l.DueInDays)
		if l.DueInDays == 0 {
			body = fmt.Sprintf("Payment of %s due today.", l.PaymentAmount.StringFixed(2))
		}
		s.Dispatch(Notification{
			Title:              fmt.Sprintf("Loan payment: %s", l.Name),
			Body:               body,
			Tag:                "loan-" + l.Name,
			RequireInteraction: l.DueInDays == 0,
		})
		dispatched++
	}
	return dispatched
}
