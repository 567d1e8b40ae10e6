package reconcile

import (
	"github.com/nwalia/rentdesk/internal/models"
)

// SelectInvoice picks the single outstanding invoice a payment should settle:
// exact amount match only, oldest due date first. E-transfers carry no period
// reference, so the oldest unpaid invoice of the right amount wins.
//
// Returns nil when no open or overdue invoice matches the amount exactly;
// partial and overpayments go to manual review instead.
func SelectInvoice(invoices []models.Invoice, amountCents int64) *models.Invoice {
	var selected *models.Invoice

	for i := range invoices {
		inv := &invoices[i]
		if inv.Status != models.InvoiceStatusOpen && inv.Status != models.InvoiceStatusOverdue {
			continue
		}
		if inv.AmountCents != amountCents {
			continue
		}
		if selected == nil || inv.DueDate.Before(selected.DueDate) {
			selected = inv
		}
	}

	return selected
}

// PendingInvoices filters to the open or overdue subset, used to surface a
// tenant's outstanding invoices when an amount mismatch needs human review.
func PendingInvoices(invoices []models.Invoice) []models.Invoice {
	pending := make([]models.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Status == models.InvoiceStatusOpen || inv.Status == models.InvoiceStatusOverdue {
			pending = append(pending, inv)
		}
	}
	return pending
}
