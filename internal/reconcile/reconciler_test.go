package reconcile

import (
	"testing"
	"time"

	"github.com/nwalia/rentdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoice(id int64, status string, amountCents int64, due string) models.Invoice {
	dueDate, _ := time.Parse("2006-01-02", due)
	return models.Invoice{
		ID:          id,
		UnitID:      1,
		TenancyID:   1,
		Status:      status,
		AmountCents: amountCents,
		PeriodMonth: due[:7],
		DueDate:     dueDate,
	}
}

func TestSelectInvoice(t *testing.T) {
	invoices := []models.Invoice{
		invoice(1, models.InvoiceStatusPaid, 95000, "2026-05-01"),
		invoice(2, models.InvoiceStatusOverdue, 95000, "2026-06-01"),
		invoice(3, models.InvoiceStatusOpen, 95000, "2026-07-01"),
		invoice(4, models.InvoiceStatusOpen, 120000, "2026-07-01"),
		invoice(5, models.InvoiceStatusVoid, 95000, "2026-04-01"),
	}

	t.Run("oldest due date wins on exact amount", func(t *testing.T) {
		got := SelectInvoice(invoices, 95000)
		require.NotNil(t, got)
		assert.Equal(t, int64(2), got.ID)
	})

	t.Run("paid and void are never candidates", func(t *testing.T) {
		got := SelectInvoice([]models.Invoice{
			invoice(1, models.InvoiceStatusPaid, 95000, "2026-05-01"),
			invoice(5, models.InvoiceStatusVoid, 95000, "2026-04-01"),
		}, 95000)
		assert.Nil(t, got)
	})

	t.Run("no partial matching", func(t *testing.T) {
		assert.Nil(t, SelectInvoice(invoices, 94000))
		assert.Nil(t, SelectInvoice(invoices, 96000))
	})

	t.Run("empty invoice list", func(t *testing.T) {
		assert.Nil(t, SelectInvoice(nil, 95000))
	})
}

func TestPendingInvoices(t *testing.T) {
	invoices := []models.Invoice{
		invoice(1, models.InvoiceStatusPaid, 95000, "2026-05-01"),
		invoice(2, models.InvoiceStatusOverdue, 95000, "2026-06-01"),
		invoice(3, models.InvoiceStatusOpen, 120000, "2026-07-01"),
		invoice(4, models.InvoiceStatusVoid, 95000, "2026-04-01"),
	}

	pending := PendingInvoices(invoices)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(2), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)
}
