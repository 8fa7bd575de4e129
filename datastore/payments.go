package datastore

import (
	"context"
	"fmt"
	"time"
)

const refundScanLimit = 10

type InvoiceDetails struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	PaymentMethod *string    `json:"paymentMethod"`
	TransactionID *string    `json:"transactionId"`
	Description   *string    `json:"description"`
	InvoiceDate   time.Time  `json:"invoiceDate"`
	DueDate       *time.Time `json:"dueDate"`
	PaidDate      *time.Time `json:"paidDate"`
	RefundAmount  *float64   `json:"refundAmount"`
	RefundDate    *time.Time `json:"refundDate"`
	RefundReason  *string    `json:"refundReason"`
}

type RefundStatus struct {
	InvoiceNumber  string     `json:"invoiceNumber"`
	OriginalAmount float64    `json:"originalAmount"`
	RefundAmount   *float64   `json:"refundAmount"`
	RefundDate     *time.Time `json:"refundDate"`
	RefundReason   *string    `json:"refundReason"`
	Status         string     `json:"status"`
}

type PaymentSummary struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoiceNumber"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	PaymentMethod *string    `json:"paymentMethod"`
	InvoiceDate   time.Time  `json:"invoiceDate"`
	DueDate       *time.Time `json:"dueDate"`
	PaidDate      *time.Time `json:"paidDate"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (s *Store) InvoiceByNumber(ctx context.Context, invoiceNumber string) (*InvoiceDetails, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p := new(Payment)
	if err := s.db.NewSelect().Model(p).Where("p.invoice_number = ?", invoiceNumber).Scan(ctx); err != nil {
		return nil, notFound(err, "invoice %s", invoiceNumber)
	}
	return &InvoiceDetails{
		InvoiceNumber: p.InvoiceNumber,
		Amount:        p.Amount,
		Status:        p.Status,
		PaymentMethod: p.PaymentMethod,
		TransactionID: p.TransactionID,
		Description:   p.Description,
		InvoiceDate:   p.InvoiceDate,
		DueDate:       p.DueDate,
		PaidDate:      p.PaidDate,
		RefundAmount:  p.RefundAmount,
		RefundDate:    p.RefundDate,
		RefundReason:  p.RefundReason,
	}, nil
}

// RefundStatus looks up refunds by invoice number, or else the user's refunded
// payments. Only the 10 most recently updated payments are considered and
// those without a refund amount are dropped.
func (s *Store) RefundStatus(ctx context.Context, invoiceNumber, userID string) ([]RefundStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var payments []Payment
	q := s.db.NewSelect().Model(&payments)
	switch {
	case invoiceNumber != "":
		q = q.Where("p.invoice_number = ?", invoiceNumber)
	case userID != "":
		q = q.Where("p.user_id = ?", userID).Where("p.status = ?", "refunded")
	}
	if err := q.Order("p.updated_at DESC").Limit(refundScanLimit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("datastore: refund status: %w", err)
	}

	out := make([]RefundStatus, 0, len(payments))
	for _, p := range payments {
		if p.RefundAmount == nil {
			continue
		}
		out = append(out, RefundStatus{
			InvoiceNumber:  p.InvoiceNumber,
			OriginalAmount: p.Amount,
			RefundAmount:   p.RefundAmount,
			RefundDate:     p.RefundDate,
			RefundReason:   p.RefundReason,
			Status:         p.Status,
		})
	}
	return out, nil
}

func (s *Store) UserPayments(ctx context.Context, userID string, limit int) ([]PaymentSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var payments []Payment
	err := s.db.NewSelect().
		Model(&payments).
		Where("p.user_id = ?", userID).
		Order("p.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore: list payments for %s: %w", userID, err)
	}

	out := make([]PaymentSummary, 0, len(payments))
	for _, p := range payments {
		out = append(out, PaymentSummary{
			ID:            p.ID,
			InvoiceNumber: p.InvoiceNumber,
			Amount:        p.Amount,
			Status:        p.Status,
			PaymentMethod: p.PaymentMethod,
			InvoiceDate:   p.InvoiceDate,
			DueDate:       p.DueDate,
			PaidDate:      p.PaidDate,
			CreatedAt:     p.CreatedAt,
		})
	}
	return out, nil
}

// InsertPayment stores a new payment, filling id and timestamps when unset.
func (s *Store) InsertPayment(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = newID()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.InvoiceDate.IsZero() {
		p.InvoiceDate = p.CreatedAt
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.NewInsert().Model(p).Exec(ctx); err != nil {
		return fmt.Errorf("datastore: insert payment %s: %w", p.InvoiceNumber, err)
	}
	return nil
}
