package datastore

import (
	"context"
	"fmt"
	"time"
)

const DefaultListLimit = 10

type OrderDetails struct {
	OrderNumber       string         `json:"orderNumber"`
	Status            string         `json:"status"`
	Items             []OrderItem    `json:"items"`
	TotalAmount       float64        `json:"totalAmount"`
	ShippingAddress   map[string]any `json:"shippingAddress"`
	TrackingNumber    *string        `json:"trackingNumber"`
	Carrier           *string        `json:"carrier"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery"`
	ActualDelivery    *time.Time     `json:"actualDelivery"`
	CreatedAt         time.Time      `json:"createdAt"`
}

type DeliveryStatus struct {
	OrderNumber       string     `json:"orderNumber"`
	Status            string     `json:"status"`
	StatusMessage     string     `json:"statusMessage"`
	TrackingNumber    *string    `json:"trackingNumber"`
	Carrier           *string    `json:"carrier"`
	CurrentLocation   string     `json:"currentLocation"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	ActualDelivery    *time.Time `json:"actualDelivery"`
	LastUpdated       time.Time  `json:"lastUpdated"`
}

type OrderSummary struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"orderNumber"`
	Status      string      `json:"status"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"totalAmount"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (s *Store) orderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	order := new(Order)
	if err := s.db.NewSelect().Model(order).Where("o.order_number = ?", orderNumber).Scan(ctx); err != nil {
		return nil, notFound(err, "order %s", orderNumber)
	}
	return order, nil
}

func (s *Store) OrderByNumber(ctx context.Context, orderNumber string) (*OrderDetails, error) {
	order, err := s.orderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{
		OrderNumber:       order.OrderNumber,
		Status:            order.Status,
		Items:             order.Items,
		TotalAmount:       order.TotalAmount,
		ShippingAddress:   order.ShippingAddress,
		TrackingNumber:    order.TrackingNumber,
		Carrier:           order.Carrier,
		EstimatedDelivery: order.EstimatedDelivery,
		ActualDelivery:    order.ActualDelivery,
		CreatedAt:         order.CreatedAt,
	}, nil
}

func (s *Store) DeliveryStatus(ctx context.Context, orderNumber string) (*DeliveryStatus, error) {
	order, err := s.orderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	message, location := describeDelivery(order.Status, order.Carrier)
	return &DeliveryStatus{
		OrderNumber:       order.OrderNumber,
		Status:            order.Status,
		StatusMessage:     message,
		TrackingNumber:    order.TrackingNumber,
		Carrier:           order.Carrier,
		CurrentLocation:   location,
		EstimatedDelivery: order.EstimatedDelivery,
		ActualDelivery:    order.ActualDelivery,
		LastUpdated:       order.UpdatedAt,
	}, nil
}

func (s *Store) UserOrders(ctx context.Context, userID string, limit int) ([]OrderSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var orders []Order
	err := s.db.NewSelect().
		Model(&orders).
		Where("o.user_id = ?", userID).
		Order("o.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore: list orders for %s: %w", userID, err)
	}

	out := make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderSummary{
			ID:          o.ID,
			OrderNumber: o.OrderNumber,
			Status:      o.Status,
			Items:       o.Items,
			TotalAmount: o.TotalAmount,
			CreatedAt:   o.CreatedAt,
			UpdatedAt:   o.UpdatedAt,
		})
	}
	return out, nil
}

// InsertOrder stores a new order, filling id and timestamps when unset.
func (s *Store) InsertOrder(ctx context.Context, order *Order) error {
	if order.ID == "" {
		order.ID = newID()
	}
	now := s.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.NewInsert().Model(order).Exec(ctx); err != nil {
		return fmt.Errorf("datastore: insert order %s: %w", order.OrderNumber, err)
	}
	return nil
}

func describeDelivery(status string, carrier *string) (message, location string) {
	switch status {
	case "pending":
		return "Order is being prepared", "Warehouse - Processing Center"
	case "processing":
		return "Order is being packed", "Warehouse - Packing Area"
	case "shipped":
		name := "courier"
		if carrier != nil && *carrier != "" {
			name = *carrier
		}
		return "Package is in transit with " + name, "In Transit - Regional Hub"
	case "delivered":
		return "Package has been delivered", "Delivered to Customer"
	case "cancelled":
		return "Order has been cancelled", "N/A"
	default:
		return "Status unknown", "Unknown"
	}
}
