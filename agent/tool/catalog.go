package tool

import (
	"context"
	"errors"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	"github.com/tanpawarit/relay-support-router/datastore"
)

const defaultLimit = 10

type OrderSource interface {
	OrderByNumber(ctx context.Context, orderNumber string) (*datastore.OrderDetails, error)
	DeliveryStatus(ctx context.Context, orderNumber string) (*datastore.DeliveryStatus, error)
	UserOrders(ctx context.Context, userID string, limit int) ([]datastore.OrderSummary, error)
}

type PaymentSource interface {
	InvoiceByNumber(ctx context.Context, invoiceNumber string) (*datastore.InvoiceDetails, error)
	RefundStatus(ctx context.Context, invoiceNumber, userID string) ([]datastore.RefundStatus, error)
	UserPayments(ctx context.Context, userID string, limit int) ([]datastore.PaymentSummary, error)
}

type ConversationSource interface {
	History(ctx context.Context, conversationID string, limit int) ([]datastore.HistoryEntry, error)
}

// Sources groups the lookups the handler tools execute against.
// *datastore.Store satisfies all three.
type Sources struct {
	Orders        OrderSource
	Payments      PaymentSource
	Conversations ConversationSource
}

func NewSources(store *datastore.Store) Sources {
	return Sources{Orders: store, Payments: store, Conversations: store}
}

// ForHandler returns the tool specs the given handler exposes to the engine.
func ForHandler(t contractx.HandlerType, src Sources) []ToolSpec {
	switch t {
	case contractx.HandlerSupport:
		return supportTools(src)
	case contractx.HandlerOrder:
		return orderTools(src)
	case contractx.HandlerBilling:
		return billingTools(src)
	default:
		return nil
	}
}

func supportTools(src Sources) []ToolSpec {
	return []ToolSpec{
		{
			Name:        "query_conversation_history",
			Description: "Retrieves past conversations to provide context",
			Execute: func(ctx context.Context, args Args) (any, error) {
				if src.Conversations == nil {
					return nil, errors.New("conversation history is unavailable")
				}
				conversationID := args.String("conversationId")
				if conversationID == "" {
					if rc, ok := contractx.RequestContextFrom(ctx); ok {
						conversationID = rc.ConversationID
					}
				}
				if conversationID == "" {
					return nil, errors.New("conversationId is required")
				}
				return src.Conversations.History(ctx, conversationID, args.Int("limit", defaultLimit))
			},
		},
	}
}

func orderTools(src Sources) []ToolSpec {
	orderNumber := []Param{
		{Name: "orderNumber", Kind: KindString, Description: "The order number (e.g., #8829)", Required: true},
	}
	return []ToolSpec{
		{
			Name:        "fetch_order_details",
			Description: "Fetches detailed information about a specific order including items, status, and shipping details",
			Params:      orderNumber,
			Execute: func(ctx context.Context, args Args) (any, error) {
				number, err := args.RequireString("orderNumber")
				if err != nil {
					return nil, err
				}
				return src.Orders.OrderByNumber(ctx, number)
			},
		},
		{
			Name:        "check_delivery_status",
			Description: "Checks the current delivery status, tracking information, and location of an order",
			Params:      orderNumber,
			Execute: func(ctx context.Context, args Args) (any, error) {
				number, err := args.RequireString("orderNumber")
				if err != nil {
					return nil, err
				}
				return src.Orders.DeliveryStatus(ctx, number)
			},
		},
		{
			Name:        "get_user_orders",
			Description: "Retrieves all orders for a specific user with pagination support",
			Params: []Param{
				{Name: "userId", Kind: KindString, Description: "The user ID to fetch orders for", Required: true},
				{Name: "limit", Kind: KindNumber, Description: "Maximum number of orders to return (default: 10)"},
			},
			Execute: func(ctx context.Context, args Args) (any, error) {
				userID, err := userFrom(ctx, args)
				if err != nil {
					return nil, err
				}
				return src.Orders.UserOrders(ctx, userID, args.Int("limit", defaultLimit))
			},
		},
	}
}

func billingTools(src Sources) []ToolSpec {
	return []ToolSpec{
		{
			Name:        "get_invoice_details",
			Description: "Retrieves detailed information about an invoice including amount, status, and items",
			Params: []Param{
				{Name: "invoiceNumber", Kind: KindString, Description: "The invoice number (e.g., INV-2024-001)", Required: true},
			},
			Execute: func(ctx context.Context, args Args) (any, error) {
				number, err := args.RequireString("invoiceNumber")
				if err != nil {
					return nil, err
				}
				return src.Payments.InvoiceByNumber(ctx, number)
			},
		},
		{
			Name:        "check_refund_status",
			Description: "Checks the status of a refund request for an invoice or user",
			Params: []Param{
				{Name: "invoiceNumber", Kind: KindString, Description: "The invoice number to check refund status for (e.g., INV-2024-001)"},
				{Name: "userId", Kind: KindString, Description: "The user ID to check refund status for (if no invoice number provided)"},
			},
			Execute: func(ctx context.Context, args Args) (any, error) {
				invoice := args.String("invoiceNumber")
				userID := args.String("userId")
				if invoice == "" && userID == "" {
					if rc, ok := contractx.RequestContextFrom(ctx); ok {
						userID = rc.UserID
					}
				}
				if invoice == "" && userID == "" {
					return nil, errors.New("invoiceNumber or userId is required")
				}
				return src.Payments.RefundStatus(ctx, invoice, userID)
			},
		},
		{
			Name:        "get_payment_history",
			Description: "Retrieves payment history for a user with pagination support",
			Params: []Param{
				{Name: "userId", Kind: KindString, Description: "The user ID to fetch payment history for", Required: true},
				{Name: "limit", Kind: KindNumber, Description: "Maximum number of payments to return (default: 10)"},
			},
			Execute: func(ctx context.Context, args Args) (any, error) {
				userID, err := userFrom(ctx, args)
				if err != nil {
					return nil, err
				}
				return src.Payments.UserPayments(ctx, userID, args.Int("limit", defaultLimit))
			},
		},
	}
}

// userFrom prefers the model-supplied userId and falls back to the caller.
func userFrom(ctx context.Context, args Args) (string, error) {
	if id := args.String("userId"); id != "" {
		return id, nil
	}
	if rc, ok := contractx.RequestContextFrom(ctx); ok && rc.UserID != "" {
		return rc.UserID, nil
	}
	return "", errors.New("userId is required")
}

// Summaries lists name and description of each spec, in order.
func Summaries(specs []ToolSpec) []contractx.ToolSummary {
	out := make([]contractx.ToolSummary, 0, len(specs))
	for _, s := range specs {
		out = append(out, contractx.ToolSummary{Name: s.Name, Description: s.Description})
	}
	return out
}
