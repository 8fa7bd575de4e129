package datastore

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	Name      string    `bun:"name" json:"name"`
	Tier      string    `bun:"tier,notnull" json:"tier"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updatedAt"`
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                string         `bun:"id,pk"`
	UserID            string         `bun:"user_id,notnull"`
	OrderNumber       string         `bun:"order_number,unique,notnull"`
	Status            string         `bun:"status,notnull"`
	Items             []OrderItem    `bun:"items,type:jsonb"`
	TotalAmount       float64        `bun:"total_amount,notnull"`
	ShippingAddress   map[string]any `bun:"shipping_address,type:jsonb"`
	TrackingNumber    *string        `bun:"tracking_number"`
	Carrier           *string        `bun:"carrier"`
	EstimatedDelivery *time.Time     `bun:"estimated_delivery"`
	ActualDelivery    *time.Time     `bun:"actual_delivery"`
	CreatedAt         time.Time      `bun:"created_at,notnull"`
	UpdatedAt         time.Time      `bun:"updated_at,notnull"`
}

type Payment struct {
	bun.BaseModel `bun:"table:payments,alias:p"`

	ID            string         `bun:"id,pk"`
	UserID        string         `bun:"user_id,notnull"`
	InvoiceNumber string         `bun:"invoice_number,unique,notnull"`
	Amount        float64        `bun:"amount,notnull"`
	Status        string         `bun:"status,notnull"`
	PaymentMethod *string        `bun:"payment_method"`
	TransactionID *string        `bun:"transaction_id"`
	Description   *string        `bun:"description"`
	InvoiceDate   time.Time      `bun:"invoice_date,notnull"`
	DueDate       *time.Time     `bun:"due_date"`
	PaidDate      *time.Time     `bun:"paid_date"`
	RefundAmount  *float64       `bun:"refund_amount"`
	RefundDate    *time.Time     `bun:"refund_date"`
	RefundReason  *string        `bun:"refund_reason"`
	Metadata      map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull"`
}

type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID        string     `bun:"id,pk" json:"id"`
	UserID    string     `bun:"user_id,notnull" json:"userId"`
	Title     string     `bun:"title,notnull" json:"title"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
	Messages  []*Message `bun:"rel:has-many,join:id=conversation_id" json:"messages"`
}

type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             string         `bun:"id,pk" json:"id"`
	ConversationID string         `bun:"conversation_id,notnull" json:"conversationId"`
	Role           string         `bun:"role,notnull" json:"role"`
	Content        string         `bun:"content,notnull" json:"content"`
	AgentType      string         `bun:"agent_type,nullzero" json:"agentType,omitempty"`
	Reasoning      string         `bun:"reasoning,nullzero" json:"reasoning,omitempty"`
	Metadata       map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time      `bun:"created_at,notnull" json:"createdAt"`
}

type AgentMetric struct {
	bun.BaseModel `bun:"table:agent_metrics,alias:am"`

	ID             string    `bun:"id,pk"`
	AgentType      string    `bun:"agent_type,notnull"`
	SessionID      string    `bun:"session_id"`
	Intent         string    `bun:"intent"`
	Confidence     float64   `bun:"confidence"`
	ResponseTimeMs int64     `bun:"response_time_ms"`
	Successful     bool      `bun:"successful"`
	ErrorMessage   string    `bun:"error_message,nullzero"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

var models = []any{
	(*User)(nil),
	(*Order)(nil),
	(*Payment)(nil),
	(*Conversation)(nil),
	(*Message)(nil),
	(*AgentMetric)(nil),
}
