package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ESC/POS print mode commands (ESC ! n).
const (
	escNormalSize = "\x1b!\x00"
	escLargeSize  = "\x1b!\x10"
)

const (
	defaultHeading = "配送单"
	separator      = "-----------------------------"
	timeLayout     = "2006-01-02 15:04:05"
)

var ErrMissingOrderNo = errors.New("order number is required")

// Field accepts either a JSON string or a JSON number and keeps its text form.
type Field string

func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Field(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("field must be a string or number: %w", err)
		}
		*f = Field(n.String())
		return nil
	}
}

func (f Field) String() string { return string(f) }

// Order is one delivery order as pushed by the storefront.
type Order struct {
	Merchant       Field `json:"merchant"`
	DayIndex       Field `json:"day_index"`
	OrderNo        Field `json:"orderNo"`
	OrderTime      Field `json:"orderTime"`
	Goods          Field `json:"goods"`
	DeliveryFee    Field `json:"deliveryFee"`
	TotalPrice     Field `json:"totalPrice"`
	ActualPayment  Field `json:"actualPayment"`
	PaymentMethod  Field `json:"paymentMethod"`
	DeliveryStatus Field `json:"delivery_status"`
	Customer       Field `json:"customer"`
	CustomerPhone  Field `json:"customerPhone"`
	Address        Field `json:"address"`
}

func (o *Order) Validate() error {
	if strings.TrimSpace(o.OrderNo.String()) == "" {
		return ErrMissingOrderNo
	}
	return nil
}

// ParseOrders decodes either a single order object or an array of orders.
func ParseOrders(raw []byte) ([]Order, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("no order data")
	}

	var orders []Order
	if raw[0] == '{' {
		var o Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("failed to parse order JSON: %w", err)
		}
		orders = append(orders, o)
	} else if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse order JSON: %w", err)
	}

	for i := range orders {
		if err := orders[i].Validate(); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
	}
	return orders, nil
}

type Option func(*SlipGenerator)

// WithBrand prints a shop name in large type under the heading.
func WithBrand(brand string) Option {
	return func(g *SlipGenerator) { g.brand = brand }
}

func WithHeading(heading string) Option {
	return func(g *SlipGenerator) {
		if heading != "" {
			g.heading = heading
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *SlipGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// SlipGenerator renders orders as ESC/POS delivery slips.
type SlipGenerator struct {
	heading string
	brand   string
	now     func() time.Time
}

func NewSlipGenerator(opts ...Option) *SlipGenerator {
	g := &SlipGenerator{heading: defaultHeading, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *SlipGenerator) Generate(o Order) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "         %s\n", g.heading)
	sb.WriteString(escLargeSize)
	if g.brand != "" {
		sb.WriteString(g.brand + "\n")
		sb.WriteString(strings.Repeat("=", 8) + "\n")
	}
	sb.WriteString(o.Merchant.String() + "\n")
	sb.WriteString(escNormalSize)

	fmt.Fprintf(&sb, "#%s\n\n", o.DayIndex)

	fmt.Fprintf(&sb, "订单号: %s\n", o.OrderNo)
	fmt.Fprintf(&sb, "下单时间: %s\n", shortTime(o.OrderTime.String()))
	for _, item := range splitGoods(o.Goods.String()) {
		fmt.Fprintf(&sb, "  %s\n", item)
	}
	fmt.Fprintf(&sb, "配送费: %s\n", o.DeliveryFee)
	fmt.Fprintf(&sb, "商品总价: ￥%s\n", o.TotalPrice)
	fmt.Fprintf(&sb, "实付金额: ￥%s\n", o.ActualPayment)
	fmt.Fprintf(&sb, "支付方式: %s\n", o.PaymentMethod)
	fmt.Fprintf(&sb, "配送状态: %s\n", o.DeliveryStatus)
	sb.WriteString(separator + "\n")

	fmt.Fprintf(&sb, "顾客信息: %s %s\n", o.Customer, o.CustomerPhone)
	fmt.Fprintf(&sb, "收货地址: %s\n", o.Address)
	fmt.Fprintf(&sb, "打印时间: %s\n", g.now().Format(timeLayout))
	sb.WriteString(separator + "\n\n\n")

	return sb.String()
}

// GenerateAll renders each order as its own slip.
func (g *SlipGenerator) GenerateAll(orders []Order) []string {
	slips := make([]string, 0, len(orders))
	for _, o := range orders {
		slips = append(slips, g.Generate(o))
	}
	return slips
}

// shortTime trims "2006-01-02 15:04:05" to "01-02 15:04".
func shortTime(s string) string {
	r := []rune(s)
	if len(r) < 16 {
		return s
	}
	return string(r[5:16])
}

func splitGoods(goods string) []string {
	if strings.TrimSpace(goods) == "" {
		return nil
	}
	parts := strings.Split(goods, ",")
	items := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}
