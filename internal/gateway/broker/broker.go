package broker

import (
	"context"
	"errors"

	"optq/internal/types"
)

// OrderStatus 是券商对一笔订单的回报状态。
// pending 表示已受理未成交，需要后续轮询确认。
type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusRejected OrderStatus = "rejected"
	StatusPending  OrderStatus = "pending"
)

// Order 是提交给券商的最小订单描述。
// ClientOrderID 由引擎生成，用于重试与对账时幂等定位。
type Order struct {
	ClientOrderID  string            `json:"client_order_id"`
	Symbol         string            `json:"symbol"`
	ContractSymbol string            `json:"contract_symbol"`
	Action         types.TradeAction `json:"action"`
	Quantity       int               `json:"quantity"`
	LimitPrice     float64           `json:"limit_price"`
}

// Result 是一次券商交互的结果。Status 为 rejected 时 Reason 必填。
type Result struct {
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	FillPrice  float64     `json:"fill_price,omitempty"`
	FilledQty  int         `json:"filled_qty,omitempty"`
	Commission float64     `json:"commission,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// 券商错误分类。ErrUnavailable（超时/5xx）可退避重试；
// ErrOrderNotFound 出现在对账查询时说明订单从未被受理。
var (
	ErrUnavailable   = errors.New("broker unavailable")
	ErrOrderNotFound = errors.New("broker order not found")
)

// IsTransient 判断券商错误是否值得退避重试。
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Broker 是订单执行协作方接口，可以是纸面模拟或真实券商。
type Broker interface {
	Name() string

	// PlaceOrder 提交订单。业务性失败（拒单）通过 Result 返回，
	// 只有通信层故障才返回 error。
	PlaceOrder(ctx context.Context, order Order) (Result, error)

	// OrderStatus 查询订单的最新状态，用于 pending 轮询与崩溃后对账。
	OrderStatus(ctx context.Context, orderID string) (Result, error)
}
