package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"optq/internal/logger"
)

// PaperConfig 控制纸面券商的成交行为。
type PaperConfig struct {
	// CommissionPerContract 单张佣金（美元）。
	CommissionPerContract float64 `toml:"commission_per_contract"`
	// SlippagePct 成交价相对限价的滑点比例，买单上滑、卖单下滑。
	SlippagePct float64 `toml:"slippage_pct"`
}

func (c PaperConfig) withDefaults() PaperConfig {
	if c.CommissionPerContract <= 0 {
		c.CommissionPerContract = 0.65
	}
	return c
}

// PaperBroker 是内置的纸面撮合器：立即按限价（含滑点）成交，
// 订单终态留在内存中供状态查询与对账。
// 测试与干跑模式使用；接口行为与真实券商网关保持一致。
type PaperBroker struct {
	cfg PaperConfig

	mu      sync.Mutex
	orders  map[string]Result
	scripts map[string][]scriptedStep
}

type scriptedStep struct {
	result Result
	err    error
}

func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	return &PaperBroker{
		cfg:     cfg.withDefaults(),
		orders:  make(map[string]Result),
		scripts: make(map[string][]scriptedStep),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// ScriptNext 为指定合约预置下一次提交的结果（测试/演练用）。
// 多次调用按 FIFO 消费，耗尽后恢复默认成交行为。
func (p *PaperBroker) ScriptNext(contractSymbol string, result Result, err error) {
	key := strings.ToUpper(strings.TrimSpace(contractSymbol))
	p.mu.Lock()
	p.scripts[key] = append(p.scripts[key], scriptedStep{result: result, err: err})
	p.mu.Unlock()
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, order Order) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if order.Quantity <= 0 {
		return Result{Status: StatusRejected, Reason: "quantity must be positive"}, nil
	}
	if order.LimitPrice <= 0 {
		return Result{Status: StatusRejected, Reason: "limit price must be positive"}, nil
	}

	key := strings.ToUpper(strings.TrimSpace(order.ContractSymbol))
	p.mu.Lock()
	if steps := p.scripts[key]; len(steps) > 0 {
		step := steps[0]
		p.scripts[key] = steps[1:]
		if step.err == nil {
			if step.result.OrderID == "" {
				step.result.OrderID = uuid.NewString()
			}
			p.orders[step.result.OrderID] = step.result
		}
		p.mu.Unlock()
		return step.result, step.err
	}
	p.mu.Unlock()

	fillPrice := order.LimitPrice
	if p.cfg.SlippagePct > 0 {
		switch order.Action {
		case "buy":
			fillPrice *= 1 + p.cfg.SlippagePct
		case "sell":
			fillPrice *= 1 - p.cfg.SlippagePct
		}
	}
	result := Result{
		OrderID:    uuid.NewString(),
		Status:     StatusFilled,
		FillPrice:  fillPrice,
		FilledQty:  order.Quantity,
		Commission: p.cfg.CommissionPerContract * float64(order.Quantity),
	}

	p.mu.Lock()
	p.orders[result.OrderID] = result
	p.mu.Unlock()

	logger.Debugf("paper broker: %s %d x %s @ %.2f filled at %.2f",
		order.Action, order.Quantity, order.ContractSymbol, order.LimitPrice, fillPrice)
	return result, nil
}

func (p *PaperBroker) OrderStatus(ctx context.Context, orderID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.orders[orderID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return res, nil
}

// Resolve 把一笔 pending 订单改写为终态（测试/演练用）。
func (p *PaperBroker) Resolve(orderID string, result Result) {
	result.OrderID = orderID
	p.mu.Lock()
	p.orders[orderID] = result
	p.mu.Unlock()
}

var _ Broker = (*PaperBroker)(nil)
