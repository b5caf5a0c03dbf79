package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"optq/internal/market"
	"optq/internal/signal"
	"optq/internal/types"

	"github.com/stretchr/testify/assert"
)

const catalogYAML = `
strategies:
  long_call:
    description: buy calls on bullish signals
    enabled: true
    defaults:
      entry:
        min_confidence: 0.35
        target_delta: 0.30
        min_delta: 0.20
        max_delta: 0.45
        min_dte: 20
        max_dte: 60
        quantity: 1
      exit:
        profit_target_pct: 0.5
        stop_loss_pct: 0.5
        expiration_window_days: 5
    schema:
      type: object
      properties:
        quantity:
          type: integer
          minimum: 1
          maximum: 10
  cash_secured_put:
    description: sell puts below spot
    enabled: false
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewRegistry_LoadsCatalog(t *testing.T) {
	r, err := NewRegistry(writeCatalog(t, catalogYAML))
	assert.NoError(t, err)
	defer r.Close()

	snap := r.Snapshot()
	assert.EqualValues(t, 1, snap.Version)
	assert.Len(t, snap.Templates, 2)

	tpl, ok := r.Template("long_call")
	assert.True(t, ok)
	assert.True(t, tpl.Enabled)
	assert.InDelta(t, 0.30, tpl.Defaults.Entry.TargetDelta, 1e-9)
	assert.Equal(t, 5, tpl.Defaults.Exit.ExpirationWindowDays)

	assert.True(t, r.Enabled("long_call"))
	assert.False(t, r.Enabled("cash_secured_put"))
	assert.False(t, r.Enabled("long_put")) // 不在目录中
}

func TestNewRegistry_RejectsUnknownKind(t *testing.T) {
	bad := `
strategies:
  iron_condor:
    enabled: true
`
	_, err := NewRegistry(writeCatalog(t, bad))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestNewRegistry_RejectsEmptyCatalog(t *testing.T) {
	_, err := NewRegistry(writeCatalog(t, "strategies: {}\n"))
	assert.Error(t, err)
}

func TestValidateParams(t *testing.T) {
	r, err := NewRegistry(writeCatalog(t, catalogYAML))
	assert.NoError(t, err)
	defer r.Close()

	assert.NoError(t, r.ValidateParams("long_call", map[string]interface{}{"quantity": 2}))
	assert.Error(t, r.ValidateParams("long_call", map[string]interface{}{"quantity": 0}))
	assert.Error(t, r.ValidateParams("long_call", map[string]interface{}{"quantity": "two"}))

	// 无 schema 的目录项放行任意参数。
	assert.NoError(t, r.ValidateParams("cash_secured_put", map[string]interface{}{"anything": true}))

	assert.Error(t, r.ValidateParams("long_put", nil))
}

func TestLookupKind(t *testing.T) {
	k, ok := LookupKind("long_call")
	assert.True(t, ok)
	assert.Equal(t, market.RightCall, k.Right)
	assert.Equal(t, types.TradeActionBuy, k.EntryAction)
	assert.Equal(t, types.TradeActionSell, k.ExitAction())

	k, ok = LookupKind("  Covered_Call ")
	assert.True(t, ok)
	assert.Equal(t, types.TradeActionSell, k.EntryAction)
	assert.Equal(t, types.TradeActionBuy, k.ExitAction())

	_, ok = LookupKind("straddle")
	assert.False(t, ok)
}

func TestKind_MatchesDirection(t *testing.T) {
	longCall, _ := LookupKind(KindLongCall)
	assert.True(t, longCall.MatchesDirection(signal.DirectionBullish))
	assert.False(t, longCall.MatchesDirection(signal.DirectionBearish))
	assert.False(t, longCall.MatchesDirection(signal.DirectionNeutral))

	longPut, _ := LookupKind(KindLongPut)
	assert.True(t, longPut.MatchesDirection(signal.DirectionBearish))
	assert.False(t, longPut.MatchesDirection(signal.DirectionBullish))

	// 卖方策略同样只在方向明确时入场：中性信号对所有策略都不可交易，
	// 方向门槛必须与之一致，不留永远走不到的分支。
	csp, _ := LookupKind(KindCashSecuredPut)
	assert.True(t, csp.MatchesDirection(signal.DirectionBullish))
	assert.False(t, csp.MatchesDirection(signal.DirectionNeutral))

	cc, _ := LookupKind(KindCoveredCall)
	assert.True(t, cc.MatchesDirection(signal.DirectionBullish))
	assert.False(t, cc.MatchesDirection(signal.DirectionNeutral))
}

func TestKind_AllowsContract(t *testing.T) {
	cc, _ := LookupKind(KindCoveredCall)

	otm := market.OptionContract{Right: market.RightCall, Strike: 200}
	itm := market.OptionContract{Right: market.RightCall, Strike: 180}
	put := market.OptionContract{Right: market.RightPut, Strike: 200}

	assert.True(t, cc.AllowsContract(otm, 190))
	assert.False(t, cc.AllowsContract(itm, 190))
	assert.False(t, cc.AllowsContract(put, 190))

	csp, _ := LookupKind(KindCashSecuredPut)
	below := market.OptionContract{Right: market.RightPut, Strike: 180}
	above := market.OptionContract{Right: market.RightPut, Strike: 200}
	assert.True(t, csp.AllowsContract(below, 190))
	assert.False(t, csp.AllowsContract(above, 190))
}

func TestKindIDs(t *testing.T) {
	ids := KindIDs()
	assert.Len(t, ids, 4)
	assert.Contains(t, ids, KindLongCall)
	assert.Contains(t, ids, KindCashSecuredPut)
}
