package engine

import (
	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
)

// publishValuation derives the wallet's worth in quote terms at the given
// ask and broadcasts it. The first valuation observed becomes the P&L basis.
func (e *Engine) publishValuation(ask decimal.Decimal) {
	if ask.IsZero() {
		return
	}
	e.walletMu.Lock()
	quote := decimal.Zero
	base := decimal.Zero
	if bal, ok := e.balances[e.rules.QuoteAsset]; ok {
		quote = bal.Total()
	}
	if bal, ok := e.balances[e.rules.BaseAsset]; ok {
		base = bal.Total()
	}
	value := quote.Add(base.Mul(ask))
	if e.basis.IsZero() && value.Sign() > 0 {
		e.basis = value
	}
	basis := e.basis
	e.walletMu.Unlock()

	valuation := schema.WalletValuation{
		QuoteValue: value,
		BasisValue: basis,
		At:         e.clock().UTC(),
	}
	if basis.Sign() > 0 {
		valuation.PnLPercent = value.Sub(basis).Div(basis).Mul(decimal.New(100, 0))
	}
	e.bus.Wallet.Publish(valuation)
	if value.Sign() > 0 {
		wallet, _ := value.Float64()
		observability.Telemetry().SetGauge("wallet_quote_value", wallet,
			map[string]string{"symbol": e.rules.Symbol})
	}
}
