package analysis

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/signals"
)

// replaceTrendlineSignals deletes the stock's existing descending-trendline
// and pullback rows and inserts emissions in their place: that subset's
// signal set is fully re-derivable from the current series, so a stale row
// left behind by a changed lower-high sequence would otherwise never get
// cleaned up. approaching_breakout emissions are excluded from emissions
// here and upserted instead (see models.TrendlineDeleteSet).
func (a *Analyzer) replaceTrendlineSignals(ctx context.Context, stock models.Stock, emissions []signals.Emission) error {
	tx, err := a.conn.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM signals WHERE stock_id = $1 AND strategy_name = ANY($2)`,
		stock.ID, models.TrendlineDeleteSet); err != nil {
		return err
	}

	for _, e := range emissions {
		detailsJSON, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		returnPct := computeReturnPercent(stock.CurrentPrice, e.SignalPrice)
		if _, err := tx.Exec(ctx, `
			INSERT INTO signals (stock_id, signal_date, strategy_name, signal_type, signal_price,
				current_price, return_percent, details, is_active, analyzed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())`,
			stock.ID, e.SignalDate, e.StrategyName, e.SignalType, e.SignalPrice,
			stock.CurrentPrice, returnPct, detailsJSON); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// upsertSignals writes MA-family and approaching_breakout emissions with
// update-or-insert semantics: MA signals are point-in-time crossing events,
// so a blind delete-then-reinsert would discard ones the current window no
// longer recomputes, and approaching_breakout rows carry a confirmation flag
// that a delete would wipe.
func (a *Analyzer) upsertSignals(ctx context.Context, stock models.Stock, emissions []signals.Emission) error {
	for _, e := range emissions {
		detailsJSON, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		returnPct := computeReturnPercent(stock.CurrentPrice, e.SignalPrice)
		_, err = data.ExecWithRetry(ctx, a.conn.DB, `
			INSERT INTO signals (stock_id, signal_date, strategy_name, signal_type, signal_price,
				current_price, return_percent, details, is_active, analyzed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())
			ON CONFLICT (stock_id, signal_date, strategy_name) DO UPDATE
			SET current_price = EXCLUDED.current_price, return_percent = EXCLUDED.return_percent, updated_at = now()`,
			stock.ID, e.SignalDate, e.StrategyName, e.SignalType, e.SignalPrice,
			stock.CurrentPrice, returnPct, detailsJSON)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) updateSignalDetails(ctx context.Context, id int64, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = data.ExecWithRetry(ctx, a.conn.DB,
		`UPDATE signals SET details = $1, updated_at = now() WHERE id = $2`, detailsJSON, id)
	return err
}

func computeReturnPercent(currentPrice decimal.NullDecimal, signalPrice decimal.Decimal) decimal.NullDecimal {
	if !currentPrice.Valid || signalPrice.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := currentPrice.Decimal.Sub(signalPrice).Div(signalPrice).Mul(decimal.NewFromInt(100))
	return decimal.NullDecimal{Decimal: pct, Valid: true}
}

func decodeDetails(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
