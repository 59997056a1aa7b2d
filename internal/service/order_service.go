// Package service implements the operations the engine exposes to its
// collaborators: order execution, dividend distribution, funding
// reconciliation, commission settlement, and instrument administration. All
// multi-entity writes run inside a single transaction via domain.TxRunner.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// OrderConfig carries the tunable trading constants.
type OrderConfig struct {
	// DefaultFeePercent applies when an instrument does not set its own fee.
	DefaultFeePercent decimal.Decimal
	// DirectRate / IndirectRate are the referral commission percents
	// credited on buys (tier 1 and tier 2).
	DirectRate   decimal.Decimal
	IndirectRate decimal.Decimal
	// ImpactCoefficient scales relative order size into momentum.
	ImpactCoefficient decimal.Decimal
	// ReferenceVolume is the impact denominator for instruments without a
	// supply cap.
	ReferenceVolume decimal.Decimal
	// RatePerSec bounds PlaceOrder calls per account; zero disables the
	// limiter.
	RatePerSec int
}

// OrderService executes orders against the current quoted price and settles
// them atomically across account balance, holding, instrument supply,
// ledger, and commission accruals.
type OrderService struct {
	stores  domain.Stores
	tx      domain.TxRunner
	limiter domain.RateLimiter
	cfg     OrderConfig
	logger  *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
// limiter may be nil (no rate limiting).
func NewOrderService(stores domain.Stores, tx domain.TxRunner, limiter domain.RateLimiter, cfg OrderConfig, logger *slog.Logger) *OrderService {
	return &OrderService{
		stores:  stores,
		tx:      tx,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// PlaceOrder validates and fills an order at the instrument's current quote.
// Every precondition failure is a typed rejection with no balance effect; a
// version conflict against a concurrent tick or fill is recomputed once
// against fresh state before surfacing ErrConflict.
func (s *OrderService) PlaceOrder(ctx context.Context, accountID, instrumentID string, side domain.OrderSide, quantity decimal.Decimal) (domain.Order, error) {
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return domain.Order{}, fmt.Errorf("order_service: unknown side %q", side)
	}
	if !quantity.IsPositive() {
		return domain.Order{}, domain.ErrQuantityTooSmall
	}

	if s.limiter != nil && s.cfg.RatePerSec > 0 {
		allowed, err := s.limiter.Allow(ctx, "orders:"+accountID, s.cfg.RatePerSec, time.Second)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.Order{}, domain.ErrRateLimited
		}
	}

	order, err := s.execute(ctx, accountID, instrumentID, side, quantity)
	if errors.Is(err, domain.ErrConflict) {
		order, err = s.execute(ctx, accountID, instrumentID, side, quantity)
	}
	if err != nil {
		s.recordRejection(ctx, accountID, instrumentID, side, quantity, err)
		return domain.Order{}, err
	}

	s.logger.Info("order filled",
		slog.String("order", order.ID),
		slog.String("account", accountID),
		slog.String("instrument", instrumentID),
		slog.String("side", string(side)),
		slog.String("quantity", quantity.String()),
		slog.String("price", order.FillPrice.String()),
	)
	return order, nil
}

// execute runs one settlement attempt inside a single transaction.
func (s *OrderService) execute(ctx context.Context, accountID, instrumentID string, side domain.OrderSide, quantity decimal.Decimal) (domain.Order, error) {
	var order domain.Order

	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		account, err := st.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Disabled() {
			return domain.ErrAccountDisabled
		}

		inst, err := st.Instruments.GetByID(ctx, instrumentID)
		if err != nil {
			return err
		}
		if !inst.Active {
			return domain.ErrInstrumentInactive
		}
		if quantity.LessThan(inst.MinOrderQty) {
			return domain.ErrQuantityTooSmall
		}

		price := inst.QuotedPrice
		if err := checkCircuitBreaker(inst, side); err != nil {
			return err
		}

		holding, err := st.Holdings.GetOpen(ctx, accountID, instrumentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		hasHolding := err == nil

		switch side {
		case domain.OrderSideBuy:
			if inst.MaxBuyQty.IsPositive() && quantity.GreaterThan(inst.MaxBuyQty) {
				return domain.ErrQuantityTooLarge
			}
			if remaining, limited := inst.RemainingSupply(); limited && quantity.GreaterThan(remaining) {
				return domain.ErrSupplyExhausted
			}
			if limit, ok := account.PositionLimit(instrumentID); ok {
				post := quantity
				if hasHolding {
					post = post.Add(holding.Quantity)
				}
				if post.GreaterThan(limit) {
					return domain.ErrPositionLimit
				}
			}
		case domain.OrderSideSell:
			if inst.MaxSellQty.IsPositive() && quantity.GreaterThan(inst.MaxSellQty) {
				return domain.ErrQuantityTooLarge
			}
			if !hasHolding || quantity.GreaterThan(holding.Quantity) {
				return domain.ErrInsufficientHolding
			}
		}

		gross := domain.RoundMoney(quantity.Mul(price))
		fee := domain.RoundMoney(domain.PercentOf(gross, s.feePercent(inst)))

		now := time.Now().UTC()
		order = domain.Order{
			ID:           uuid.New().String(),
			AccountID:    accountID,
			InstrumentID: instrumentID,
			Side:         side,
			Quantity:     quantity,
			FillPrice:    price,
			GrossAmount:  gross,
			Fee:          fee,
			Status:       domain.OrderStatusFilled,
			CreatedAt:    now,
		}

		if side == domain.OrderSideBuy {
			order.NetAmount = gross.Add(fee).Neg()
		} else {
			order.NetAmount = gross.Sub(fee)
			order.RealizedPnL = domain.RoundMoney(quantity.Mul(price.Sub(holding.WeightedAvgCost)))
		}

		updated, err := st.Accounts.AdjustBalances(ctx, accountID, order.NetAmount, domain.Zero, domain.Zero)
		if err != nil {
			return err
		}

		if err := s.settleHolding(ctx, st, inst, holding, hasHolding, order, now); err != nil {
			return err
		}
		if err := s.applyMarketImpact(ctx, st, inst, side, quantity); err != nil {
			return err
		}
		if err := st.Orders.Create(ctx, order); err != nil {
			return err
		}

		entry := domain.LedgerEntry{
			ID:           uuid.New().String(),
			AccountID:    accountID,
			Kind:         domain.LedgerKindTrade,
			Amount:       order.NetAmount,
			BalanceAfter: updated.AvailableBalance.Add(updated.FrozenBalance),
			Description:  fmt.Sprintf("%s %s x %s @ %s", side, inst.Symbol, quantity, price),
			RefID:        &order.ID,
			RefKind:      "order",
			CreatedAt:    now,
		}
		if err := st.Ledger.Append(ctx, entry); err != nil {
			return err
		}

		if side == domain.OrderSideBuy {
			if err := s.cascadeCommissions(ctx, st, account, order, now); err != nil {
				return err
			}
		}
		return nil
	})

	return order, err
}

// checkCircuitBreaker rejects intent past the daily clamp: buys at limit-up
// and sells at limit-down cannot fill.
func checkCircuitBreaker(inst domain.Instrument, side domain.OrderSide) error {
	low, high := inst.LimitBounds()
	if side == domain.OrderSideBuy && inst.QuotedPrice.GreaterThanOrEqual(high) {
		return domain.ErrPriceLimited
	}
	if side == domain.OrderSideSell && inst.QuotedPrice.LessThanOrEqual(low) {
		return domain.ErrPriceLimited
	}
	return nil
}

// settleHolding applies the fill to the position: weighted-average cost on
// buys, quantity reduction and close-out on sells, and the informational
// take-profit/stop-loss status gate afterwards.
func (s *OrderService) settleHolding(ctx context.Context, st domain.Stores, inst domain.Instrument, holding domain.Holding, hasHolding bool, order domain.Order, now time.Time) error {
	price := order.FillPrice

	if order.Side == domain.OrderSideBuy {
		if !hasHolding {
			holding = domain.Holding{
				ID:              uuid.New().String(),
				AccountID:       order.AccountID,
				InstrumentID:    order.InstrumentID,
				Quantity:        order.Quantity,
				WeightedAvgCost: price,
				LastMarkPrice:   price,
				Status:          domain.HoldingStatusActive,
				CreatedAt:       now,
			}
			holding.UnrealizedPnL = holding.MarkedPnL(price)
			holding.Status = stopStatus(inst, holding, price)
			return st.Holdings.Create(ctx, holding)
		}

		holding.WeightedAvgCost = domain.WeightedAvg(holding.Quantity, holding.WeightedAvgCost, order.Quantity, price)
		holding.Quantity = holding.Quantity.Add(order.Quantity)
	} else {
		holding.Quantity = holding.Quantity.Sub(order.Quantity)
		if holding.Quantity.IsZero() {
			holding.Status = domain.HoldingStatusClosed
			closedAt := now
			holding.ClosedAt = &closedAt
			holding.LastMarkPrice = price
			holding.UnrealizedPnL = domain.Zero
			return st.Holdings.Update(ctx, holding)
		}
	}

	holding.LastMarkPrice = price
	holding.UnrealizedPnL = holding.MarkedPnL(price)
	holding.Status = stopStatus(inst, holding, price)
	return st.Holdings.Update(ctx, holding)
}

// stopStatus evaluates the take-profit/stop-loss gate relative to weighted
// average cost. It never closes the holding; reporting consumes the status.
func stopStatus(inst domain.Instrument, h domain.Holding, mark decimal.Decimal) domain.HoldingStatus {
	if h.WeightedAvgCost.IsZero() {
		return domain.HoldingStatusActive
	}
	movePct := mark.Sub(h.WeightedAvgCost).Div(h.WeightedAvgCost).Mul(domain.Hundred)
	if inst.TakeProfitPercent.IsPositive() && movePct.GreaterThanOrEqual(inst.TakeProfitPercent) {
		return domain.HoldingStatusStoppedProfit
	}
	if inst.StopLossPercent.IsPositive() && movePct.LessThanOrEqual(inst.StopLossPercent.Neg()) {
		return domain.HoldingStatusStoppedLoss
	}
	return domain.HoldingStatusActive
}

// applyMarketImpact nudges momentum and sold supply for subsequent orders.
// The fill itself prints at the pre-impact quote; the pressure bleeds into
// the price over the next ticks.
func (s *OrderService) applyMarketImpact(ctx context.Context, st domain.Stores, inst domain.Instrument, side domain.OrderSide, quantity decimal.Decimal) error {
	reference := s.cfg.ReferenceVolume
	if inst.IsSupplyLimited && inst.TotalSupply.IsPositive() {
		reference = inst.TotalSupply
	}
	if reference.IsPositive() {
		impactPercent := quantity.Div(reference).Mul(s.cfg.ImpactCoefficient)
		impact := domain.PercentOf(inst.QuotedPrice, impactPercent)
		if side == domain.OrderSideSell {
			impact = impact.Neg()
		}
		inst.Momentum = inst.Momentum.Add(impact)
	}

	if inst.IsSupplyLimited {
		if side == domain.OrderSideBuy {
			inst.SoldSupply = inst.SoldSupply.Add(quantity)
		} else {
			inst.SoldSupply = inst.SoldSupply.Sub(quantity)
		}
		if inst.SoldSupply.IsNegative() || inst.SoldSupply.GreaterThan(inst.TotalSupply) {
			// Precondition checks should make this unreachable; treat it as
			// a consistency violation and abort the whole settlement.
			return fmt.Errorf("order_service: sold supply %s out of [0, %s] for %s",
				inst.SoldSupply, inst.TotalSupply, inst.ID)
		}
	}

	return st.Instruments.UpdateMarketState(ctx, inst)
}

// cascadeCommissions accrues referral commission for the buyer's referrer
// (tier 1) and the referrer's referrer (tier 2), dated to the current day
// and left unsettled for the daily settlement pass.
func (s *OrderService) cascadeCommissions(ctx context.Context, st domain.Stores, buyer domain.Account, order domain.Order, now time.Time) error {
	if buyer.ReferredBy == nil {
		return nil
	}

	rates := []struct {
		tier int
		rate decimal.Decimal
	}{
		{domain.CommissionTierDirect, s.cfg.DirectRate},
		{domain.CommissionTierIndirect, s.cfg.IndirectRate},
	}

	beneficiaryID := *buyer.ReferredBy
	for _, r := range rates {
		beneficiary, err := st.Accounts.GetByID(ctx, beneficiaryID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}

		amount := domain.RoundMoney(domain.PercentOf(order.GrossAmount, r.rate))
		if amount.IsPositive() {
			record := domain.CommissionRecord{
				ID:            uuid.New().String(),
				BeneficiaryID: beneficiary.ID,
				SourceID:      buyer.ID,
				OrderID:       order.ID,
				Tier:          r.tier,
				Amount:        amount,
				DayBucket:     domain.DayBucketOf(now),
				CreatedAt:     now,
			}
			if err := st.Commissions.Create(ctx, record); err != nil {
				return err
			}
		}

		if beneficiary.ReferredBy == nil {
			return nil
		}
		beneficiaryID = *beneficiary.ReferredBy
	}
	return nil
}

// recordRejection persists a rejected order row for audit. Best effort: the
// rejection itself already surfaced to the caller.
func (s *OrderService) recordRejection(ctx context.Context, accountID, instrumentID string, side domain.OrderSide, quantity decimal.Decimal, cause error) {
	if errors.Is(cause, domain.ErrRateLimited) || errors.Is(cause, domain.ErrConflict) {
		return
	}

	rejected := domain.Order{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		InstrumentID: instrumentID,
		Side:         side,
		Quantity:     quantity,
		Status:       domain.OrderStatusRejected,
		Reason:       cause.Error(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.stores.Orders.Create(ctx, rejected); err != nil {
		s.logger.Warn("failed to record rejected order",
			slog.String("account", accountID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) feePercent(inst domain.Instrument) decimal.Decimal {
	if inst.FeePercent.IsPositive() {
		return inst.FeePercent
	}
	return s.cfg.DefaultFeePercent
}
