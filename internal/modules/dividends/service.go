package dividends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// Tax tiers for cash dividends under the CN holding-period rules.
var (
	taxRateShortHold  = decimal.NewFromFloat(0.20) // held one month or less
	taxRateMediumHold = decimal.NewFromFloat(0.10) // held one year or less
)

// dayFormat is the layout of trading-day strings.
const dayFormat = "2006-01-02"

// Service runs the pre-open dividend liquidation passes. The three
// passes are split so declarations, taxes and cash flows land as
// separate scheduler jobs, mirroring their different failure domains.
type Service struct {
	users      domain.UserStore
	positions  domain.PositionStore
	statements domain.StatementStore
	dividends  domain.DividendStore
	userCache  domain.UserCache
	posCache   domain.PositionCache
	log        zerolog.Logger
}

// NewService creates a dividend liquidation service.
func NewService(
	users domain.UserStore,
	positions domain.PositionStore,
	statements domain.StatementStore,
	dividends domain.DividendStore,
	userCache domain.UserCache,
	posCache domain.PositionCache,
	log zerolog.Logger,
) *Service {
	return &Service{
		users:      users,
		positions:  positions,
		statements: statements,
		dividends:  dividends,
		userCache:  userCache,
		posCache:   posCache,
		log:        log.With().Str("component", "dividend_service").Logger(),
	}
}

// LiquidateDividend writes one dividend statement per held position whose
// security goes ex today. Volume carries the share effect (bonus shares),
// amount the pre-tax cash effect; costs are zero. The statements are
// applied to accounts later by LiquidateDividendFlow.
func (s *Service) LiquidateDividend(ctx context.Context, day string) error {
	declarations, err := s.dividends.ListByExDate(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to load declarations for %s: %w", day, err)
	}
	if len(declarations) == 0 {
		return nil
	}

	byStock := make(map[string]*domain.DividendDeclaration, len(declarations))
	for i := range declarations {
		d := &declarations[i]
		byStock[domain.FormatStockCode(d.Symbol, d.Exchange)] = d
	}

	positions, err := s.positions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}

	written := 0
	for i := range positions {
		p := &positions[i]
		d, ok := byStock[p.StockCode()]
		if !ok || p.Volume == 0 {
			continue
		}

		volume := decimal.NewFromInt(p.Volume)
		statement := &domain.Statement{
			ID:            domain.NewEntrustID(),
			EntrustID:     domain.NewEntrustID(),
			User:          p.User,
			Symbol:        p.Symbol,
			Exchange:      p.Exchange,
			TradeCategory: domain.TradeCategoryDividend,
			Volume:        d.BonusRatio.Mul(volume).IntPart(),
			SoldPrice:     decimal.Zero,
			Amount:        d.CashPerShare.Mul(volume),
			Costs:         domain.ZeroCosts(),
			DealTime:      time.Now(),
		}
		if err := s.statements.Create(ctx, statement); err != nil {
			s.log.Error().Err(err).
				Str("user", p.User).
				Str("stock", p.StockCode()).
				Msg("Failed to write dividend statement")
			continue
		}
		written++
	}

	s.log.Info().Str("day", day).Int("statements", written).Msg("Dividend liquidation done")
	return nil
}

// LiquidateDividendFlow applies today's dividend statements to accounts:
// cash and assets grow by the dividend amount, bonus shares are added to
// the position and the cost basis moves to the ex-rights price
// (cost - cashPerShare) / (1 + bonusRatio).
func (s *Service) LiquidateDividendFlow(ctx context.Context, day string) error {
	stmts, err := s.statements.List(ctx, domain.StatementQuery{
		Categories: []domain.TradeCategory{domain.TradeCategoryDividend},
		StartDate:  day,
		EndDate:    day,
	})
	if err != nil {
		return fmt.Errorf("failed to load dividend statements for %s: %w", day, err)
	}

	declarations, err := s.dividends.ListByExDate(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to load declarations for %s: %w", day, err)
	}
	byStock := make(map[string]*domain.DividendDeclaration, len(declarations))
	for i := range declarations {
		d := &declarations[i]
		byStock[domain.FormatStockCode(d.Symbol, d.Exchange)] = d
	}

	for i := range stmts {
		stmt := &stmts[i]
		d := byStock[domain.FormatStockCode(stmt.Symbol, stmt.Exchange)]
		if d == nil {
			s.log.Warn().
				Str("entrust_id", stmt.EntrustID).
				Msg("Dividend statement without declaration, skipping")
			continue
		}
		if err := s.applyDividend(ctx, stmt, d); err != nil {
			s.log.Error().Err(err).
				Str("user", stmt.User).
				Str("stock", domain.FormatStockCode(stmt.Symbol, stmt.Exchange)).
				Msg("Failed to apply dividend flow")
		}
	}
	return nil
}

func (s *Service) applyDividend(ctx context.Context, stmt *domain.Statement, d *domain.DividendDeclaration) error {
	position, err := s.positions.Get(ctx, stmt.User, stmt.Symbol, stmt.Exchange)
	if err != nil {
		return err
	}

	position.Volume += stmt.Volume
	position.AvailableVolume = position.Volume
	position.Cost = position.Cost.Sub(d.CashPerShare).
		Div(decimal.NewFromInt(1).Add(d.BonusRatio))
	position.Profit = position.CurrentPrice.Sub(position.Cost).
		Mul(decimal.NewFromInt(position.Volume))
	if err := s.positions.Update(ctx, position); err != nil {
		return err
	}
	if err := s.posCache.Set(ctx, position); err != nil {
		return err
	}

	return s.adjustUserCash(ctx, stmt.User, stmt.Amount)
}

// LiquidateDividendTax settles the holding-period tax on cash dividends
// for positions reduced by yesterday-or-today sells: 20% when held one
// month or less, 10% up to one year, untaxed beyond. The tax lands as a
// negative statement, is deducted from the account, and when shares
// remain it is spread into the position cost.
func (s *Service) LiquidateDividendTax(ctx context.Context, day string) error {
	sells, err := s.statements.List(ctx, domain.StatementQuery{
		Categories: []domain.TradeCategory{domain.TradeCategorySell},
		StartDate:  day,
		EndDate:    day,
	})
	if err != nil {
		return fmt.Errorf("failed to load sell statements for %s: %w", day, err)
	}

	today, err := time.ParseInLocation(dayFormat, day, time.Local)
	if err != nil {
		return fmt.Errorf("invalid day %q: %w", day, err)
	}

	for i := range sells {
		sell := &sells[i]
		if err := s.taxOneSell(ctx, sell, today); err != nil {
			if errors.Is(err, domain.ErrEntityDoesNotExist) {
				// Position fully exited and liquidated away; the holding
				// history is gone, so the sale escapes the dividend tax.
				continue
			}
			s.log.Error().Err(err).
				Str("entrust_id", sell.EntrustID).
				Msg("Failed to settle dividend tax")
		}
	}
	return nil
}

func (s *Service) taxOneSell(ctx context.Context, sell *domain.Statement, today time.Time) error {
	position, err := s.positions.Get(ctx, sell.User, sell.Symbol, sell.Exchange)
	if err != nil {
		return err
	}

	var rate decimal.Decimal
	switch held := today.Sub(position.FirstBuyDate); {
	case held <= 31*24*time.Hour:
		rate = taxRateShortHold
	case held <= 366*24*time.Hour:
		rate = taxRateMediumHold
	default:
		return nil
	}

	dividends, err := s.statements.List(ctx, domain.StatementQuery{
		UserID:     sell.User,
		Symbol:     sell.Symbol,
		Categories: []domain.TradeCategory{domain.TradeCategoryDividend},
		StartDate:  position.FirstBuyDate.Format(dayFormat),
	})
	if err != nil {
		return err
	}

	received := decimal.Zero
	for i := range dividends {
		received = received.Add(dividends[i].Amount)
	}
	if received.IsZero() {
		return nil
	}

	// Tax only the sold share of the holding.
	soldFraction := decimal.NewFromInt(sell.Volume).
		Div(decimal.NewFromInt(position.Volume + sell.Volume))
	tax := received.Mul(rate).Mul(soldFraction)
	if tax.IsZero() {
		return nil
	}

	statement := &domain.Statement{
		ID:            domain.NewEntrustID(),
		EntrustID:     sell.EntrustID,
		User:          sell.User,
		Symbol:        sell.Symbol,
		Exchange:      sell.Exchange,
		TradeCategory: domain.TradeCategoryTax,
		Volume:        sell.Volume,
		SoldPrice:     sell.SoldPrice,
		Amount:        tax.Neg(),
		Costs:         domain.Costs{Commission: decimal.Zero, Tax: tax, Total: tax},
		DealTime:      time.Now(),
	}
	if err := s.statements.Create(ctx, statement); err != nil {
		return err
	}

	if position.Volume > 0 {
		position.Cost = position.Cost.Add(tax.Div(decimal.NewFromInt(position.Volume)))
		position.Profit = position.CurrentPrice.Sub(position.Cost).
			Mul(decimal.NewFromInt(position.Volume))
		if err := s.positions.Update(ctx, position); err != nil {
			return err
		}
		if err := s.posCache.Set(ctx, position); err != nil {
			return err
		}
	}

	return s.adjustUserCash(ctx, sell.User, tax.Neg())
}

// adjustUserCash applies a signed cash delta to both the durable user row
// and its session projection, keeping availableCash pinned to cash (the
// dividend jobs run outside the session, so nothing is frozen).
func (s *Service) adjustUserCash(ctx context.Context, userID string, delta decimal.Decimal) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	user.Cash = user.Cash.Add(delta)
	user.AvailableCash = user.Cash
	user.Assets = user.Assets.Add(delta)
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	if err := s.userCache.Set(ctx, user); err != nil {
		return err
	}

	s.log.Debug().
		Str("user", userID).
		Str("delta", delta.String()).
		Msg("Dividend cash applied")
	return nil
}
