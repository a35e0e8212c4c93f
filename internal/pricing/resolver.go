// Package pricing resolves the effective unit price of a product for a
// customer and quantity. Resolution is read-only.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Source string

const (
	SourceCustomerPrice Source = "customer_price"
	SourceVolumeTier    Source = "volume_tier"
	SourceLoyaltyTier   Source = "loyalty_tier"
	SourceBasePrice     Source = "base_price"
)

// B2B reports whether the price already carries a negotiated discount, which
// rules out the order-level tier discount.
func (s Source) B2B() bool {
	return s == SourceCustomerPrice || s == SourceVolumeTier
}

// Mode selects which customer price-rule scopes are consulted.
type Mode string

const (
	ModeFull    Mode = "full"    // product, brand, category and global rules
	ModeProduct Mode = "product" // product rules only
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, "":
		return ModeFull, nil
	case ModeProduct:
		return ModeProduct, nil
	}
	return "", fmt.Errorf("unknown price rule scope %q", s)
}

type Result struct {
	ProductID       string           `json:"product_id"`
	Quantity        int              `json:"quantity"`
	UnitPrice       int64            `json:"unit_price"`
	OriginalPrice   int64            `json:"original_price"`
	Source          Source           `json:"source"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	RuleID          string           `json:"rule_id,omitempty"`
}

type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Resolver struct {
	DB       store.Reader
	Cache    Cache
	CacheTTL time.Duration
	Mode     Mode
	Logger   *zap.Logger
	Now      func() time.Time
}

// ResolvePrice prices a single product, going through the cache when one is set.
func (r *Resolver) ResolvePrice(ctx context.Context, productID, customerID string, qty int) (Result, error) {
	if qty <= 0 {
		return Result{}, &domain.ValidationError{Field: "quantity", Reason: "must be positive", Requested: qty}
	}
	if r.Cache != nil {
		res, ok, err := r.Cache.Get(ctx, customerID, productID, qty)
		if err != nil {
			r.logger().Warn("price cache read failed", zap.String("product_id", productID), zap.Error(err))
		} else if ok {
			return res, nil
		}
	}

	out, err := r.ResolveBulk(ctx, r.DB, []Line{{ProductID: productID, Quantity: qty}}, customerID)
	if err != nil {
		return Result{}, err
	}
	res, ok := out[productID]
	if !ok {
		return Result{}, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}

	if r.Cache != nil {
		if err := r.Cache.Set(ctx, customerID, productID, qty, res, r.CacheTTL); err != nil {
			r.logger().Warn("price cache write failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return res, nil
}

// ResolveBulk prices every line with a fixed number of reads on db, whatever
// the number of lines. Unknown products are absent from the result. Repeated
// product ids are priced at their summed quantity.
func (r *Resolver) ResolveBulk(ctx context.Context, db store.Reader, lines []Line, customerID string) (map[string]Result, error) {
	qty := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, seen := qty[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	if len(ids) == 0 {
		return map[string]Result{}, nil
	}

	products, err := db.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, domain.Persistence("load products", err)
	}
	volume, err := db.VolumeTiers(ctx, ids)
	if err != nil {
		return nil, domain.Persistence("load volume tiers", err)
	}

	var (
		rules []domain.PriceRule
		tier  *domain.LoyaltyTier
	)
	if customerID != "" {
		cust, err := db.Customer(ctx, customerID)
		if err != nil {
			return nil, domain.Persistence("load customer", err)
		}
		if cust.TierID != nil {
			tiers, err := db.LoyaltyTiers(ctx)
			if err != nil {
				return nil, domain.Persistence("load loyalty tiers", err)
			}
			for i := range tiers {
				if tiers[i].ID == *cust.TierID {
					tier = &tiers[i]
					break
				}
			}
		}
		rules, err = r.customerRules(ctx, db, customerID, products)
		if err != nil {
			return nil, err
		}
	}

	now := r.now()
	out := make(map[string]Result, len(products))
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			continue
		}
		out[id] = resolve(p, qty[id], rules, volume[id], tier, now)
	}
	return out, nil
}

// customerRules loads the rules for the configured scopes. A store that cannot
// serve the brand/category/global dimensions degrades to product rules.
func (r *Resolver) customerRules(ctx context.Context, db store.Reader, customerID string, products map[string]domain.Product) ([]domain.PriceRule, error) {
	productOnly := store.RuleFilter{}
	full := store.RuleFilter{IncludeGlobal: true}
	brands, cats := map[string]bool{}, map[string]bool{}
	for id, p := range products {
		productOnly.ProductIDs = append(productOnly.ProductIDs, id)
		if p.BrandID != nil && !brands[*p.BrandID] {
			brands[*p.BrandID] = true
			full.BrandIDs = append(full.BrandIDs, *p.BrandID)
		}
		if p.CategoryID != nil && !cats[*p.CategoryID] {
			cats[*p.CategoryID] = true
			full.CategoryIDs = append(full.CategoryIDs, *p.CategoryID)
		}
	}
	sort.Strings(productOnly.ProductIDs)
	full.ProductIDs = productOnly.ProductIDs

	if r.Mode == ModeProduct {
		rules, err := db.CustomerPriceRules(ctx, customerID, productOnly)
		return rules, domain.Persistence("load price rules", err)
	}

	rules, err := fullScopeRules(ctx, db, customerID, full)
	if errors.Is(err, store.ErrUnsupported) {
		r.logger().Warn("price rule hierarchy unavailable, matching by product only",
			zap.String("customer_id", customerID), zap.Error(err))
		rules, err = db.CustomerPriceRules(ctx, customerID, productOnly)
	}
	return rules, domain.Persistence("load price rules", err)
}

// fullScopeRules runs the hierarchy query under a savepoint when db is a
// transaction, so a failure leaves the transaction usable for the fallback.
func fullScopeRules(ctx context.Context, db store.Reader, customerID string, f store.RuleFilter) ([]domain.PriceRule, error) {
	tx, ok := db.(store.Tx)
	if !ok {
		return db.CustomerPriceRules(ctx, customerID, f)
	}
	var rules []domain.PriceRule
	err := tx.Savepoint(ctx, func(sp store.Tx) error {
		var err error
		rules, err = sp.CustomerPriceRules(ctx, customerID, f)
		return err
	})
	return rules, err
}

func resolve(p domain.Product, qty int, rules []domain.PriceRule, tiers []domain.VolumeTier, tier *domain.LoyaltyTier, now time.Time) Result {
	res := Result{
		ProductID:     p.ID,
		Quantity:      qty,
		UnitPrice:     p.BasePrice,
		OriginalPrice: p.BasePrice,
		Source:        SourceBasePrice,
	}

	if rule, ok := bestRule(p, qty, rules, now); ok {
		res.Source = SourceCustomerPrice
		res.RuleID = rule.ID
		if rule.CustomPrice != nil {
			res.UnitPrice = *rule.CustomPrice
		} else {
			pct := rule.DiscountPercent.Decimal
			res.UnitPrice = domain.ApplyPercent(p.BasePrice, pct)
			res.DiscountPercent = &pct
		}
		return res
	}

	if vt, ok := volumeTier(qty, tiers); ok {
		res.Source = SourceVolumeTier
		if vt.UnitPrice != nil {
			res.UnitPrice = *vt.UnitPrice
		} else {
			pct := vt.DiscountPercent.Decimal
			res.UnitPrice = domain.ApplyPercent(p.BasePrice, pct)
			res.DiscountPercent = &pct
		}
		return res
	}

	if tier != nil && tier.DiscountPercent.IsPositive() {
		pct := tier.DiscountPercent
		res.Source = SourceLoyaltyTier
		res.UnitPrice = domain.ApplyPercent(p.BasePrice, pct)
		res.DiscountPercent = &pct
	}
	return res
}

func matches(p domain.Product, r domain.PriceRule) bool {
	switch r.Scope() {
	case domain.ScopeProduct:
		return *r.ProductID == p.ID
	case domain.ScopeBrand:
		return p.BrandID != nil && *r.BrandID == *p.BrandID
	case domain.ScopeCategory:
		return p.CategoryID != nil && *r.CategoryID == *p.CategoryID
	default:
		return true
	}
}

// bestRule picks the highest priority eligible rule, then the most specific
// scope, then a custom price over a percentage.
func bestRule(p domain.Product, qty int, rules []domain.PriceRule, now time.Time) (domain.PriceRule, bool) {
	var (
		best  domain.PriceRule
		found bool
	)
	for _, r := range rules {
		if !matches(p, r) || !r.ValidAt(now) || qty < r.MinQuantity {
			continue
		}
		if r.CustomPrice == nil && !r.DiscountPercent.Valid {
			continue
		}
		if !found || ruleBefore(r, best) {
			best, found = r, true
		}
	}
	return best, found
}

func ruleBefore(a, b domain.PriceRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Scope() != b.Scope() {
		return a.Scope() > b.Scope()
	}
	if (a.CustomPrice != nil) != (b.CustomPrice != nil) {
		return a.CustomPrice != nil
	}
	return a.ID < b.ID
}

func volumeTier(qty int, tiers []domain.VolumeTier) (domain.VolumeTier, bool) {
	var (
		best  domain.VolumeTier
		found bool
	)
	for _, vt := range tiers {
		if !vt.Contains(qty) || (vt.UnitPrice == nil && !vt.DiscountPercent.Valid) {
			continue
		}
		if !found || vt.MinQuantity > best.MinQuantity {
			best, found = vt, true
		}
	}
	return best, found
}

// Invalidate drops cached prices for a customer, a product, or both.
func (r *Resolver) Invalidate(ctx context.Context, customerID, productID string) error {
	if r.Cache == nil {
		return nil
	}
	return r.Cache.Invalidate(ctx, customerID, productID)
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
