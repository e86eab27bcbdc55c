// internal/costing/engine.go
package costing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pressline/internal/apperror"
	"pressline/internal/bom"
	"pressline/internal/catalog"
	"pressline/internal/pricing"
	"pressline/internal/units"
)

// Catalog is the part of the item catalog the engine reads.
type Catalog interface {
	bom.ChildFinder
	GetItem(ctx context.Context, id int64) (*catalog.Item, error)
	GetItems(ctx context.Context, ids []int64) (map[int64]*catalog.Item, error)
	InputVersion(ctx context.Context) (int64, error)
}

const batchConcurrency = 4

// engine implements the Service interface.
type engine struct {
	catalog  Catalog
	prices   pricing.Provider
	db       *sql.DB
	cache    Cache
	cacheTTL time.Duration
	maxDepth int
	now      func() time.Time
	logger   logrus.FieldLogger
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// Option configures an engine.
type Option func(*engine)

// WithCache enables result caching keyed by period, root and cost input version.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(e *engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithSnapshots makes each rollup read items, edges and prices from one
// read-only REPEATABLE READ transaction on db instead of the injected
// catalog and provider.
func WithSnapshots(db *sql.DB) Option {
	return func(e *engine) { e.db = db }
}

func WithMaxDepth(depth int) Option {
	return func(e *engine) { e.maxDepth = depth }
}

func WithClock(now func() time.Time) Option {
	return func(e *engine) { e.now = now }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *engine) { e.logger = logger }
}

// NewEngine creates a cost rollup engine.
func NewEngine(cat Catalog, prices pricing.Provider, opts ...Option) Service {
	e := &engine{
		catalog:  cat,
		prices:   prices,
		maxDepth: bom.DefaultMaxDepth,
		now:      time.Now,
		logger:   logrus.StandardLogger(),
		tracer:   otel.Tracer("pressline/costing"),
	}
	for _, opt := range opts {
		opt(e)
	}

	hist, err := otel.Meter("pressline/costing").Float64Histogram("costing.rollup.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of a single cost rollup"),
	)
	if err == nil {
		e.duration = hist
	}
	return e
}

// view is the catalog and price state a single rollup reads from.
type view struct {
	catalog Catalog
	prices  pricing.Provider
	close   func()
}

func (e *engine) open(ctx context.Context) (*view, error) {
	if e.db == nil {
		return &view{catalog: e.catalog, prices: e.prices, close: func() {}}, nil
	}
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	return &view{
		catalog: catalog.NewService(tx),
		prices:  pricing.NewProvider(tx),
		close:   func() { tx.Rollback() },
	}, nil
}

// ComputeCost explodes the BOM of rootID and rolls material cost up from its leaves.
func (e *engine) ComputeCost(ctx context.Context, rootID int64, period pricing.Period) (*CostBreakdown, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if period == "" {
		period = pricing.CurrentPeriod(e.now())
	}

	ctx, span := e.tracer.Start(ctx, "costing.compute_cost",
		trace.WithAttributes(
			attribute.Int64("root.id", rootID),
			attribute.String("period", period.String()),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if e.duration != nil {
			e.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
		}
	}()

	v, err := e.open(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer v.close()

	var key string
	if e.cache != nil {
		// The version is read from the same snapshot as the rollup, so a
		// cached result is never filed under a newer version than it saw.
		if version, err := v.catalog.InputVersion(ctx); err != nil {
			e.logger.WithError(err).Warn("cost input version unavailable, cache bypassed")
		} else {
			key = cacheKey(period, rootID, version)
			if cached, ok, err := e.cache.Get(ctx, key); err != nil {
				e.logger.WithError(err).WithField("key", key).Warn("cost cache read failed")
			} else if ok {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return cached, nil
			}
		}
	}

	breakdown, err := e.rollup(ctx, v, rootID, period)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if key != "" {
		if err := e.cache.Set(ctx, key, breakdown, e.cacheTTL); err != nil {
			e.logger.WithError(err).WithField("key", key).Warn("cost cache write failed")
		}
	}
	return breakdown, nil
}

// ComputeCosts rolls up several roots. A failure for one root is reported in
// its own Result and does not affect the others. Roots still queued when ctx
// ends report ctx.Err().
func (e *engine) ComputeCosts(ctx context.Context, rootIDs []int64, period pricing.Period) []Result {
	if period == "" {
		period = pricing.CurrentPeriod(e.now())
	}

	results := make([]Result, len(rootIDs))
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup

	for i, id := range rootIDs {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{ItemID: id, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			b, err := e.ComputeCost(ctx, id, period)
			results[i] = Result{ItemID: id, Breakdown: b, Err: err}
		}(i, id)
	}
	wg.Wait()
	return results
}

type itemCost struct {
	material    decimal.Decimal
	scrapCredit decimal.Decimal
	net         decimal.Decimal
	basis       pricing.Basis
	pieceWeight *decimal.Decimal
}

func (e *engine) rollup(ctx context.Context, v *view, rootID int64, period pricing.Period) (*CostBreakdown, error) {
	root, err := v.catalog.GetItem(ctx, rootID)
	if err != nil {
		return nil, err
	}

	graph, err := bom.Load(ctx, rootID, v.catalog, e.maxDepth)
	if err != nil {
		return nil, err
	}

	breakdown := &CostBreakdown{
		ItemID:            rootID,
		Period:            period,
		HasBOM:            graph.HasBOM(),
		MaterialCost:      decimal.Zero,
		ScrapRevenue:      decimal.Zero,
		ExcessScrapCredit: decimal.Zero,
		NetCost:           decimal.Zero,
		TotalCost:         decimal.Zero,
		Lines:             []Line{},
	}
	if !graph.HasBOM() {
		return breakdown, nil
	}

	ids := graph.Items()
	items, err := v.catalog.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load bom items of %d: %w", rootID, err)
	}
	items[rootID] = root

	var leaves []int64
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return nil, apperror.NotFound("품목", id)
		}
		if graph.IsLeaf(id) {
			leaves = append(leaves, id)
		}
	}

	prices, err := v.prices.GetPrices(ctx, leaves, period)
	if err != nil {
		return nil, fmt.Errorf("load prices of %d for %s: %w", rootID, period, err)
	}

	costs := make(map[int64]*itemCost, len(ids))
	err = graph.Walk(func(id int64, children []bom.Child) error {
		item := items[id]
		c := &itemCost{scrapCredit: item.ScrapCredit()}

		if len(children) == 0 {
			material, basis, weight, err := leafCost(item, prices[id], period)
			if err != nil {
				return err
			}
			c.material, c.basis, c.pieceWeight = material, basis, weight
		} else {
			c.material = decimal.Zero
			for _, child := range children {
				c.material = c.material.Add(child.QuantityRequired.Mul(costs[child.ItemID].net))
			}
		}

		c.net = c.material.Sub(c.scrapCredit)
		if c.net.IsNegative() {
			c.net = decimal.Zero
		}
		costs[id] = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	rc := costs[rootID]
	breakdown.MaterialCost = money(rc.material)
	breakdown.ScrapRevenue = money(rc.scrapCredit)
	breakdown.NetCost = money(rc.net)
	breakdown.TotalCost = breakdown.NetCost
	if excess := rc.scrapCredit.Sub(rc.material); excess.IsPositive() {
		breakdown.ExcessScrapCredit = money(excess)
	}
	breakdown.Lines = explode(graph, items, costs)
	return breakdown, nil
}

// leafCost resolves the unit cost of a purchased item from its price snapshot.
func leafCost(item *catalog.Item, price *pricing.Price, period pricing.Period) (decimal.Decimal, pricing.Basis, *decimal.Decimal, error) {
	if price == nil {
		return decimal.Zero, "", nil, apperror.MissingPrice(item.ID, period.String())
	}

	if price.PricePerKg == nil {
		return *price.UnitPrice, pricing.BasisUnit, nil, nil
	}

	geometry, ok := item.Geometry()
	if !ok {
		// A per-kg price without geometry cannot be turned into a piece price.
		return decimal.Zero, "", nil, apperror.MissingPrice(item.ID, period.String())
	}
	weight, err := units.GeometryWeight(geometry)
	if err != nil {
		return decimal.Zero, "", nil, err
	}
	piece := units.PiecePrice(price.PricePerKg, weight)
	return decimal.NewFromInt(*piece), pricing.BasisKg, &weight, nil
}

// explode lists every edge of the graph once. QuantityPerRoot is what one
// root unit consumes of the child through that edge, summed over every path
// that reaches the parent, so shared sub-assemblies never multiply lines.
func explode(graph *bom.Graph, items map[int64]*catalog.Item, costs map[int64]*itemCost) []Line {
	edges := graph.Edges()
	perRoot := map[int64]decimal.Decimal{graph.Root(): decimal.NewFromInt(1)}
	lines := make([]Line, 0, len(edges))

	// Edges come parents first, so perRoot[parent] is complete when read.
	for _, edge := range edges {
		c := costs[edge.ChildID]
		qty := perRoot[edge.ParentID].Mul(edge.QuantityRequired)
		perRoot[edge.ChildID] = perRoot[edge.ChildID].Add(qty)

		lines = append(lines, Line{
			ItemID:           edge.ChildID,
			Code:             items[edge.ChildID].Code,
			ParentID:         edge.ParentID,
			Level:            edge.LevelNo,
			QuantityRequired: edge.QuantityRequired,
			QuantityPerRoot:  qty,
			UnitCost:         money(c.net),
			ExtendedCost:     money(qty.Mul(c.net)),
			ScrapCredit:      money(c.scrapCredit),
			IsLeaf:           graph.IsLeaf(edge.ChildID),
			PriceBasis:       c.basis,
			PieceWeight:      c.pieceWeight,
		})
	}
	return lines
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

func cacheKey(period pricing.Period, rootID, version int64) string {
	return fmt.Sprintf("cost:%s:%d:v%d", period, rootID, version)
}
