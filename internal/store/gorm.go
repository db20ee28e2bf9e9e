package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"checkout-service/internal/cart"
	"checkout-service/internal/model"
	"checkout-service/internal/reconcile"
)

// Gorm is the PostgreSQL-backed store.
type Gorm struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL. SQL logging is silenced; the store logs its
// own mutations through slog.
func Open(dsn string, log *slog.Logger) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewGorm(db, log), nil
}

// NewGorm wraps an existing connection.
func NewGorm(db *gorm.DB, log *slog.Logger) *Gorm {
	if log == nil {
		log = slog.Default()
	}
	return &Gorm{db: db, logger: log}
}

// Migrate creates or updates every table.
func (s *Gorm) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

// Ping checks connectivity for the readiness check.
func (s *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Gorm) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction, rolling back when it returns an error.
func (s *Gorm) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// === CartStore ===

func ownerScope(owner model.Owner) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if owner.UserID != "" {
			return db.Where("user_id = ?", owner.UserID)
		}
		return db.Where("browser_guid = ?", owner.BrowserGUID)
	}
}

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func findCart(db *gorm.DB, owner model.Owner) (*CartRecord, error) {
	var rec CartRecord
	err := db.Scopes(ownerScope(owner)).
		Preload("Items", byPosition).
		Order("updated_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Load implements CartStore.
func (s *Gorm) Load(ctx context.Context, owner model.Owner) (*model.CartState, error) {
	if owner.IsZero() {
		return cart.New(), nil
	}
	rec, err := findCart(s.db.WithContext(ctx), owner)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cart.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	return rec.toModel(), nil
}

// Save implements CartStore. The cart row is upserted, then item rows are
// reconciled against c.Items in the same transaction.
func (s *Gorm) Save(ctx context.Context, owner model.Owner, c *model.CartState) error {
	if owner.IsZero() {
		return model.NewValidationError("owner", "user or browser id required")
	}

	var diff *reconcile.ItemDiff
	err := s.WithTx(ctx, func(tx *gorm.DB) error {
		rec, err := findCart(tx.Clauses(clause.Locking{Strength: "UPDATE"}), owner)
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if isNew {
			rec = newCartRecord(owner)
		} else if err != nil {
			return err
		}

		rec.setState(c)
		write := tx.Omit(clause.Associations)
		if isNew {
			err = write.Create(rec).Error
		} else {
			err = write.Save(rec).Error
		}
		if err != nil {
			return fmt.Errorf("saving cart row: %w", err)
		}

		current := make([]reconcile.CurrentItem, len(rec.Items))
		for i, row := range rec.Items {
			current[i] = reconcile.CurrentItem{RowID: row.ID, Position: row.Position, Item: row.toModel()}
		}
		diff = reconcile.DiffItems(current, c.Items)

		// Remove → Update → Create
		if len(diff.ToRemove) > 0 {
			ids := make([]uint, len(diff.ToRemove))
			for i, r := range diff.ToRemove {
				ids[i] = r.RowID
			}
			if err := tx.Delete(&CartItemRecord{}, ids).Error; err != nil {
				return fmt.Errorf("removing cart items: %w", err)
			}
		}
		for _, u := range diff.ToUpdate {
			row := itemRecord(rec.ID, u.Position, u.Item)
			err := tx.Model(&CartItemRecord{ID: u.RowID}).
				Select("*").
				Omit("id", "cart_id", "created_at", "deleted_at").
				Updates(&row).Error
			if err != nil {
				return fmt.Errorf("updating cart item %d: %w", u.RowID, err)
			}
		}
		if len(diff.ToCreate) > 0 {
			rows := make([]CartItemRecord, len(diff.ToCreate))
			for i, cr := range diff.ToCreate {
				rows[i] = itemRecord(rec.ID, cr.Position, cr.Item)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("creating cart items: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving cart: %w", err)
	}

	s.logger.Debug("cart saved",
		"owner", owner.CacheKey(),
		"created", len(diff.ToCreate),
		"updated", len(diff.ToUpdate),
		"removed", len(diff.ToRemove),
	)
	return nil
}

// === Catalog ===

// Products implements Catalog.
func (s *Gorm) Products(ctx context.Context, permalinks []string) (map[string]*model.Product, error) {
	out := make(map[string]*model.Product, len(permalinks))
	if len(permalinks) == 0 {
		return out, nil
	}

	var recs []ProductRecord
	err := s.db.WithContext(ctx).
		Preload("Options", byPosition).
		Preload("Options.Upsell").
		Preload("CrossSells", byPosition).
		Where("permalink IN ?", permalinks).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	for i := range recs {
		out[recs[i].Permalink] = recs[i].toModel()
	}
	return out, nil
}

// OfferCodes implements Catalog.
func (s *Gorm) OfferCodes(ctx context.Context, codes []string) ([]model.OfferCode, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	upper := make([]string, len(codes))
	for i, c := range codes {
		upper[i] = strings.ToUpper(c)
	}

	var recs []OfferCodeRecord
	if err := s.db.WithContext(ctx).Where("UPPER(code) IN ?", upper).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("loading offer codes: %w", err)
	}
	out := make([]model.OfferCode, len(recs))
	for i := range recs {
		out[i] = recs[i].toModel()
	}
	return out, nil
}

// PPP implements Catalog.
func (s *Gorm) PPP(ctx context.Context, country string) (*model.PPPDetails, error) {
	if country == "" {
		return nil, nil
	}
	var rec PPPFactorRecord
	err := s.db.WithContext(ctx).Where("country = ?", strings.ToUpper(country)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading ppp factor: %w", err)
	}
	return &model.PPPDetails{Country: rec.Country, Factor: rec.Factor}, nil
}

// === Purchases ===

// Purchase implements Purchases.
func (s *Gorm) Purchase(ctx context.Context, id string) (*model.Purchase, error) {
	var rec PurchaseRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.NewNotFoundError("purchase")
	}
	if err != nil {
		return nil, fmt.Errorf("loading purchase: %w", err)
	}
	return rec.toModel(), nil
}
