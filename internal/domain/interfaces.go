package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// The engines consume stores through these interfaces so the matching
// and settlement logic never binds to a concrete database or cache.

// UserStore is the durable user repository.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
	ListActive(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	BulkUpsert(ctx context.Context, users []User) error
	Terminate(ctx context.Context, id string) error
}

// PositionStore is the durable position repository.
type PositionStore interface {
	Get(ctx context.Context, userID, symbol string, exchange Exchange) (*Position, error)
	ListByUser(ctx context.Context, userID string) ([]Position, error)
	ListAll(ctx context.Context) ([]Position, error)
	Create(ctx context.Context, position *Position) error
	Update(ctx context.Context, position *Position) error
	Delete(ctx context.Context, userID, symbol string, exchange Exchange) error
	// ReplaceForUser upserts the given positions and deletes any stored
	// position of the user not present in them.
	ReplaceForUser(ctx context.Context, userID string, positions []Position) error
}

// OrderStore is the durable order repository.
type OrderStore interface {
	Create(ctx context.Context, order *Order) error
	GetByEntrustID(ctx context.Context, entrustID string) (*Order, error)
	List(ctx context.Context, userID string, statuses []OrderStatus, start, end *time.Time) ([]Order, error)
	ListByDateAndStatus(ctx context.Context, date string, statuses []OrderStatus) ([]Order, error)
	Update(ctx context.Context, order *Order) error
	UpdateStatus(ctx context.Context, entrustID string, status OrderStatus) error
	ClearFrozen(ctx context.Context, entrustID string) error
}

// StatementStore is the durable, append-only statement repository.
type StatementStore interface {
	Create(ctx context.Context, statement *Statement) error
	List(ctx context.Context, q StatementQuery) ([]Statement, error)
	ExistsByEntrustID(ctx context.Context, entrustID string) (bool, error)
}

// StatementQuery filters statement listings. Zero fields match all.
type StatementQuery struct {
	UserID     string
	Symbol     string
	Categories []TradeCategory
	StartDate  string // YYYY-MM-DD inclusive
	EndDate    string // YYYY-MM-DD inclusive
}

// AssetsRecordStore persists the daily per-user assets snapshots.
type AssetsRecordStore interface {
	Upsert(ctx context.Context, record *UserAssetsRecord) error
	ListByUser(ctx context.Context, userID, startDate, endDate string) ([]UserAssetsRecord, error)
}

// DividendStore holds corporate-action declarations.
type DividendStore interface {
	Create(ctx context.Context, declaration *DividendDeclaration) error
	ListByExDate(ctx context.Context, exDate string) ([]DividendDeclaration, error)
	ListBySymbol(ctx context.Context, symbol string, exchange Exchange) ([]DividendDeclaration, error)
}

// UserCache is the fast-store projection of users. During the session it
// is authoritative for availableCash.
type UserCache interface {
	Set(ctx context.Context, user *User) error
	SetMany(ctx context.Context, users []User) error
	GetByID(ctx context.Context, id string) (*User, error)
	All(ctx context.Context) ([]User, error)
	// Update writes only the named json fields of the projection.
	Update(ctx context.Context, user *User, fields ...string) error
	Delete(ctx context.Context, id string) error
	// FreezeCash atomically deducts need from availableCash when the
	// balance suffices, in one read-modify-write.
	FreezeCash(ctx context.Context, id string, need decimal.Decimal) (bool, error)
	// AddAvailableCash atomically adds delta (may be negative) to
	// availableCash so serial-worker updates commute with freezes.
	AddAvailableCash(ctx context.Context, id string, delta decimal.Decimal) error
	// IsReload reads and clears the reload flag.
	IsReload(ctx context.Context) (bool, error)
	SetReload(ctx context.Context) error
}

// PositionCache is the fast-store projection of positions. During the
// session it is authoritative for availableVolume.
type PositionCache interface {
	Set(ctx context.Context, position *Position) error
	SetMany(ctx context.Context, positions []Position) error
	Get(ctx context.Context, userID, symbol string, exchange Exchange) (*Position, error)
	ListByUser(ctx context.Context, userID string) ([]Position, error)
	All(ctx context.Context) ([]Position, error)
	Update(ctx context.Context, position *Position, fields ...string) error
	Delete(ctx context.Context, userID, symbol string, exchange Exchange) error
	DeleteByUser(ctx context.Context, userID string) error
	// FreezeVolume atomically deducts volume from availableVolume when
	// enough shares are sellable.
	FreezeVolume(ctx context.Context, userID, symbol string, exchange Exchange, volume int64) (bool, error)
	AddAvailableVolume(ctx context.Context, userID, symbol string, exchange Exchange, delta int64) error
}

// QuoteProvider delivers level-1..5 ticks by stock code. Implementations
// return ErrEntityDoesNotExist for unknown symbols.
type QuoteProvider interface {
	GetTicks(ctx context.Context, stockCode string) (*Quotes, error)
}
