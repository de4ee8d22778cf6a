package inventory

import (
	"context"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateProductRequest holds the fields of a new product
type CreateProductRequest struct {
	Code              string           `json:"code" binding:"required,max=50"`
	Name              string           `json:"name" binding:"required,max=200"`
	Unit              string           `json:"unit" binding:"omitempty,max=20"`
	UnitCost          *decimal.Decimal `json:"unit_cost" binding:"omitempty,gte=0"`
	UnitPrice         *decimal.Decimal `json:"unit_price" binding:"omitempty,gte=0"`
	MinimumStockLevel *decimal.Decimal `json:"minimum_stock_level" binding:"omitempty,gte=0"`
	BatchSize         *decimal.Decimal `json:"batch_size" binding:"omitempty,gt=0"`
}

// UpdateProductRequest changes the given fields; nil fields are left alone
type UpdateProductRequest struct {
	Name              *string          `json:"name" binding:"omitempty,max=200"`
	Unit              *string          `json:"unit" binding:"omitempty,max=20"`
	UnitCost          *decimal.Decimal `json:"unit_cost" binding:"omitempty,gte=0"`
	UnitPrice         *decimal.Decimal `json:"unit_price" binding:"omitempty,gte=0"`
	MinimumStockLevel *decimal.Decimal `json:"minimum_stock_level" binding:"omitempty,gte=0"`
	BatchSize         *decimal.Decimal `json:"batch_size" binding:"omitempty,gt=0"`
	Active            *bool            `json:"active"`
}

// ProductService manages the product catalog
type ProductService struct {
	scope TransactionScope
	clock shared.Clock
}

// NewProductService creates a ProductService
func NewProductService(scope TransactionScope, clock shared.Clock) *ProductService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &ProductService{scope: scope, clock: clock}
}

// Create adds a product with a unique code
func (s *ProductService) Create(ctx context.Context, req CreateProductRequest) (*inventory.Product, error) {
	now := s.clock.Now()
	product, err := inventory.NewProduct(req.Code, req.Name, req.Unit, now)
	if err != nil {
		return nil, err
	}
	if err := product.SetPricing(orZero(req.UnitCost), orZero(req.UnitPrice), now); err != nil {
		return nil, err
	}
	if err := product.SetStockPolicy(orZero(req.MinimumStockLevel), orZero(req.BatchSize), now); err != nil {
		return nil, err
	}

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		exists, err := repos.Products().ExistsByCode(ctx, product.Code)
		if err != nil {
			return err
		}
		if exists {
			return shared.ErrAlreadyExists.WithMessage("product with code %s already exists", product.Code)
		}
		return repos.Products().Save(ctx, product)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// Update changes product fields. The unit is fixed once any stock movement
// references the product.
func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req UpdateProductRequest) (*inventory.Product, error) {
	var product *inventory.Product
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock.Now()
		if err := repos.Products().LockForUpdate(ctx, []uuid.UUID{id}); err != nil {
			return err
		}
		p, err := repos.Products().FindByID(ctx, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			if err := p.Rename(*req.Name, now); err != nil {
				return err
			}
		}
		if req.Unit != nil && *req.Unit != p.Unit {
			moved, err := repos.StockMovements().HasMovements(ctx, id)
			if err != nil {
				return err
			}
			if moved {
				return shared.ErrInvalidState.WithMessage("unit of product %s cannot change after stock has moved", p.Code)
			}
			if err := p.ChangeUnit(*req.Unit, now); err != nil {
				return err
			}
		}
		if req.UnitCost != nil || req.UnitPrice != nil {
			if err := p.SetPricing(orDefault(req.UnitCost, p.UnitCost), orDefault(req.UnitPrice, p.UnitPrice), now); err != nil {
				return err
			}
		}
		if req.MinimumStockLevel != nil || req.BatchSize != nil {
			if err := p.SetStockPolicy(orDefault(req.MinimumStockLevel, p.MinimumStockLevel), orDefault(req.BatchSize, p.BatchSize), now); err != nil {
				return err
			}
		}
		if req.Active != nil {
			p.SetActive(*req.Active, now)
		}

		product = p
		return repos.Products().Save(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// Get returns one product
func (s *ProductService) Get(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	var product *inventory.Product
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		product, err = repos.Products().FindByID(ctx, id)
		return err
	})
	return product, err
}

// ResolveProduct maps a product id or product code to the product id
func (s *ProductService) ResolveProduct(ctx context.Context, ref string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var (
			product *inventory.Product
			err     error
		)
		if parsed, perr := uuid.Parse(ref); perr == nil {
			product, err = repos.Products().FindByID(ctx, parsed)
		} else {
			product, err = repos.Products().FindByCode(ctx, ref)
		}
		if err != nil {
			return err
		}
		id = product.ID
		return nil
	})
	return id, err
}

// List returns a page of products and the total count
func (s *ProductService) List(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, int64, error) {
	var (
		products []inventory.Product
		total    int64
	)
	filter.Filter = filter.Filter.Normalize()
	err := s.scope.Snapshot(ctx, func(repos TransactionalRepositories) error {
		var err error
		products, total, err = repos.Products().FindAll(ctx, filter)
		return err
	})
	return products, total, err
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	return orDefault(d, decimal.Zero)
}

func orDefault(d *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if d == nil {
		return def
	}
	return *d
}
