package inventory

import (
	"context"

	"github.com/erp/stockledger/internal/domain/inventory"
)

// TransactionScope provides transactional access to the ledger repositories.
// Every repository handed to fn shares one database transaction, committed when fn
// returns nil and rolled back otherwise.
type TransactionScope interface {
	// Execute runs fn in a read-write transaction
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
	// Snapshot runs fn in a read-only transaction that sees one consistent state
	Snapshot(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the ledger store inside one transaction
type TransactionalRepositories interface {
	Products() inventory.ProductRepository
	Documents() inventory.DocumentRepository
	Batches() inventory.BatchRepository
	BatchMovements() inventory.BatchMovementRepository
	StockMovements() inventory.StockMovementRepository
	CashTransactions() inventory.CashTransactionRepository
	// Tx returns the underlying transaction handle for the outbox event saver,
	// or nil when there is none.
	Tx() any
}

// NoOpTransactionScope runs functions directly against the given repositories.
// Used by tests that substitute in-memory repositories.
type NoOpTransactionScope struct {
	products         inventory.ProductRepository
	documents        inventory.DocumentRepository
	batches          inventory.BatchRepository
	batchMovements   inventory.BatchMovementRepository
	stockMovements   inventory.StockMovementRepository
	cashTransactions inventory.CashTransactionRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories
func NewNoOpTransactionScope(
	products inventory.ProductRepository,
	documents inventory.DocumentRepository,
	batches inventory.BatchRepository,
	batchMovements inventory.BatchMovementRepository,
	stockMovements inventory.StockMovementRepository,
	cashTransactions inventory.CashTransactionRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		products:         products,
		documents:        documents,
		batches:          batches,
		batchMovements:   batchMovements,
		stockMovements:   stockMovements,
		cashTransactions: cashTransactions,
	}
}

// Execute runs fn without a transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// Snapshot runs fn without a transaction
func (s *NoOpTransactionScope) Snapshot(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

func (s *NoOpTransactionScope) Products() inventory.ProductRepository   { return s.products }
func (s *NoOpTransactionScope) Documents() inventory.DocumentRepository { return s.documents }
func (s *NoOpTransactionScope) Batches() inventory.BatchRepository      { return s.batches }
func (s *NoOpTransactionScope) BatchMovements() inventory.BatchMovementRepository {
	return s.batchMovements
}
func (s *NoOpTransactionScope) StockMovements() inventory.StockMovementRepository {
	return s.stockMovements
}
func (s *NoOpTransactionScope) CashTransactions() inventory.CashTransactionRepository {
	return s.cashTransactions
}

// Tx returns nil; there is no transaction to hand to the outbox
func (s *NoOpTransactionScope) Tx() any { return nil }

var (
	_ TransactionScope          = (*NoOpTransactionScope)(nil)
	_ TransactionalRepositories = (*NoOpTransactionScope)(nil)
)
