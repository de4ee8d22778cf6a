// Package models contains the GORM persistence models of the stock ledger.
// Domain types stay free of ORM tags; each model converts with ToDomain and a
// <Name>ModelFromDomain constructor.
//
// Tables:
//   - products
//   - source_documents (every document variant, keyed by kind and id)
//   - stock_batches, batch_movements (the batch ledger)
//   - stock_movements (the product ledger)
//   - cash_transactions
//   - outbox_events
package models
