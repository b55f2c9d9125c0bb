// Package store provides persistence for the wallet and trade data.
//
// It contains concrete implementations of the domain storage interfaces:
//   - The encrypted wallet record on disk (KeyFileStore)
//   - Trades and trade requests in process memory (MemoryTradeStore)
//   - Trades and trade requests in SQLite via gorm (SQLTradeStore)
//
// All stores are safe for concurrent use. Trade updates are conditional on
// the revision the caller read, so concurrent writers never silently
// overwrite each other.
package store
