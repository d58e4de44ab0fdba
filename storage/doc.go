// Package storage provides pluggable backend interfaces for storage operations.
//
// # Overview
//
// The storage package defines the core Store interface and related abstractions
// for persisting binary data with hierarchical key-value semantics. It provides
// a clean, implementation-agnostic API that backs the relay node's durable offline
// buffer (buffermgr) and stats rollup history (stats), so either can be pointed at
// an in-memory store for tests or a persistent one in production without changing
// caller code.
//
// # Core Concepts
//
// Store Interface:
//
// The Store interface uses a simple key-value pattern where:
//   - Keys are strings (hierarchical paths supported via "/" separators)
//   - Values are binary data ([]byte) - supports any format
//   - Operations are context-aware for cancellation and timeouts
//
// This simplicity lets the store package serialize each row (a BufferedSignal,
// a RelayRecord, a stats bucket) as JSON under a "<table>/<id>" key such as
// "signal_buffer/<id>" without the storage layer knowing anything about signal
// semantics.
//
// # Architecture Decisions
//
// Simple Key-Value Model:
//
// The Store interface intentionally uses a simple key-value model rather than
// richer abstractions like queries, indexes, or transactions. This decision:
//   - Keeps implementations simple and focused
//   - Allows diverse backends (object stores, databases, filesystems, memory)
//   - Pushes complex logic (retry scheduling, TTL expiry) to buffermgr
//   - Enables easy testing with an in-memory implementation
//
// Alternative considered: Query-based interface with filtering
// Rejected because: Too complex, limits backend options; the store package lists
// a table's keys by prefix and filters the decoded rows itself, so it never needs
// a storage-level query.
//
// Hierarchical Keys via "/" Convention:
//
// Keys support hierarchical organization using "/" separators:
//   - "signal_buffer/3f29d8e1-..."
//   - "relay_stats/42"
//
// This convention (not enforced by interface):
//   - Works naturally with object stores (S3, NATS ObjectStore)
//   - Enables prefix-based listing and filtering
//   - Mirrors filesystem-like organization users expect
//
// No Forced Immutability:
//
// The Store interface allows implementations to choose mutability semantics:
//   - Immutable stores (NATS ObjectStore): Put() may append version/timestamp
//   - Mutable stores (S3, SQL, memory): Put() overwrites existing values
//
// Context Everywhere:
//
// All Store operations accept context.Context as the first parameter. This
// enables:
//   - Cancellation of long-running operations
//   - Timeout enforcement per operation
//   - Request-scoped tracing and logging
//   - Graceful shutdown of in-flight requests
//
// # Usage Examples
//
// Basic Store Usage:
//
//	store := storage.NewMemStore() // or a persistent backend
//
//	// Store a buffered signal
//	data, _ := json.Marshal(bufferedSignal)
//	key := "signal_buffer/" + bufferedSignal.ID
//	err := store.Put(ctx, key, data)
//
//	// Retrieve it back
//	raw, err := store.Get(ctx, key)
//
//	// List every buffered row
//	keys, err := store.List(ctx, "signal_buffer/")
//
//	// Remove once delivered
//	err = store.Delete(ctx, key)
//
// # Performance Characteristics
//
// The performance of Store operations depends entirely on the backend implementation:
//
// In-memory (storage.MemStore, the relay node's default):
//   - Put/Get/Delete: O(1) map access under a mutex
//   - List: O(n) scan of keys sharing a prefix
//
// Future persistent backends (NATS ObjectStore, SQL, object storage) should
// document their own Put/Get/List/Delete complexity here as they're added.
//
// Memory:
//
// Store implementations should have bounded memory usage:
//   - Get operations: O(message_size) for returned data
//   - List operations: O(num_matching_keys) for key list
//   - Put operations: O(message_size) during write
//
// # Thread Safety
//
// All Store implementations MUST be safe for concurrent use from multiple
// goroutines. This is a contract requirement of the Store interface, since
// buffermgr's retry pass, the delivery engine's relay records and the stats
// rollup all write to the same store concurrently.
//
// # Error Handling
//
// Store implementations should return errors classified by the framework's
// error package:
//   - errors.WrapInvalid: Invalid keys, malformed input
//   - errors.WrapTransient: Network timeouts, temporary failures
//   - errors.WrapFatal: Programming errors, nil pointers
//
// Callers can distinguish error types for appropriate retry/recovery strategies.
//
// # Testing
//
// The storage package emphasizes testing with real backends:
//   - Use the in-memory implementation for unit tests
//   - Test with race detector enabled
//   - Test context cancellation and timeout behavior
//
// Example test pattern:
//
//	func TestStore_PutGet(t *testing.T) {
//	    store := storage.NewMemStore()
//
//	    data := []byte("test data")
//	    err := store.Put(ctx, "test-key", data)
//	    require.NoError(t, err)
//
//	    retrieved, err := store.Get(ctx, "test-key")
//	    require.NoError(t, err)
//	    assert.Equal(t, data, retrieved)
//	}
//
// # See Also
//
//   - store: maps the relay node's tables onto a Store and is the only reader and writer of it
//   - buffermgr: the durable offline buffer, persisted through store
//   - stats: rollup history, persisted through store
package storage
