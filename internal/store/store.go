// internal/store/store.go
package store

// KV is the key-value capability the engine persists its collections
// through. Durable implementations survive restarts; volatile ones are
// cleared on startup. Collections (rule list, retry buffer, action log)
// are stored as whole JSON values under a single key and read-modify-
// written as a unit, so concurrent writers of the same key race under
// last-writer-wins.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys returns every key with the given prefix.
	Keys(prefix string) ([]string, error)
}
