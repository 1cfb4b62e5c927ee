package watch

import (
	"sync"

	"github.com/google/uuid"
)

// Table tracks which directories are watched on behalf of which owner.
//
// Registrations are tied 1:1 to entity lifecycle: an entity registers
// its directory on creation and releases the returned token on deletion.
// The table is the only component that talks to the Source about
// registrations; nothing queries watch state implicitly.
type Table struct {
	mu sync.Mutex

	source Source

	// tokens maps registration token to directory.
	tokens map[string]string

	// refs counts registrations per directory. The underlying watch is
	// removed only when the last token for a directory is released.
	refs map[string]int
}

// NewTable creates a watch table over the given source.
func NewTable(source Source) *Table {
	return &Table{
		source: source,
		tokens: make(map[string]string),
		refs:   make(map[string]int),
	}
}

// Register starts watching dir and returns an opaque token for release.
func (t *Table) Register(dir string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refs[dir] == 0 {
		if err := t.source.Watch(dir); err != nil {
			return "", err
		}
	}

	token := uuid.NewString()
	t.tokens[token] = dir
	t.refs[dir]++
	return token, nil
}

// Release stops the registration identified by token.
// Releasing an unknown token is a no-op.
func (t *Table) Release(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir, ok := t.tokens[token]
	if !ok {
		return
	}
	delete(t.tokens, token)

	t.refs[dir]--
	if t.refs[dir] <= 0 {
		delete(t.refs, dir)
		_ = t.source.Unwatch(dir)
	}
}

// Registered returns the number of live registrations.
func (t *Table) Registered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}
