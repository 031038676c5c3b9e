package transformer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"imdbetl/internal/transformer/builtin"
)

// Digest accumulates row hashes and produces a content digest of the whole
// table that does not depend on row order. Two loads with the same digest
// wrote the same multiset of rows.
//
// Safe for concurrent Add.
type Digest struct {
	columns []string

	mu   sync.Mutex
	sums [][sha256.Size]byte
}

func NewDigest(columns []string) *Digest {
	return &Digest{columns: columns}
}

// Add hashes one row.
func (d *Digest) Add(values []any) {
	h := builtin.RowHash(d.columns, values)
	d.mu.Lock()
	d.sums = append(d.sums, h)
	d.mu.Unlock()
}

// Count returns the number of rows added.
func (d *Digest) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sums)
}

// Sum returns the lowercase hex SHA-256 over the sorted row hashes.
func (d *Digest) Sum() string {
	d.mu.Lock()
	sums := make([][sha256.Size]byte, len(d.sums))
	copy(sums, d.sums)
	d.mu.Unlock()

	sort.Slice(sums, func(i, j int) bool { return bytes.Compare(sums[i][:], sums[j][:]) < 0 })

	h := sha256.New()
	for i := range sums {
		h.Write(sums[i][:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DigestRows is a convenience for an already collected table.
func DigestRows(columns []string, rows [][]any) string {
	d := NewDigest(columns)
	for _, r := range rows {
		d.Add(r)
	}
	return d.Sum()
}
