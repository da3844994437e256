package engine

import (
	"bytes"
	"sort"
	"strings"

	"github.com/pingcap/errors"
)

func mergeFailed(op MergeOperator) error {
	return errors.Errorf("Corruption: merge operator %s failed", op.Name())
}

// CheckOpenColumnFamilies applies the open rules shared by all engines: every existing
// column family must be opened, and requested ones that are missing are only created
// when createMissing is set. It returns the names that have to be created.
func CheckOpenColumnFamilies(existing, requested []string, createMissing bool) ([]string, error) {
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	want := make(map[string]bool, len(requested))
	var missing []string
	for _, name := range requested {
		if want[name] {
			return nil, errors.Errorf("Invalid argument: Duplicate column family name: %s", name)
		}
		want[name] = true
		if !have[name] {
			missing = append(missing, name)
		}
	}
	var notOpened []string
	for _, name := range existing {
		if !want[name] {
			notOpened = append(notOpened, name)
		}
	}
	if len(notOpened) > 0 {
		sort.Strings(notOpened)
		return nil, errors.Errorf("Invalid argument: Column families not opened: %s", strings.Join(notOpened, ", "))
	}
	if len(missing) > 0 && !createMissing {
		return nil, errors.Errorf("Invalid argument: Column family not found: %s", missing[0])
	}
	return missing, nil
}

// OptionsAt returns cfOpts[i] or, when absent, fallback.
func OptionsAt(cfOpts []*Options, i int, fallback *Options) *Options {
	if i < len(cfOpts) && cfOpts[i] != nil {
		return cfOpts[i]
	}
	return fallback
}

// MergeOperatorOf returns the merge operator of the column family options, falling back
// to the database options when the column family has none.
func MergeOperatorOf(cfOpts, dbOpts *Options) MergeOperator {
	if cfOpts != nil && cfOpts.MergeOperator != nil {
		return cfOpts.MergeOperator
	}
	if dbOpts != nil {
		return dbOpts.MergeOperator
	}
	return nil
}

// HasPrefix reports whether key starts with prefix.
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

// BoundedIterator applies ReadOptions.IterateLowerBound and IterateUpperBound on top
// of an engine iterator that does not know about them.
type BoundedIterator struct {
	Iterator
	lower, upper []byte
}

// WithBounds wraps it when ro carries bounds, otherwise returns it unchanged.
func WithBounds(it Iterator, ro *ReadOptions) Iterator {
	if ro == nil || (len(ro.IterateLowerBound) == 0 && len(ro.IterateUpperBound) == 0) {
		return it
	}
	return &BoundedIterator{Iterator: it, lower: ro.IterateLowerBound, upper: ro.IterateUpperBound}
}

func (it *BoundedIterator) SeekToFirst() {
	if len(it.lower) > 0 {
		it.Iterator.Seek(it.lower)
		return
	}
	it.Iterator.SeekToFirst()
}

func (it *BoundedIterator) SeekToLast() {
	if len(it.upper) > 0 {
		it.Iterator.SeekForPrev(it.upper)
		if it.Iterator.Valid() && bytes.Compare(it.Iterator.Key(), it.upper) >= 0 {
			it.Iterator.Prev()
		}
		return
	}
	it.Iterator.SeekToLast()
}

func (it *BoundedIterator) Seek(key []byte) {
	if len(it.lower) > 0 && bytes.Compare(key, it.lower) < 0 {
		key = it.lower
	}
	it.Iterator.Seek(key)
}

func (it *BoundedIterator) SeekForPrev(key []byte) {
	if len(it.upper) > 0 && bytes.Compare(key, it.upper) >= 0 {
		it.SeekToLast()
		return
	}
	it.Iterator.SeekForPrev(key)
}

func (it *BoundedIterator) Valid() bool {
	if !it.Iterator.Valid() {
		return false
	}
	key := it.Iterator.Key()
	if len(it.lower) > 0 && bytes.Compare(key, it.lower) < 0 {
		return false
	}
	if len(it.upper) > 0 && bytes.Compare(key, it.upper) >= 0 {
		return false
	}
	return true
}
