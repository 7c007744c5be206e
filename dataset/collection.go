// Package dataset provides an in-process partitioned collection and the
// scatter/gather primitives the optimizers need from a distributed runtime:
// running a function once per partition and combining the results.
package dataset

import (
	"github.com/cockroachdb/errors"
)

// Partition is a disjoint slice of a collection processed by one task.
// Records can only be iterated; there is no random access.
type Partition[T any] interface {
	Index() int
	Len() int
	ForEach(fn func(item T) error) error
}

// Collection is a logically unordered, partitioned set of records
type Collection[T any] interface {
	NumPartitions() int
	Partition(i int) Partition[T]
}

// InMemory is a Collection backed by one slice per partition
type InMemory[T any] struct {
	parts []*memPartition[T]
}

type memPartition[T any] struct {
	index int
	items []T
}

func (p *memPartition[T]) Index() int {
	return p.index
}

func (p *memPartition[T]) Len() int {
	return len(p.items)
}

func (p *memPartition[T]) ForEach(fn func(item T) error) error {
	for _, item := range p.items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// Parallelize splits items into numPartitions contiguous partitions of
// near-equal size. Partitions may be empty when there are fewer items than
// partitions.
func Parallelize[T any](items []T, numPartitions int) (*InMemory[T], error) {
	if numPartitions <= 0 {
		return nil, errors.Newf("number of partitions must be positive, got %d", numPartitions)
	}

	n := len(items)
	parts := make([][]T, numPartitions)
	for i := 0; i < numPartitions; i++ {
		start := i * n / numPartitions
		end := (i + 1) * n / numPartitions
		parts[i] = items[start:end:end]
	}
	return FromPartitions(parts), nil
}

// FromPartitions wraps pre-split partitions. The slices are retained, not
// copied, and must not be modified afterwards.
func FromPartitions[T any](parts [][]T) *InMemory[T] {
	c := &InMemory[T]{parts: make([]*memPartition[T], len(parts))}
	for i, items := range parts {
		c.parts[i] = &memPartition[T]{index: i, items: items}
	}
	return c
}

// NumPartitions returns the partition count
func (c *InMemory[T]) NumPartitions() int {
	return len(c.parts)
}

// Partition returns partition i
func (c *InMemory[T]) Partition(i int) Partition[T] {
	return c.parts[i]
}

// Count returns the total number of records
func (c *InMemory[T]) Count() int {
	total := 0
	for _, p := range c.parts {
		total += len(p.items)
	}
	return total
}

// Collect concatenates all partitions in partition order.
func (c *InMemory[T]) Collect() []T {
	out := make([]T, 0, c.Count())
	for _, p := range c.parts {
		out = append(out, p.items...)
	}
	return out
}

// Count returns the number of records in any collection
func Count[T any](c Collection[T]) int {
	total := 0
	for i := 0; i < c.NumPartitions(); i++ {
		total += c.Partition(i).Len()
	}
	return total
}
