package pool

import "github.com/samber/oops"

// MaxCapacity bounds the number of slots a table may hold. Handles are
// carried as 16-bit values by some transports.
const MaxCapacity = 1 << 16

// PoolConfig configures a slot table
type PoolConfig struct {
	Capacity int // Number of slots, fixed for the life of the table
}

// Validate checks that the capacity is usable.
func (c *PoolConfig) Validate() error {
	if c.Capacity <= 0 || c.Capacity > MaxCapacity {
		return oops.
			Code("INVALID_CAPACITY").
			In("pool").
			With("capacity", c.Capacity).
			With("max_capacity", MaxCapacity).
			Errorf("pool capacity must be between 1 and %d", MaxCapacity)
	}
	return nil
}
