// Bitmap of units claimed by an operation that hasn't finished yet.

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/yepp"
)

type UnitID uint32

// Allocator records which units (clusters, blocks) have been claimed since the
// last Reset. The FAT layer uses it to remember entries it handed out during a
// multi-block operation so they can be released if the operation is abandoned.
type Allocator struct {
	AllocationBitmap bitmap.Bitmap
	TotalUnits       uint
	count            uint
}

// NewAllocator creates a new allocation bitmap with all bits cleared.
func NewAllocator(totalUnits uint) Allocator {
	return Allocator{
		AllocationBitmap: bitmap.New(int(totalUnits)),
		TotalUnits:       totalUnits,
	}
}

func (alloc *Allocator) checkUnit(unit UnitID) error {
	if uint(unit) >= alloc.TotalUnits {
		msg := fmt.Sprintf(
			"invalid unit id: %d not in range [0, %d)",
			unit,
			alloc.TotalUnits)
		return yepp.ErrInternal.WithMessage(msg)
	}
	return nil
}

// Claim marks a unit as taken. Claiming a unit twice is an error.
func (alloc *Allocator) Claim(unit UnitID) error {
	if err := alloc.checkUnit(unit); err != nil {
		return err
	}
	if alloc.AllocationBitmap.Get(int(unit)) {
		msg := fmt.Sprintf("unit %d is already claimed", unit)
		return yepp.ErrInternal.WithMessage(msg)
	}

	alloc.AllocationBitmap.Set(int(unit), true)
	alloc.count++
	return nil
}

// Release clears a claim. Releasing a unit that isn't claimed is an error.
func (alloc *Allocator) Release(unit UnitID) error {
	if err := alloc.checkUnit(unit); err != nil {
		return err
	}
	if !alloc.AllocationBitmap.Get(int(unit)) {
		msg := fmt.Sprintf("unit %d is not claimed", unit)
		return yepp.ErrInternal.WithMessage(msg)
	}

	alloc.AllocationBitmap.Set(int(unit), false)
	alloc.count--
	return nil
}

// IsClaimed reports whether a unit is currently claimed. Out-of-range units are
// never claimed.
func (alloc *Allocator) IsClaimed(unit UnitID) bool {
	if uint(unit) >= alloc.TotalUnits {
		return false
	}
	return alloc.AllocationBitmap.Get(int(unit))
}

// Count returns the number of claimed units.
func (alloc *Allocator) Count() uint {
	return alloc.count
}

// Claimed returns every claimed unit in ascending order.
func (alloc *Allocator) Claimed() []UnitID {
	units := make([]UnitID, 0, alloc.count)
	for i := uint(0); i < alloc.TotalUnits && uint(len(units)) < alloc.count; i++ {
		if alloc.AllocationBitmap.Get(int(i)) {
			units = append(units, UnitID(i))
		}
	}
	return units
}

// Reset drops every claim.
func (alloc *Allocator) Reset() {
	alloc.AllocationBitmap = bitmap.New(int(alloc.TotalUnits))
	alloc.count = 0
}
