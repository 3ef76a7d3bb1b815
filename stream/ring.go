package stream

import (
	"fmt"
	"sync"

	"github.com/ardnew/softuac/pkg"
)

// MinSlots is the smallest ring the governor thresholds are defined for.
const MinSlots = 3

// Buffer is one fixed-capacity ring slot.
type Buffer struct {
	data   []byte // Capacity*WordSize bytes, allocated once
	length int    // Committed length in words
	full   bool   // Committed and not yet consumed
}

// Capacity returns the slot capacity in words.
func (b *Buffer) Capacity() int {
	return len(b.data) / WordSize
}

// Len returns the committed length in words.
func (b *Buffer) Len() int {
	return b.length
}

// Full reports whether the slot holds unconsumed data.
func (b *Buffer) Full() bool {
	return b.full
}

// Ring is a fixed ring of equal-size slots with independent producer and
// consumer cursors. It is safe for concurrent use by one producer and one
// consumer; every cursor and counter update happens under the ring lock.
//
// The occupancy count never leaves [0, Size]. When the producer commits into
// a ring that is already full, the write cursor wraps onto the oldest slot and
// the read cursor is pushed past it, so the ring keeps the newest Size slots.
type Ring struct {
	mutex sync.Mutex

	slots      []Buffer
	slotLength int // Target words per slot for the current session

	write int // Producer cursor
	read  int // Consumer cursor
	count int // Filled-but-unconsumed slots

	overwrites uint64
}

// NewRing allocates a ring of n slots, each able to hold capacity words.
// The target slot length starts at capacity.
func NewRing(n, capacity int) (*Ring, error) {
	if n < MinSlots {
		return nil, fmt.Errorf("ring slots %d < %d: %w", n, MinSlots, pkg.ErrInvalidParameter)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("ring slot capacity %d: %w", capacity, pkg.ErrInvalidParameter)
	}
	r := &Ring{
		slots:      make([]Buffer, n),
		slotLength: capacity,
	}
	for i := range r.slots {
		r.slots[i].data = make([]byte, capacity*WordSize)
	}
	return r, nil
}

// Size returns the number of slots.
func (r *Ring) Size() int {
	return len(r.slots)
}

// Capacity returns the allocated capacity of each slot in words.
func (r *Ring) Capacity() int {
	return len(r.slots[0].data) / WordSize
}

// SlotLength returns the target slot length in words.
func (r *Ring) SlotLength() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.slotLength
}

// SetSlotLength sets the target slot length for the next session.
func (r *Ring) SetSlotLength(words int) error {
	if words < 1 || words > r.Capacity() {
		return fmt.Errorf("slot length %d outside [1, %d]: %w",
			words, r.Capacity(), pkg.ErrInvalidParameter)
	}
	r.mutex.Lock()
	r.slotLength = words
	r.mutex.Unlock()
	return nil
}

// Occupancy returns the number of filled-but-unconsumed slots.
func (r *Ring) Occupancy() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

// Cursors returns the current write and read cursors.
func (r *Ring) Cursors() (write, read int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.write, r.read
}

// Overwrites returns how many commits replaced an unread slot since the
// ring was created.
func (r *Ring) Overwrites() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.overwrites
}

// Slot returns the committed length and fill flag of slot index.
func (r *Ring) Slot(index int) (length int, full bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if index < 0 || index >= len(r.slots) {
		return 0, false
	}
	return r.slots[index].length, r.slots[index].full
}

// AcquireWriteSlot returns the slot the producer should fill next.
func (r *Ring) AcquireWriteSlot() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.write
}

// CommitWriteSlot marks slot index full with length words and advances the
// write cursor. index must be the current write cursor.
//
// If the ring was already full the oldest slot has been overwritten: the read
// cursor advances with the write cursor, the occupancy stays at Size, and
// [pkg.ErrRingFull] is returned. The ring state is consistent either way.
func (r *Ring) CommitWriteSlot(index, length int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if index != r.write {
		return fmt.Errorf("commit slot %d, write cursor %d: %w", index, r.write, pkg.ErrInvalidSlot)
	}
	if length < 0 || length > r.Capacity() {
		return fmt.Errorf("commit length %d: %w", length, pkg.ErrInvalidParameter)
	}

	s := &r.slots[index]
	s.length = length
	s.full = true
	r.write = (r.write + 1) % len(r.slots)

	if r.count == len(r.slots) {
		// write == read here; the newly committed slot replaced the oldest.
		r.read = r.write
		r.overwrites++
		return fmt.Errorf("commit slot %d: %w", index, pkg.ErrRingFull)
	}
	r.count++
	return nil
}

// AcquireReadSlot returns the oldest full slot, or false if the ring is empty.
func (r *Ring) AcquireReadSlot() (int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.count == 0 {
		return -1, false
	}
	return r.read, true
}

// ReleaseReadSlot marks slot index empty and advances the read cursor.
// index must be the current read cursor of a non-empty ring.
func (r *Ring) ReleaseReadSlot(index int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.count == 0 || index != r.read {
		return fmt.Errorf("release slot %d, read cursor %d, occupancy %d: %w",
			index, r.read, r.count, pkg.ErrInvalidSlot)
	}

	r.releaseLocked()
	return nil
}

// Region returns the bytes of slot index covering words [offset,
// offset+words), clamped to the slot capacity. The returned slice aliases
// ring memory and is not guarded by the ring lock, so it must not be used
// while another goroutine reads or writes the ring; use [Ring.CopyIn] and
// [Ring.ReadSlot] there. Returns nil for an invalid index or offset.
func (r *Ring) Region(index, offset, words int) []byte {
	if index < 0 || index >= len(r.slots) || offset < 0 || words < 0 {
		return nil
	}
	capacity := r.Capacity()
	if offset > capacity {
		return nil
	}
	words = min(words, capacity-offset)
	data := r.slots[index].data
	return data[offset*WordSize : (offset+words)*WordSize]
}

// CopyOut copies committed words of slot index, starting at word offset,
// into dst. It returns the number of bytes copied.
func (r *Ring) CopyOut(index, offset int, dst []byte) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if index < 0 || index >= len(r.slots) || offset < 0 {
		return 0
	}
	s := &r.slots[index]
	if offset >= s.length {
		return 0
	}
	return copy(dst, s.data[offset*WordSize:s.length*WordSize])
}

// CopyIn copies src into slot index starting at word offset, clamped to
// the slot capacity. It returns the number of bytes copied. The copy holds
// the ring lock, so a producer writing into the slot a consumer is reading
// on a full ring garbles audio but never races.
func (r *Ring) CopyIn(index, offset int, src []byte) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if index < 0 || index >= len(r.slots) || offset < 0 {
		return 0
	}
	data := r.slots[index].data
	if offset*WordSize >= len(data) {
		return 0
	}
	return copy(data[offset*WordSize:], src)
}

// ReadSlot copies the whole oldest full slot into dst and releases it in
// one step. It returns the bytes copied, or false if the ring is empty.
func (r *Ring) ReadSlot(dst []byte) (int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.count == 0 {
		return 0, false
	}
	s := &r.slots[r.read]
	n := copy(dst, s.data[:s.length*WordSize])
	r.releaseLocked()
	return n, true
}

// ReadPacket copies up to words words of the oldest full slot into dst.
// Reading resumes at word offset if the oldest slot is still index, and
// starts at the beginning of the slot otherwise. The slot is released once
// it cannot supply another packet of words words.
//
// It returns the slot read, the word offset of the next packet in it (zero
// after a release), the bytes copied, and false if the ring is empty.
func (r *Ring) ReadPacket(index, offset, words int, dst []byte) (slot, next, n int, ok bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.count == 0 {
		return -1, 0, 0, false
	}
	slot = r.read
	if slot != index || offset < 0 {
		offset = 0
	}
	s := &r.slots[slot]
	if offset < s.length {
		end := min(offset+words, s.length)
		n = copy(dst, s.data[offset*WordSize:end*WordSize])
	}
	next = offset + words
	if next+words > s.length {
		next = 0
		r.releaseLocked()
	}
	return slot, next, n, true
}

// releaseLocked empties the slot under the read cursor and advances it.
func (r *Ring) releaseLocked() {
	s := &r.slots[r.read]
	s.length = 0
	s.full = false
	r.read = (r.read + 1) % len(r.slots)
	r.count--
}

// Reset clears every slot and zeroes both cursors and the occupancy.
func (r *Ring) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.slots {
		clear(r.slots[i].data)
		r.slots[i].length = 0
		r.slots[i].full = false
	}
	r.write = 0
	r.read = 0
	r.count = 0
}
