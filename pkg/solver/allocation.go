package solver

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/pathdx/cdst-go/pkg/problem"
)

// Allocation is the decision variable: x[a,j,t] test counts stored as a
// contiguous row-major buffer with the test axis innermost. The flat
// layout keeps fitness evaluation cache-friendly; nested maps inflate
// cache misses badly at this access density.
type Allocation struct {
	X     []int
	areas int
	labs  int
	tests int
}

// NewAllocation returns a zeroed tensor shaped for p.
func NewAllocation(p *problem.Problem) *Allocation {
	return &Allocation{
		X:     make([]int, p.NAreas*p.NLabs*p.NTests),
		areas: p.NAreas,
		labs:  p.NLabs,
		tests: p.NTests,
	}
}

// Index returns the flat offset of (a, j, t).
func (al *Allocation) Index(a, j, t int) int {
	return (a*al.labs+j)*al.tests + t
}

// At returns x[a,j,t].
func (al *Allocation) At(a, j, t int) int {
	return al.X[(a*al.labs+j)*al.tests+t]
}

// Set assigns x[a,j,t].
func (al *Allocation) Set(a, j, t, v int) {
	al.X[(a*al.labs+j)*al.tests+t] = v
}

// Add increments x[a,j,t] by delta.
func (al *Allocation) Add(a, j, t, delta int) {
	al.X[(a*al.labs+j)*al.tests+t] += delta
}

// Clone returns a deep copy.
func (al *Allocation) Clone() *Allocation {
	dup := &Allocation{
		X:     make([]int, len(al.X)),
		areas: al.areas,
		labs:  al.labs,
		tests: al.tests,
	}
	copy(dup.X, al.X)
	return dup
}

// Total returns the sum of all cells.
func (al *Allocation) Total() int {
	total := 0
	for _, v := range al.X {
		total += v
	}
	return total
}

// RowSum returns Σ_j x[a,j,t] for one (area, test).
func (al *Allocation) RowSum(a, t int) int {
	sum := 0
	for j := 0; j < al.labs; j++ {
		sum += al.X[(a*al.labs+j)*al.tests+t]
	}
	return sum
}

// Hash returns a 64-bit content hash of the tensor, used as the
// evaluation memo key.
func (al *Allocation) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range al.X {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Equal reports cell-wise equality.
func (al *Allocation) Equal(other *Allocation) bool {
	if len(al.X) != len(other.X) {
		return false
	}
	for i, v := range al.X {
		if v != other.X[i] {
			return false
		}
	}
	return true
}
