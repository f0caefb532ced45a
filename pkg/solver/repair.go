package solver

import (
	"sort"

	"github.com/pathdx/cdst-go/pkg/problem"
)

// Repair restores the allocation invariants after variation: every
// (area, test) row sums to its demand, nothing is assigned to an
// incapable lab, and lab workloads fit inside their capacity envelope.
// Repair is deterministic and idempotent.
func Repair(p *problem.Problem, al *Allocation) {
	repairDemand(p, al)
	repairCapacity(p, al)
}

// repairDemand zeroes incapable assignments and redistributes each row
// to its demand total, proportionally to the surviving cells.
func repairDemand(p *problem.Problem, al *Allocation) {
	for a := 0; a < p.NAreas; a++ {
		for t := 0; t < p.NTests; t++ {
			// Capability invariant first: x > 0 implies capable
			for j := 0; j < p.NLabs; j++ {
				if !p.CapableAt(j, t) && al.At(a, j, t) != 0 {
					al.Set(a, j, t, 0)
				}
				if al.At(a, j, t) < 0 {
					al.Set(a, j, t, 0)
				}
			}

			demand := p.DemandAt(a, t)
			if demand == 0 {
				for j := 0; j < p.NLabs; j++ {
					al.Set(a, j, t, 0)
				}
				continue
			}

			sum := al.RowSum(a, t)
			if sum == demand {
				continue
			}

			capable := p.CapableLabs(t)
			if sum > 0 {
				redistributeProportional(al, a, t, capable, demand, sum)
			} else {
				redistributeUniform(al, a, t, capable, demand)
			}
		}
	}
}

// redistributeProportional rescales the row to the demand total using
// largest-remainder rounding so the integer sum lands exactly.
func redistributeProportional(al *Allocation, a, t int, capable []int, demand, sum int) {
	type share struct {
		lab  int
		frac float64
	}

	shares := make([]share, 0, len(capable))
	assigned := 0
	for _, j := range capable {
		exact := float64(al.At(a, j, t)) * float64(demand) / float64(sum)
		base := int(exact)
		al.Set(a, j, t, base)
		assigned += base
		shares = append(shares, share{lab: j, frac: exact - float64(base)})
	}

	// Hand the rounding remainder to the largest fractional parts;
	// ties break on lab index to keep runs reproducible.
	sort.SliceStable(shares, func(i, k int) bool {
		if shares[i].frac != shares[k].frac {
			return shares[i].frac > shares[k].frac
		}
		return shares[i].lab < shares[k].lab
	})
	for i := 0; assigned < demand; i = (i + 1) % len(shares) {
		al.Add(a, shares[i].lab, t, 1)
		assigned++
	}
}

// redistributeUniform splits the demand evenly across capable labs.
func redistributeUniform(al *Allocation, a, t int, capable []int, demand int) {
	base := demand / len(capable)
	remainder := demand % len(capable)
	for i, j := range capable {
		v := base
		if i < remainder {
			v++
		}
		al.Set(a, j, t, v)
	}
}

// repairCapacity scales back overloaded labs, redirecting the removed
// tests to the nearest capable lab with slack. Demand row sums are
// preserved by construction: tests move between labs, never vanish.
func repairCapacity(p *problem.Problem, al *Allocation) {
	loads := make([]float64, p.NLabs)
	for a := 0; a < p.NAreas; a++ {
		for j := 0; j < p.NLabs; j++ {
			for t := 0; t < p.NTests; t++ {
				if x := al.At(a, j, t); x > 0 {
					loads[j] += float64(x) * p.ProcTimeAt(j, t)
				}
			}
		}
	}

	for j := 0; j < p.NLabs; j++ {
		if loads[j] <= p.AvailableMinutes[j] {
			continue
		}

		// Largest contributors first
		type cell struct {
			a, t    int
			minutes float64
		}
		cells := make([]cell, 0)
		for a := 0; a < p.NAreas; a++ {
			for t := 0; t < p.NTests; t++ {
				if x := al.At(a, j, t); x > 0 {
					cells = append(cells, cell{a: a, t: t, minutes: float64(x) * p.ProcTimeAt(j, t)})
				}
			}
		}
		sort.SliceStable(cells, func(i, k int) bool {
			if cells[i].minutes != cells[k].minutes {
				return cells[i].minutes > cells[k].minutes
			}
			if cells[i].a != cells[k].a {
				return cells[i].a < cells[k].a
			}
			return cells[i].t < cells[k].t
		})

		for _, c := range cells {
			if loads[j] <= p.AvailableMinutes[j] {
				break
			}

			procHere := p.ProcTimeAt(j, c.t)
			over := loads[j] - p.AvailableMinutes[j]
			want := int(over/procHere) + 1
			if x := al.At(c.a, j, c.t); want > x {
				want = x
			}

			// Redirect to the next-nearest capable labs with slack
			for _, k := range p.NearestCapableLabs(c.a, c.t) {
				if want == 0 {
					break
				}
				if k == j {
					continue
				}
				procThere := p.ProcTimeAt(k, c.t)
				slack := p.AvailableMinutes[k] - loads[k]
				if slack < procThere {
					continue
				}
				move := int(slack / procThere)
				if move > want {
					move = want
				}

				al.Add(c.a, j, c.t, -move)
				al.Add(c.a, k, c.t, move)
				loads[j] -= float64(move) * procHere
				loads[k] += float64(move) * procThere
				want -= move
			}
		}
	}
}

// Feasible reports whether the allocation satisfies the hard
// invariants: demand conservation, capability respect, and capacity
// respect.
func Feasible(p *problem.Problem, al *Allocation) bool {
	for a := 0; a < p.NAreas; a++ {
		for t := 0; t < p.NTests; t++ {
			if al.RowSum(a, t) != p.DemandAt(a, t) {
				return false
			}
			for j := 0; j < p.NLabs; j++ {
				if al.At(a, j, t) > 0 && !p.CapableAt(j, t) {
					return false
				}
			}
		}
	}

	for j := 0; j < p.NLabs; j++ {
		var load float64
		for a := 0; a < p.NAreas; a++ {
			for t := 0; t < p.NTests; t++ {
				if x := al.At(a, j, t); x > 0 {
					load += float64(x) * p.ProcTimeAt(j, t)
				}
			}
		}
		if load > p.AvailableMinutes[j] {
			return false
		}
	}

	return true
}
