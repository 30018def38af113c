package logistics

import (
	"cmp"
	"math"
	"slices"
)

const (
	// minStopSeconds is the shortest window a stop is given, whatever its schedule says.
	minStopSeconds = 30 * 60
	// maxExhaustiveStops bounds the fallback search that tries every ordering.
	maxExhaustiveStops = 10
	costEpsilon        = 1e-6
)

// timeWindow is the earliest and latest time, in unix seconds, a machine may
// be at a stop.
type timeWindow struct {
	open, close int64
}

// routeProblem is a single vehicle path over every node starting at node 0.
// Arcs cost distance (meters) and take travel seconds. The vehicle may wait
// for a window to open but must never arrive after it closes. There is no
// return leg and no service time.
type routeProblem struct {
	windows []timeWindow
	dist    [][]float64
	travel  [][]int64
}

// schedule returns the time the vehicle is at each position of order, or
// false if some window is missed.
func (p *routeProblem) schedule(order []int) ([]int64, bool) {
	at := make([]int64, len(order))
	at[0] = p.windows[order[0]].open
	for k := 1; k < len(order); k++ {
		prev, cur := order[k-1], order[k]
		arrive := at[k-1] + p.travel[prev][cur]
		w := p.windows[cur]
		if arrive > w.close {
			return nil, false
		}
		at[k] = max(arrive, w.open)
	}
	return at, true
}

func (p *routeProblem) feasible(order []int) bool {
	_, ok := p.schedule(order)
	return ok
}

func (p *routeProblem) cost(order []int) float64 {
	var total float64
	for k := 1; k < len(order); k++ {
		total += p.dist[order[k-1]][order[k]]
	}
	return total
}

// solve returns the visiting order of all nodes, starting at node 0.
func (p *routeProblem) solve() ([]int, bool) {
	n := len(p.windows)
	if n == 0 {
		return nil, false
	}
	if n == 1 {
		return []int{0}, true
	}

	order, ok := p.cheapestArc()
	if !ok {
		order, ok = p.windowOrder()
	}
	if !ok && n <= maxExhaustiveStops {
		order, ok = p.exhaustive()
	}
	if !ok {
		return nil, false
	}
	return p.improve(order), true
}

// cheapestArc extends the path from its last node along the cheapest arc that
// keeps the schedule feasible. Ties go to the lower node index.
func (p *routeProblem) cheapestArc() ([]int, bool) {
	n := len(p.windows)
	visited := make([]bool, n)
	visited[0] = true
	order := []int{0}
	now := p.windows[0].open

	for len(order) < n {
		last := order[len(order)-1]
		best := -1
		for j := 0; j < n; j++ {
			if visited[j] || now+p.travel[last][j] > p.windows[j].close {
				continue
			}
			if best == -1 || p.dist[last][j] < p.dist[last][best] {
				best = j
			}
		}
		if best == -1 {
			return nil, false
		}
		visited[best] = true
		order = append(order, best)
		now = max(now+p.travel[last][best], p.windows[best].open)
	}
	return order, true
}

// windowOrder visits stops by opening time, then closing time, then index.
func (p *routeProblem) windowOrder() ([]int, bool) {
	rest := make([]int, 0, len(p.windows)-1)
	for i := 1; i < len(p.windows); i++ {
		rest = append(rest, i)
	}
	slices.SortStableFunc(rest, func(a, b int) int {
		wa, wb := p.windows[a], p.windows[b]
		switch {
		case wa.open != wb.open:
			return cmp.Compare(wa.open, wb.open)
		case wa.close != wb.close:
			return cmp.Compare(wa.close, wb.close)
		default:
			return a - b
		}
	})
	order := append([]int{0}, rest...)
	return order, p.feasible(order)
}

// exhaustive tries every ordering, pruning on missed windows and on cost.
func (p *routeProblem) exhaustive() ([]int, bool) {
	n := len(p.windows)
	var (
		best     []int
		bestCost = math.Inf(1)
		path     = []int{0}
		used     = make([]bool, n)
	)
	used[0] = true

	var walk func(now int64, cost float64)
	walk = func(now int64, cost float64) {
		if cost >= bestCost {
			return
		}
		if len(path) == n {
			best, bestCost = slices.Clone(path), cost
			return
		}
		last := path[len(path)-1]
		for j := 1; j < n; j++ {
			arrive := now + p.travel[last][j]
			if used[j] || arrive > p.windows[j].close {
				continue
			}
			used[j] = true
			path = append(path, j)
			walk(max(arrive, p.windows[j].open), cost+p.dist[last][j])
			path = path[:len(path)-1]
			used[j] = false
		}
	}
	walk(p.windows[0].open, 0)
	return best, best != nil
}

// improve applies relocate and 2-opt moves while they give a feasible,
// strictly cheaper order. Position 0 never moves.
func (p *routeProblem) improve(order []int) []int {
	cur := slices.Clone(order)
	curCost := p.cost(cur)

	for improved := true; improved; {
		improved = false
		for _, cand := range p.neighbours(cur) {
			if c := p.cost(cand); c < curCost-costEpsilon && p.feasible(cand) {
				cur, curCost = cand, c
				improved = true
				break
			}
		}
	}
	return cur
}

// neighbours lists every relocate and 2-opt variant of order.
func (p *routeProblem) neighbours(order []int) [][]int {
	n := len(order)
	var out [][]int
	for i := 1; i < n; i++ {
		for j := 1; j < n; j++ {
			if i == j {
				continue
			}
			cand := slices.Clone(order)
			node := cand[i]
			cand = slices.Delete(cand, i, i+1)
			cand = slices.Insert(cand, j, node)
			out = append(out, cand)
		}
	}
	for i := 1; i < n-1; i++ {
		for k := i + 1; k < n; k++ {
			cand := slices.Clone(order)
			slices.Reverse(cand[i : k+1])
			out = append(out, cand)
		}
	}
	return out
}
