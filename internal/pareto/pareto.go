// Package pareto ranks finished predictions by non-dominated sorting.
// It is a stateless batch step run after a prediction run completes,
// typically to shortlist candidate materials that trade off several
// properties.
package pareto

import (
	"fmt"
	"sort"
)

// Direction says whether a property is better when larger or smaller.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

// Objective names one property and its optimization direction.
type Objective struct {
	Property  string
	Direction Direction
}

// Point is one candidate: a sample id and its final predicted values.
type Point struct {
	ID     string
	Values map[string]float64
}

// Ranked pairs a point with its front rank (0 = the Pareto front).
type Ranked struct {
	Point
	Rank int
}

// Sort performs fast non-dominated sorting and returns every point with
// its front rank, ordered by rank then id. Points missing a value for
// any objective are rejected.
func Sort(points []Point, objectives []Objective) ([]Ranked, error) {
	if len(objectives) == 0 {
		return nil, fmt.Errorf("no objectives given")
	}
	for _, p := range points {
		for _, obj := range objectives {
			if _, ok := p.Values[obj.Property]; !ok {
				return nil, fmt.Errorf("point %s has no value for %s", p.ID, obj.Property)
			}
		}
	}

	n := len(points)
	dominatedBy := make([]int, n)   // how many points dominate i
	dominates := make([][]int, n)   // indexes i dominates

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case dominate(points[i], points[j], objectives):
				dominates[i] = append(dominates[i], j)
				dominatedBy[j]++
			case dominate(points[j], points[i], objectives):
				dominates[j] = append(dominates[j], i)
				dominatedBy[i]++
			}
		}
	}

	ranks := make([]int, n)
	var front []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			front = append(front, i)
		}
	}
	rank := 0
	for len(front) > 0 {
		var next []int
		for _, i := range front {
			ranks[i] = rank
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		front = next
		rank++
	}

	out := make([]Ranked, n)
	for i, p := range points {
		out[i] = Ranked{Point: p, Rank: ranks[i]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Rank != out[b].Rank {
			return out[a].Rank < out[b].Rank
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// Fronts groups ranked points into fronts, index 0 being the Pareto
// front.
func Fronts(points []Point, objectives []Objective) ([][]Ranked, error) {
	ranked, err := Sort(points, objectives)
	if err != nil {
		return nil, err
	}
	var fronts [][]Ranked
	for _, r := range ranked {
		for len(fronts) <= r.Rank {
			fronts = append(fronts, nil)
		}
		fronts[r.Rank] = append(fronts[r.Rank], r)
	}
	return fronts, nil
}

// dominate reports whether a dominates b: a is at least as good on
// every objective and strictly better on at least one.
func dominate(a, b Point, objectives []Objective) bool {
	strictlyBetter := false
	for _, obj := range objectives {
		av, bv := a.Values[obj.Property], b.Values[obj.Property]
		if obj.Direction == Minimize {
			av, bv = -av, -bv
		}
		if av < bv {
			return false
		}
		if av > bv {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}
