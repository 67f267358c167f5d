// Package routing groups bookings into multi-drop routes. It is pure: the
// same candidates and constraints always produce the same plans.
//
// The optimizer is a greedy heuristic. Clusters grow by nearest-centroid
// insertion under a radius, time-window and capacity ceiling; stops are
// ordered by nearest neighbour from the centroid-nearest pickup; each
// cluster is scored by a weighted sum and kept only when it clears a
// minimum.
package routing

import (
	"sort"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

// Weights are the coefficients of the route score.
type Weights struct {
	StopsPerMile float64
	Value        float64
	SlackHours   float64
}

// Constraints bound cluster growth and drive scoring.
type Constraints struct {
	ClusterRadiusMiles    float64
	MaxStops              int     // 0 disables the stop ceiling
	MaxLoadUnits          float64 // 0 disables the load ceiling
	AverageSpeedMph       float64
	ServiceMinutesPerStop float64
	Weights               Weights
	MinScore              float64
}

// DefaultConstraints returns the constraints used when nothing is configured.
func DefaultConstraints() Constraints {
	return Constraints{
		ClusterRadiusMiles:    5,
		MaxStops:              8,
		AverageSpeedMph:       20,
		ServiceMinutesPerStop: 30,
		Weights: Weights{
			StopsPerMile: 10,
			Value:        0.01,
			SlackHours:   1,
		},
		MinScore: 0,
	}
}

// Plan is a scored, ordered cluster of bookings.
type Plan struct {
	Bookings        []*domain.Booking // in stop order
	DistanceMiles   float64
	DurationMinutes float64
	TotalValue      float64
	LoadUnits       float64
	SlackHours      float64
	Score           float64
	WindowStart     time.Time
	WindowEnd       time.Time
}

// BookingIDs returns the plan members in stop order.
func (p Plan) BookingIDs() []string {
	ids := make([]string, len(p.Bookings))
	for i, b := range p.Bookings {
		ids[i] = b.ID
	}
	return ids
}

// Result is the outcome of one optimization pass.
type Result struct {
	Plans []Plan
	// Eligible counts candidates that passed the coordinate filter.
	Eligible int
	// Unassigned holds eligible candidates left out of every accepted plan.
	Unassigned []*domain.Booking
	// Rejected holds candidates dropped by the coordinate filter.
	Rejected []*domain.Booking
}

// Assigned returns the number of bookings placed into plans.
func (r Result) Assigned() int {
	n := 0
	for _, p := range r.Plans {
		n += len(p.Bookings)
	}
	return n
}

// Optimize clusters, orders and scores candidates. Rejected clusters are not
// re-clustered in the same pass; their members are reported as unassigned.
func Optimize(candidates []*domain.Booking, c Constraints) Result {
	var (
		res   Result
		valid []*domain.Booking
	)
	for _, b := range candidates {
		if b.HasValidCoordinates() {
			valid = append(valid, b)
		} else {
			res.Rejected = append(res.Rejected, b)
		}
	}
	res.Eligible = len(valid)

	seeds := append([]*domain.Booking(nil), valid...)
	sort.SliceStable(seeds, func(i, j int) bool {
		a, b := seeds[i], seeds[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.WindowStart.Equal(b.WindowStart) {
			return a.WindowStart.Before(b.WindowStart)
		}
		return a.ID < b.ID
	})

	clustered := make(map[string]bool, len(seeds))
	placed := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		if clustered[seed.ID] {
			continue
		}
		members := grow(seed, seeds, clustered, c)
		for _, m := range members {
			clustered[m.ID] = true
		}
		if len(members) < 2 {
			continue
		}
		plan := Evaluate(Sequence(members), c)
		if plan.Score <= c.MinScore {
			continue
		}
		for _, m := range plan.Bookings {
			placed[m.ID] = true
		}
		res.Plans = append(res.Plans, plan)
	}

	for _, b := range valid {
		if !placed[b.ID] {
			res.Unassigned = append(res.Unassigned, b)
		}
	}
	return res
}

// grow builds a cluster around seed by repeatedly inserting the nearest
// unclustered candidate to the current centroid that keeps the cluster
// feasible.
func grow(seed *domain.Booking, pool []*domain.Booking, clustered map[string]bool, c Constraints) []*domain.Booking {
	members := []*domain.Booking{seed}
	inCluster := map[string]bool{seed.ID: true}
	windowStart, windowEnd := seed.WindowStart, seed.WindowEnd
	load := seed.LoadUnits

	for {
		if c.MaxStops > 0 && len(members) >= c.MaxStops {
			return members
		}
		centroid := geo.Centroid(pickups(members))

		var (
			best     *domain.Booking
			bestDist float64
		)
		for _, b := range pool {
			if clustered[b.ID] || inCluster[b.ID] {
				continue
			}
			d := geo.Distance(centroid, pickup(b))
			if d > c.ClusterRadiusMiles {
				continue
			}
			if _, _, ok := intersect(windowStart, windowEnd, b.WindowStart, b.WindowEnd); !ok {
				continue
			}
			if c.MaxLoadUnits > 0 && load+b.LoadUnits > c.MaxLoadUnits {
				continue
			}
			if best == nil || closer(d, b, bestDist, best) {
				best, bestDist = b, d
			}
		}
		if best == nil {
			return members
		}

		members = append(members, best)
		inCluster[best.ID] = true
		windowStart, windowEnd, _ = intersect(windowStart, windowEnd, best.WindowStart, best.WindowEnd)
		load += best.LoadUnits
	}
}

// Sequence orders members by nearest-neighbour traversal between pickups,
// starting at the pickup nearest the centroid.
func Sequence(members []*domain.Booking) []*domain.Booking {
	if len(members) < 2 {
		return append([]*domain.Booking(nil), members...)
	}
	remaining := append([]*domain.Booking(nil), members...)
	ordered := make([]*domain.Booking, 0, len(members))

	current := geo.Centroid(pickups(members))
	for len(remaining) > 0 {
		bestIdx := 0
		bestDist := geo.Distance(current, pickup(remaining[0]))
		for i := 1; i < len(remaining); i++ {
			d := geo.Distance(current, pickup(remaining[i]))
			if closer(d, remaining[i], bestDist, remaining[bestIdx]) {
				bestIdx, bestDist = i, d
			}
		}
		next := remaining[bestIdx]
		ordered = append(ordered, next)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		current = pickup(next)
	}
	return ordered
}

// Evaluate computes totals and the score for bookings in the given order.
func Evaluate(ordered []*domain.Booking, c Constraints) Plan {
	p := Plan{Bookings: append([]*domain.Booking(nil), ordered...)}
	if len(ordered) == 0 {
		return p
	}

	points := pickups(ordered)
	p.DistanceMiles = geo.PathMiles(points)

	p.WindowStart, p.WindowEnd = ordered[0].WindowStart, ordered[0].WindowEnd
	for _, b := range ordered {
		p.TotalValue += b.Value
		p.LoadUnits += b.LoadUnits
		if s, e, ok := intersect(p.WindowStart, p.WindowEnd, b.WindowStart, b.WindowEnd); ok {
			p.WindowStart, p.WindowEnd = s, e
		} else {
			// disjoint windows leave no slack
			p.WindowEnd = p.WindowStart
		}
	}

	speed := c.AverageSpeedMph
	if speed <= 0 {
		speed = DefaultConstraints().AverageSpeedMph
	}
	p.DurationMinutes = p.DistanceMiles/speed*60 + c.ServiceMinutesPerStop*float64(len(ordered))

	windowHours := p.WindowEnd.Sub(p.WindowStart).Hours()
	if slack := windowHours - p.DurationMinutes/60; slack > 0 {
		p.SlackHours = slack
	}

	p.Score = Score(len(ordered), p.DistanceMiles, p.TotalValue, p.SlackHours, c.Weights)
	return p
}

// minScoringMiles floors the distance used for stops-per-mile so co-located
// pickups do not divide by zero.
const minScoringMiles = 0.1

// Score is the weighted sum of stops per mile, total value and slack hours.
func Score(stops int, distanceMiles, value, slackHours float64, w Weights) float64 {
	if distanceMiles < minScoringMiles {
		distanceMiles = minScoringMiles
	}
	stopsPerMile := float64(stops) / distanceMiles
	return w.StopsPerMile*stopsPerMile + w.Value*value + w.SlackHours*slackHours
}

// closer reports whether candidate a at distance da beats b at db. Ties go
// to the earlier window start, then the higher priority, then the lower ID.
func closer(da float64, a *domain.Booking, db float64, b *domain.Booking) bool {
	if da != db {
		return da < db
	}
	if !a.WindowStart.Equal(b.WindowStart) {
		return a.WindowStart.Before(b.WindowStart)
	}
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.ID < b.ID
}

// intersect returns the overlap of two closed windows.
func intersect(s1, e1, s2, e2 time.Time) (time.Time, time.Time, bool) {
	start, end := s1, e1
	if s2.After(start) {
		start = s2
	}
	if e2.Before(end) {
		end = e2
	}
	return start, end, !start.After(end)
}

func pickup(b *domain.Booking) geo.Point {
	return geo.Point{Lat: b.PickupLat, Lng: b.PickupLng}
}

func pickups(bs []*domain.Booking) []geo.Point {
	points := make([]geo.Point, len(bs))
	for i, b := range bs {
		points[i] = pickup(b)
	}
	return points
}
