package routing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Manchester city centre.
const baseLat, baseLng = 53.4808, -2.2426

func candidate(id string, dLat, dLng float64) *domain.Booking {
	return &domain.Booking{
		ID:                id,
		Status:            domain.BookingStatusConfirmed,
		WindowStart:       t0,
		WindowEnd:         t0.Add(2 * time.Hour),
		PickupLat:         baseLat + dLat,
		PickupLng:         baseLng + dLng,
		DropoffLat:        baseLat + dLat + 0.01,
		DropoffLng:        baseLng + dLng + 0.01,
		Value:             100,
		Priority:          domain.PriorityNormal,
		MultiDropEligible: true,
		OrderType:         domain.OrderTypeSingle,
	}
}

func fiveNearby() []*domain.Booking {
	// roughly 0.7 miles apart along a line
	var out []*domain.Booking
	for i := 0; i < 5; i++ {
		b := candidate(fmt.Sprintf("b%d", i+1), float64(i)*0.01, 0)
		b.WindowStart = t0.Add(time.Duration(i) * 10 * time.Minute)
		b.WindowEnd = b.WindowStart.Add(2 * time.Hour)
		out = append(out, b)
	}
	return out
}

func TestOptimize_FiveNearbyBookingsFormOneRoute(t *testing.T) {
	res := Optimize(fiveNearby(), DefaultConstraints())

	require.Len(t, res.Plans, 1)
	plan := res.Plans[0]
	assert.Len(t, plan.Bookings, 5)
	assert.Greater(t, plan.Score, 0.0)
	assert.Equal(t, 5, res.Eligible)
	assert.Equal(t, 5, res.Assigned())
	assert.Empty(t, res.Unassigned)
	assert.Equal(t, 500.0, plan.TotalValue)
	assert.Greater(t, plan.DistanceMiles, 0.0)
}

func TestOptimize_IsDeterministic(t *testing.T) {
	in := fiveNearby()
	reversed := make([]*domain.Booking, len(in))
	for i, b := range in {
		reversed[len(in)-1-i] = b
	}

	a := Optimize(in, DefaultConstraints())
	b := Optimize(reversed, DefaultConstraints())

	require.Len(t, a.Plans, 1)
	require.Len(t, b.Plans, 1)
	assert.Equal(t, a.Plans[0].BookingIDs(), b.Plans[0].BookingIDs())
	assert.Equal(t, a.Plans[0].Score, b.Plans[0].Score)
}

func TestOptimize_RejectsInvalidCoordinates(t *testing.T) {
	in := fiveNearby()
	missing := candidate("zero", 0, 0)
	missing.PickupLat, missing.PickupLng = 0, 0
	in = append(in, missing)

	res := Optimize(in, DefaultConstraints())

	assert.Equal(t, 5, res.Eligible)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "zero", res.Rejected[0].ID)
	for _, p := range res.Plans {
		assert.NotContains(t, p.BookingIDs(), "zero")
	}
}

func TestOptimize_RadiusSplitsClusters(t *testing.T) {
	in := []*domain.Booking{
		candidate("m1", 0, 0),
		candidate("m2", 0.005, 0),
		// Liverpool, ~30 miles west
		candidate("l1", -0.07, -0.74),
		candidate("l2", -0.065, -0.74),
	}

	res := Optimize(in, DefaultConstraints())

	require.Len(t, res.Plans, 2)
	for _, p := range res.Plans {
		ids := p.BookingIDs()
		assert.Len(t, ids, 2)
		assert.Equal(t, ids[0][0], ids[1][0], "cluster mixes cities: %v", ids)
	}
}

func TestOptimize_DisjointWindowsStayApart(t *testing.T) {
	a := candidate("a", 0, 0)
	b := candidate("b", 0.001, 0)
	b.WindowStart = t0.Add(5 * time.Hour)
	b.WindowEnd = t0.Add(7 * time.Hour)

	res := Optimize([]*domain.Booking{a, b}, DefaultConstraints())

	assert.Empty(t, res.Plans)
	assert.Len(t, res.Unassigned, 2)
}

func TestOptimize_SingleStopClustersAreNotRoutes(t *testing.T) {
	res := Optimize([]*domain.Booking{candidate("solo", 0, 0)}, DefaultConstraints())

	assert.Empty(t, res.Plans)
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, 1, res.Eligible)
}

func TestOptimize_MaxStopsCeiling(t *testing.T) {
	c := DefaultConstraints()
	c.MaxStops = 3

	res := Optimize(fiveNearby(), c)

	require.NotEmpty(t, res.Plans)
	for _, p := range res.Plans {
		assert.LessOrEqual(t, len(p.Bookings), 3)
	}
	assert.Equal(t, 5, res.Assigned()+len(res.Unassigned))
}

func TestOptimize_MaxLoadCeiling(t *testing.T) {
	c := DefaultConstraints()
	c.MaxLoadUnits = 10
	in := fiveNearby()
	for _, b := range in {
		b.LoadUnits = 4
	}

	res := Optimize(in, c)

	for _, p := range res.Plans {
		assert.LessOrEqual(t, p.LoadUnits, 10.0)
	}
}

func TestOptimize_MinScoreRejectsCluster(t *testing.T) {
	c := DefaultConstraints()
	c.MinScore = 1e9

	res := Optimize(fiveNearby(), c)

	assert.Empty(t, res.Plans)
	assert.Len(t, res.Unassigned, 5)
}

func TestOptimize_UrgentSeedsFirst(t *testing.T) {
	c := DefaultConstraints()
	c.MaxStops = 2
	in := fiveNearby()
	in[4].Priority = domain.PriorityUrgent

	res := Optimize(in, c)

	require.NotEmpty(t, res.Plans)
	assert.Contains(t, res.Plans[0].BookingIDs(), "b5")
}

// at places a booking at an exactly representable latitude so equal
// offsets give bit-identical distances.
func at(id string, lat float64) *domain.Booking {
	b := candidate(id, 0, 0)
	b.PickupLat = lat
	b.DropoffLat = lat
	return b
}

func TestSequence_NearestNeighbour(t *testing.T) {
	// points on a line; the centroid is exactly the middle one
	a := at("a", 53.5)
	b := at("b", 53.515625)
	c := at("c", 53.53125)

	got := Sequence([]*domain.Booking{c, a, b})

	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	// a and c are equidistant from b with the same window and priority
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestSequence_TieBreaksOnWindowStart(t *testing.T) {
	a := at("a", 53.515625)
	b := at("b", 53.484375)
	b.WindowStart = t0.Add(-time.Hour)
	centre := at("z", 53.5)

	got := Sequence([]*domain.Booking{a, b, centre})

	assert.Equal(t, []string{"z", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestEvaluate_IsIdempotent(t *testing.T) {
	ordered := Sequence(fiveNearby())
	c := DefaultConstraints()

	first := Evaluate(ordered, c)
	second := Evaluate(first.Bookings, c)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.DistanceMiles, second.DistanceMiles)
}

func TestScore_WeightsAreApplied(t *testing.T) {
	w := Weights{StopsPerMile: 2, Value: 0.5, SlackHours: 3}
	got := Score(4, 2, 100, 1, w)
	assert.InDelta(t, 2*2+0.5*100+3*1, got, 1e-9)

	// co-located pickups use the distance floor
	assert.InDelta(t, 2*(4/minScoringMiles), Score(4, 0, 0, 0, w), 1e-9)
}
