// Package scoring computes the compatibility score between two queue
// entries. Score is pure and symmetric: identical inputs always produce
// identical results, and Score(a, b) equals Score(b, a).
package scoring

import (
	"math"
	"sort"

	"github.com/emberlink/ember/internal/domain"
)

// Dimension identifies one weighted scoring dimension. The declaration
// order below is also the tie-break order for reasons.
type Dimension string

const (
	DimAge         Dimension = "age"
	DimDistance    Dimension = "distance"
	DimInterests   Dimension = "interests"
	DimLanguages   Dimension = "languages"
	DimEthnicity   Dimension = "ethnicity"
	DimIntent      Dimension = "intent"
	DimFamilyPlans Dimension = "family_plans"
	DimReligion    Dimension = "religion"
	DimEducation   Dimension = "education"
	DimPolitics    Dimension = "politics"
	DimLifestyle   Dimension = "lifestyle"
	DimPremium     Dimension = "premium"
)

var dimensionOrder = []Dimension{
	DimAge, DimDistance, DimInterests, DimLanguages, DimEthnicity,
	DimIntent, DimFamilyPlans, DimReligion, DimEducation, DimPolitics,
	DimLifestyle, DimPremium,
}

var reasonText = map[Dimension]string{
	DimAge:         "You're close in age",
	DimDistance:    "You're near each other",
	DimInterests:   "You share interests",
	DimLanguages:   "You speak a common language",
	DimEthnicity:   "Background matches their preference",
	DimIntent:      "You're looking for the same thing",
	DimFamilyPlans: "Your family plans line up",
	DimReligion:    "Compatible beliefs",
	DimEducation:   "Similar education",
	DimPolitics:    "Similar outlook",
	DimLifestyle:   "Compatible lifestyle",
	DimPremium:     "Premium boost",
}

// Weights carries the per-dimension maximum points. The defaults sum to
// 95; the premium bonus adds the last 5 and the total is clamped to 100.
type Weights struct {
	Age         float64
	Distance    float64
	Interests   float64
	Languages   float64
	Ethnicity   float64
	Intent      float64
	FamilyPlans float64
	Religion    float64
	Education   float64
	Politics    float64
	Lifestyle   float64
	Premium     float64
}

// DefaultWeights returns the documented weight set:
// age 15, distance 15, interests 15, languages 5, ethnicity 5,
// intent 10, family plans 10, religion 5, education 5, politics 5,
// lifestyle 5, premium +5.
func DefaultWeights() Weights {
	return Weights{
		Age:         15,
		Distance:    15,
		Interests:   15,
		Languages:   5,
		Ethnicity:   5,
		Intent:      10,
		FamilyPlans: 10,
		Religion:    5,
		Education:   5,
		Politics:    5,
		Lifestyle:   5,
		Premium:     5,
	}
}

func (w Weights) of(d Dimension) float64 {
	switch d {
	case DimAge:
		return w.Age
	case DimDistance:
		return w.Distance
	case DimInterests:
		return w.Interests
	case DimLanguages:
		return w.Languages
	case DimEthnicity:
		return w.Ethnicity
	case DimIntent:
		return w.Intent
	case DimFamilyPlans:
		return w.FamilyPlans
	case DimReligion:
		return w.Religion
	case DimEducation:
		return w.Education
	case DimPolitics:
		return w.Politics
	case DimLifestyle:
		return w.Lifestyle
	case DimPremium:
		return w.Premium
	}
	return 0
}

// DimensionScore is one entry in the per-dimension breakdown.
type DimensionScore struct {
	Dimension Dimension `json:"dimension"`
	Points    float64   `json:"points"`
	Max       float64   `json:"max"`
}

// Result is the outcome of scoring one unordered pair.
type Result struct {
	Total       float64          `json:"total"`
	Breakdown   []DimensionScore `json:"breakdown"`
	Reasons     []string         `json:"reasons"`
	Veto        bool             `json:"veto"`
	VetoReasons []string         `json:"veto_reasons,omitempty"`
}

type intentPolicy int

const (
	intentFull intentPolicy = iota
	intentSoft
	intentVeto
)

// intentCompat applies the intent policy: identical intents score full,
// casual vs serious is a hard veto, every other cross pairing (including
// friends vs networking) is allowed with a soft penalty.
func intentCompat(a, b domain.Intent) intentPolicy {
	if a == b {
		return intentFull
	}
	if (a == domain.IntentCasual && b == domain.IntentSerious) ||
		(a == domain.IntentSerious && b == domain.IntentCasual) {
		return intentVeto
	}
	return intentSoft
}

// Vetoed reports whether the pair fails any hard filter: mutual gender
// acceptance, mutual age-range acceptance, mutual intent acceptance,
// intent policy. The queue store uses this as its candidate pre-filter.
func Vetoed(a, b *domain.QueueEntry) bool {
	if !a.Preferences.AcceptsGender(b.Gender) || !b.Preferences.AcceptsGender(a.Gender) {
		return true
	}
	if !a.Preferences.AcceptsAge(b.Age) || !b.Preferences.AcceptsAge(a.Age) {
		return true
	}
	if !a.Preferences.AcceptsIntent(b.Intent) || !b.Preferences.AcceptsIntent(a.Intent) {
		return true
	}
	return intentCompat(a.Intent, b.Intent) == intentVeto
}

// Score evaluates the pair under w. Vetoed pairs report Total 0 with the
// triggering filters listed in VetoReasons.
func Score(a, b *domain.QueueEntry, w Weights) Result {
	var vetoes []string
	if !a.Preferences.AcceptsGender(b.Gender) || !b.Preferences.AcceptsGender(a.Gender) {
		vetoes = append(vetoes, "gender preference mismatch")
	}
	if !a.Preferences.AcceptsAge(b.Age) || !b.Preferences.AcceptsAge(a.Age) {
		vetoes = append(vetoes, "age outside preferred range")
	}
	if !a.Preferences.AcceptsIntent(b.Intent) || !b.Preferences.AcceptsIntent(a.Intent) {
		vetoes = append(vetoes, "intent outside preferred set")
	}
	if intentCompat(a.Intent, b.Intent) == intentVeto {
		vetoes = append(vetoes, "incompatible intents")
	}
	if len(vetoes) > 0 {
		return Result{Total: 0, Veto: true, VetoReasons: vetoes}
	}

	fracs := map[Dimension]float64{
		DimAge:         ageCloseness(a, b),
		DimDistance:    distanceScore(a, b),
		DimInterests:   jaccard(a.Interests, b.Interests),
		DimLanguages:   languageOverlap(a.Languages, b.Languages),
		DimEthnicity:   avg(ethnicityMatch(a, b), ethnicityMatch(b, a)),
		DimIntent:      intentBonus(a.Intent, b.Intent),
		DimFamilyPlans: avg(familyMatch(a, b), familyMatch(b, a)),
		DimReligion:    avg(religionMatch(a, b), religionMatch(b, a)),
		DimEducation:   rankCloseness(rankOf(a.Education.Rank()), rankOf(b.Education.Rank()), 3),
		DimPolitics:    rankCloseness(rankOf(a.Politics.Rank()), rankOf(b.Politics.Rank()), 4),
		DimLifestyle:   lifestyleScore(a, b),
		DimPremium:     premiumFrac(a, b),
	}

	res := Result{Breakdown: make([]DimensionScore, 0, len(dimensionOrder))}
	for _, d := range dimensionOrder {
		max := w.of(d)
		pts := fracs[d] * max
		res.Breakdown = append(res.Breakdown, DimensionScore{Dimension: d, Points: pts, Max: max})
		res.Total += pts
	}
	if res.Total > 100 {
		res.Total = 100
	}
	res.Reasons = topReasons(res.Breakdown)
	return res
}

// topReasons picks the three highest-scoring dimensions, ties broken by
// the fixed dimension order. The premium bonus is not a displayable
// reason.
func topReasons(breakdown []DimensionScore) []string {
	order := make(map[Dimension]int, len(dimensionOrder))
	for i, d := range dimensionOrder {
		order[d] = i
	}

	ranked := make([]DimensionScore, 0, len(breakdown))
	for _, ds := range breakdown {
		if ds.Dimension == DimPremium || ds.Points <= 0 {
			continue
		}
		ranked = append(ranked, ds)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Points != ranked[j].Points {
			return ranked[i].Points > ranked[j].Points
		}
		return order[ranked[i].Dimension] < order[ranked[j].Dimension]
	})

	n := 3
	if len(ranked) < n {
		n = len(ranked)
	}
	reasons := make([]string, 0, n)
	for _, ds := range ranked[:n] {
		reasons = append(reasons, reasonText[ds.Dimension])
	}
	return reasons
}

// ageCloseness decays linearly with the age gap; ten or more years apart
// within the accepted range still scores zero.
func ageCloseness(a, b *domain.QueueEntry) float64 {
	gap := math.Abs(float64(a.Age - b.Age))
	return clamp01(1 - gap/10)
}

// distanceScore normalizes the haversine distance against the stricter of
// the two max-distance preferences. Missing coordinates on either side
// score neutral (half credit).
func distanceScore(a, b *domain.QueueEntry) float64 {
	if a.Coords == nil || b.Coords == nil {
		return 0.5
	}
	limit := math.Inf(1)
	if a.Preferences.MaxDistanceKm > 0 {
		limit = a.Preferences.MaxDistanceKm
	}
	if b.Preferences.MaxDistanceKm > 0 && b.Preferences.MaxDistanceKm < limit {
		limit = b.Preferences.MaxDistanceKm
	}
	if math.IsInf(limit, 1) {
		limit = 100 // neither side cares; normalize over 100 km
	}
	d := haversineKm(*a.Coords, *b.Coords)
	return clamp01(1 - math.Min(d, limit)/limit)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if seen[s] {
			continue
		}
		seen[s] = true
		if set[s] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func languageOverlap(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if set[s] {
			return 1
		}
	}
	return 0
}

// ethnicityMatch scores b's ethnicity against a's preferred set. No
// preference means any ethnicity matches; an unstated ethnicity against a
// stated preference scores half.
func ethnicityMatch(a, b *domain.QueueEntry) float64 {
	if len(a.Preferences.Ethnicities) == 0 {
		return 1
	}
	if b.Ethnicity == "" {
		return 0.5
	}
	for _, want := range a.Preferences.Ethnicities {
		if want == b.Ethnicity {
			return 1
		}
	}
	return 0
}

func intentBonus(a, b domain.Intent) float64 {
	if intentCompat(a, b) == intentFull {
		return 1
	}
	return 0.4
}

func familyMatch(a, b *domain.QueueEntry) float64 {
	if len(a.Preferences.FamilyPlans) == 0 {
		return 1
	}
	if b.FamilyPlans == "" {
		return 0.5
	}
	for _, want := range a.Preferences.FamilyPlans {
		if want == b.FamilyPlans {
			return 1
		}
	}
	return 0
}

func religionMatch(a, b *domain.QueueEntry) float64 {
	if len(a.Preferences.Religions) == 0 {
		return 1
	}
	if b.Religion == "" {
		return 0.5
	}
	for _, want := range a.Preferences.Religions {
		if want == b.Religion {
			return 1
		}
	}
	return 0
}

// rankCloseness compares two positions on an ordered scale of span steps.
// Either side unstated scores neutral.
func rankCloseness(a, b int, span int) float64 {
	if a < 0 || b < 0 {
		return 0.5
	}
	gap := math.Abs(float64(a - b))
	return clamp01(1 - gap/float64(span))
}

func lifestyleScore(a, b *domain.QueueEntry) float64 {
	drink := rankCloseness(rankOf(a.Drinking.Rank()), rankOf(b.Drinking.Rank()), 2)
	smoke := rankCloseness(rankOf(a.Smoking.Rank()), rankOf(b.Smoking.Rank()), 2)
	move := rankCloseness(rankOf(a.Exercise.Rank()), rankOf(b.Exercise.Rank()), 2)
	return (drink + smoke + move) / 3
}

func premiumFrac(a, b *domain.QueueEntry) float64 {
	if a.Premium || b.Premium {
		return 1
	}
	return 0
}

func rankOf(r int, ok bool) int {
	if !ok {
		return -1
	}
	return r
}

func avg(a, b float64) float64 { return (a + b) / 2 }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const earthRadiusKm = 6371.0

func haversineKm(a, b domain.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
