package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlink/ember/internal/domain"
)

func entry(gender domain.Gender, age int, intent domain.Intent) *domain.QueueEntry {
	return &domain.QueueEntry{
		UserID: uuid.New(),
		Gender: gender,
		Age:    age,
		Intent: intent,
		Preferences: domain.Preferences{
			AgeMin: 18,
			AgeMax: 99,
		},
	}
}

func TestScore_HappyPair(t *testing.T) {
	alice := entry(domain.GenderMale, 30, domain.IntentCasual)
	alice.Preferences.Genders = []domain.Gender{domain.GenderFemale}
	alice.Preferences.AgeMin, alice.Preferences.AgeMax = 25, 35
	alice.Interests = []string{"hiking", "jazz", "cooking"}
	alice.Languages = []string{"en"}

	bella := entry(domain.GenderFemale, 28, domain.IntentCasual)
	bella.Preferences.Genders = []domain.Gender{domain.GenderMale}
	bella.Preferences.AgeMin, bella.Preferences.AgeMax = 25, 35
	bella.Interests = []string{"hiking", "jazz", "surfing"}
	bella.Languages = []string{"en"}

	res := Score(alice, bella, DefaultWeights())
	require.False(t, res.Veto)
	assert.GreaterOrEqual(t, res.Total, 60.0)
	assert.LessOrEqual(t, res.Total, 100.0)
	assert.Len(t, res.Reasons, 3)
}

func TestScore_AgeAndIntentVeto(t *testing.T) {
	carl := entry(domain.GenderMale, 50, domain.IntentSerious)
	carl.Preferences.Genders = []domain.Gender{domain.GenderFemale}
	carl.Preferences.AgeMin, carl.Preferences.AgeMax = 40, 55

	dana := entry(domain.GenderFemale, 22, domain.IntentCasual)
	dana.Preferences.Genders = []domain.Gender{domain.GenderMale}
	dana.Preferences.AgeMin, dana.Preferences.AgeMax = 20, 28

	res := Score(carl, dana, DefaultWeights())
	require.True(t, res.Veto)
	assert.Zero(t, res.Total)
	assert.Contains(t, res.VetoReasons, "age outside preferred range")
	assert.Contains(t, res.VetoReasons, "incompatible intents")
	assert.Empty(t, res.Reasons)
}

func TestScore_GenderVeto(t *testing.T) {
	a := entry(domain.GenderMale, 30, domain.IntentFriends)
	a.Preferences.Genders = []domain.Gender{domain.GenderFemale}
	b := entry(domain.GenderMale, 31, domain.IntentFriends)

	res := Score(a, b, DefaultWeights())
	require.True(t, res.Veto)
	assert.Equal(t, []string{"gender preference mismatch"}, res.VetoReasons)
}

func TestScore_FriendsNetworkingIsSoft(t *testing.T) {
	a := entry(domain.GenderFemale, 30, domain.IntentFriends)
	b := entry(domain.GenderMale, 30, domain.IntentNetworking)

	res := Score(a, b, DefaultWeights())
	assert.False(t, res.Veto)

	var intentPts float64
	for _, ds := range res.Breakdown {
		if ds.Dimension == DimIntent {
			intentPts = ds.Points
		}
	}
	assert.InDelta(t, 0.4*DefaultWeights().Intent, intentPts, 1e-9)
}

func TestScore_IntentPreferenceVeto(t *testing.T) {
	// Friends vs networking passes the intent policy, but a stated
	// preferred-intents list on either side is a hard filter.
	a := entry(domain.GenderFemale, 30, domain.IntentFriends)
	a.Preferences.Intents = []domain.Intent{domain.IntentFriends}
	b := entry(domain.GenderMale, 30, domain.IntentNetworking)

	res := Score(a, b, DefaultWeights())
	require.True(t, res.Veto)
	assert.Equal(t, []string{"intent outside preferred set"}, res.VetoReasons)
	assert.True(t, Vetoed(a, b))
	assert.True(t, Vetoed(b, a), "the filter is mutual")

	// Listing the partner's intent lifts the veto again.
	a.Preferences.Intents = []domain.Intent{domain.IntentFriends, domain.IntentNetworking}
	assert.False(t, Score(a, b, DefaultWeights()).Veto)
	assert.False(t, Vetoed(a, b))
}

func TestScore_Symmetric(t *testing.T) {
	a := entry(domain.GenderMale, 27, domain.IntentSerious)
	a.Interests = []string{"books", "wine"}
	a.Coords = &domain.LatLng{Lat: 52.52, Lng: 13.405}
	a.Education = domain.EducationPostgrad
	a.Politics = domain.PoliticsModerate

	b := entry(domain.GenderFemale, 31, domain.IntentSerious)
	b.Interests = []string{"wine", "travel"}
	b.Coords = &domain.LatLng{Lat: 52.50, Lng: 13.42}
	b.Education = domain.EducationUndergrad
	b.Politics = domain.PoliticsCenterLeft

	ab := Score(a, b, DefaultWeights())
	ba := Score(b, a, DefaultWeights())
	assert.Equal(t, ab.Total, ba.Total)
	assert.Equal(t, ab.Breakdown, ba.Breakdown)
}

func TestScore_Deterministic(t *testing.T) {
	a := entry(domain.GenderNonBinary, 24, domain.IntentCasual)
	a.Interests = []string{"climbing", "film"}
	b := entry(domain.GenderFemale, 26, domain.IntentCasual)
	b.Interests = []string{"film"}

	first := Score(a, b, DefaultWeights())
	for i := 0; i < 10; i++ {
		again := Score(a, b, DefaultWeights())
		require.Equal(t, first, again)
	}
}

func TestScore_PremiumBonusCapped(t *testing.T) {
	a := entry(domain.GenderMale, 30, domain.IntentCasual)
	b := entry(domain.GenderFemale, 30, domain.IntentCasual)
	a.Premium = true

	plain := Score(a, b, Weights{Premium: 5})
	assert.InDelta(t, 5, plain.Total, 1e-9)

	// A pair already at the ceiling stays at 100.
	full := DefaultWeights()
	a.Languages = []string{"en"}
	b.Languages = []string{"en"}
	a.Interests = []string{"x"}
	b.Interests = []string{"x"}
	a.Coords = &domain.LatLng{Lat: 1, Lng: 1}
	b.Coords = &domain.LatLng{Lat: 1, Lng: 1}
	res := Score(a, b, full)
	assert.LessOrEqual(t, res.Total, 100.0)
}

func TestScore_ReasonTieBreakUsesDimensionOrder(t *testing.T) {
	a := entry(domain.GenderMale, 30, domain.IntentCasual)
	b := entry(domain.GenderFemale, 30, domain.IntentCasual)
	a.Languages = []string{"en"}
	b.Languages = []string{"en"}

	// age (15), intent (10), then languages vs ethnicity vs others tied at
	// five points; languages comes first in the fixed order among full
	// five-point dimensions it ties with.
	res := Score(a, b, DefaultWeights())
	require.False(t, res.Veto)
	require.Len(t, res.Reasons, 3)
	assert.Equal(t, reasonText[DimAge], res.Reasons[0])
}

func TestVetoed_MatchesScoreVeto(t *testing.T) {
	a := entry(domain.GenderMale, 50, domain.IntentSerious)
	b := entry(domain.GenderFemale, 22, domain.IntentCasual)
	assert.True(t, Vetoed(a, b))
	assert.True(t, Score(a, b, DefaultWeights()).Veto)

	c := entry(domain.GenderMale, 30, domain.IntentCasual)
	d := entry(domain.GenderFemale, 31, domain.IntentCasual)
	assert.False(t, Vetoed(c, d))
}

func TestHaversine(t *testing.T) {
	berlin := domain.LatLng{Lat: 52.5200, Lng: 13.4050}
	hamburg := domain.LatLng{Lat: 53.5511, Lng: 9.9937}
	d := haversineKm(berlin, hamburg)
	assert.InDelta(t, 255, d, 10)
	assert.Zero(t, haversineKm(berlin, berlin))
}
