package domain

import (
	"time"

	"github.com/google/uuid"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Preferences is the enumerated preference bundle attached to a queue entry.
// Empty slices mean "no preference" for that dimension.
type Preferences struct {
	Genders           []Gender           `json:"genders"`
	AgeMin            int                `json:"age_min"`
	AgeMax            int                `json:"age_max"`
	MaxDistanceKm     float64            `json:"max_distance_km,omitempty"` // 0 = unlimited
	Intents           []Intent           `json:"intents,omitempty"`
	Ethnicities       []string           `json:"ethnicities,omitempty"`
	Education         []Education        `json:"education,omitempty"`
	FamilyPlans       []FamilyPlan       `json:"family_plans,omitempty"`
	Religions         []Religion         `json:"religions,omitempty"`
	Politics          []PoliticalView    `json:"politics,omitempty"`
	Drinking          []DrinkingHabit    `json:"drinking,omitempty"`
	Smoking           []SmokingHabit     `json:"smoking,omitempty"`
	RelationshipTypes []RelationshipType `json:"relationship_types,omitempty"`
}

// AcceptsGender reports whether g passes the preferred-genders filter.
// An empty list accepts everyone.
func (p Preferences) AcceptsGender(g Gender) bool {
	if len(p.Genders) == 0 {
		return true
	}
	for _, want := range p.Genders {
		if want == g {
			return true
		}
	}
	return false
}

// AcceptsIntent reports whether i passes the preferred-intents filter.
// An empty list accepts every intent.
func (p Preferences) AcceptsIntent(i Intent) bool {
	if len(p.Intents) == 0 {
		return true
	}
	for _, want := range p.Intents {
		if want == i {
			return true
		}
	}
	return false
}

// AcceptsAge reports whether age falls inside the preferred range.
// A zero range accepts everyone.
func (p Preferences) AcceptsAge(age int) bool {
	if p.AgeMin == 0 && p.AgeMax == 0 {
		return true
	}
	if p.AgeMin > 0 && age < p.AgeMin {
		return false
	}
	if p.AgeMax > 0 && age > p.AgeMax {
		return false
	}
	return true
}

// QueueEntry is one user waiting to be matched. The queue store owns it
// exclusively; everything else references it by UserID.
type QueueEntry struct {
	UserID uuid.UUID
	Intent Intent
	Gender Gender
	Age    int
	Coords *LatLng

	Interests []string
	Languages []string
	Ethnicity string

	Education        Education
	FamilyPlans      FamilyPlan
	Religion         Religion
	Politics         PoliticalView
	Drinking         DrinkingHabit
	Smoking          SmokingHabit
	Exercise         ExerciseHabit
	RelationshipType RelationshipType

	Premium     bool
	Preferences Preferences

	JoinedAt   time.Time
	Generation int
}

// Clone returns a deep copy so callers outside the store cannot mutate
// the store's state through shared slices.
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	if e.Coords != nil {
		coords := *e.Coords
		c.Coords = &coords
	}
	c.Interests = append([]string(nil), e.Interests...)
	c.Languages = append([]string(nil), e.Languages...)
	p := &c.Preferences
	p.Genders = append([]Gender(nil), e.Preferences.Genders...)
	p.Intents = append([]Intent(nil), e.Preferences.Intents...)
	p.Ethnicities = append([]string(nil), e.Preferences.Ethnicities...)
	p.Education = append([]Education(nil), e.Preferences.Education...)
	p.FamilyPlans = append([]FamilyPlan(nil), e.Preferences.FamilyPlans...)
	p.Religions = append([]Religion(nil), e.Preferences.Religions...)
	p.Politics = append([]PoliticalView(nil), e.Preferences.Politics...)
	p.Drinking = append([]DrinkingHabit(nil), e.Preferences.Drinking...)
	p.Smoking = append([]SmokingHabit(nil), e.Preferences.Smoking...)
	p.RelationshipTypes = append([]RelationshipType(nil), e.Preferences.RelationshipTypes...)
	return &c
}
