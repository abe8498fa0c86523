package domain

import "fmt"

// Intent is what a user is queueing for. Incoming values outside the
// enumeration are rejected at the gateway before they reach the queue.
type Intent string

const (
	IntentCasual     Intent = "casual"
	IntentFriends    Intent = "friends"
	IntentSerious    Intent = "serious"
	IntentNetworking Intent = "networking"
)

var intents = map[Intent]bool{
	IntentCasual:     true,
	IntentFriends:    true,
	IntentSerious:    true,
	IntentNetworking: true,
}

func ParseIntent(s string) (Intent, error) {
	i := Intent(s)
	if !intents[i] {
		return "", fmt.Errorf("unknown intent %q", s)
	}
	return i, nil
}

type Gender string

const (
	GenderMale      Gender = "male"
	GenderFemale    Gender = "female"
	GenderNonBinary Gender = "nonbinary"
)

var genders = map[Gender]bool{
	GenderMale:      true,
	GenderFemale:    true,
	GenderNonBinary: true,
}

func ParseGender(s string) (Gender, error) {
	g := Gender(s)
	if !genders[g] {
		return "", fmt.Errorf("unknown gender %q", s)
	}
	return g, nil
}

// Education, PoliticalView, DrinkingHabit, SmokingHabit and ExerciseHabit
// are ordered scales; Rank gives the position used for proximity scoring.
// FamilyPlan, Religion and RelationshipType are unordered categories.

type Education string

const (
	EducationHighSchool Education = "high_school"
	EducationUndergrad  Education = "undergrad"
	EducationPostgrad   Education = "postgrad"
	EducationDoctorate  Education = "doctorate"
)

var educationRank = map[Education]int{
	EducationHighSchool: 0,
	EducationUndergrad:  1,
	EducationPostgrad:   2,
	EducationDoctorate:  3,
}

func (e Education) Rank() (int, bool) {
	r, ok := educationRank[e]
	return r, ok
}

func ParseEducation(s string) (Education, error) {
	e := Education(s)
	if _, ok := educationRank[e]; !ok {
		return "", fmt.Errorf("unknown education %q", s)
	}
	return e, nil
}

type FamilyPlan string

const (
	FamilyPlanDontWant FamilyPlan = "dont_want"
	FamilyPlanNotSure  FamilyPlan = "not_sure"
	FamilyPlanWant     FamilyPlan = "want"
)

var familyPlans = map[FamilyPlan]bool{
	FamilyPlanDontWant: true,
	FamilyPlanNotSure:  true,
	FamilyPlanWant:     true,
}

func ParseFamilyPlan(s string) (FamilyPlan, error) {
	f := FamilyPlan(s)
	if !familyPlans[f] {
		return "", fmt.Errorf("unknown family plan %q", s)
	}
	return f, nil
}

type Religion string

const (
	ReligionAgnostic  Religion = "agnostic"
	ReligionAtheist   Religion = "atheist"
	ReligionBuddhist  Religion = "buddhist"
	ReligionChristian Religion = "christian"
	ReligionHindu     Religion = "hindu"
	ReligionJewish    Religion = "jewish"
	ReligionMuslim    Religion = "muslim"
	ReligionSikh      Religion = "sikh"
	ReligionSpiritual Religion = "spiritual"
	ReligionOther     Religion = "other"
)

var religions = map[Religion]bool{
	ReligionAgnostic: true, ReligionAtheist: true, ReligionBuddhist: true,
	ReligionChristian: true, ReligionHindu: true, ReligionJewish: true,
	ReligionMuslim: true, ReligionSikh: true, ReligionSpiritual: true,
	ReligionOther: true,
}

func ParseReligion(s string) (Religion, error) {
	r := Religion(s)
	if !religions[r] {
		return "", fmt.Errorf("unknown religion %q", s)
	}
	return r, nil
}

type PoliticalView string

const (
	PoliticsLeft        PoliticalView = "left"
	PoliticsCenterLeft  PoliticalView = "center_left"
	PoliticsModerate    PoliticalView = "moderate"
	PoliticsCenterRight PoliticalView = "center_right"
	PoliticsRight       PoliticalView = "right"
)

var politicsRank = map[PoliticalView]int{
	PoliticsLeft:        0,
	PoliticsCenterLeft:  1,
	PoliticsModerate:    2,
	PoliticsCenterRight: 3,
	PoliticsRight:       4,
}

func (p PoliticalView) Rank() (int, bool) {
	r, ok := politicsRank[p]
	return r, ok
}

func ParsePoliticalView(s string) (PoliticalView, error) {
	p := PoliticalView(s)
	if _, ok := politicsRank[p]; !ok {
		return "", fmt.Errorf("unknown political view %q", s)
	}
	return p, nil
}

type DrinkingHabit string

const (
	DrinkingNever    DrinkingHabit = "never"
	DrinkingSocially DrinkingHabit = "socially"
	DrinkingOften    DrinkingHabit = "often"
)

var drinkingRank = map[DrinkingHabit]int{
	DrinkingNever:    0,
	DrinkingSocially: 1,
	DrinkingOften:    2,
}

func (d DrinkingHabit) Rank() (int, bool) {
	r, ok := drinkingRank[d]
	return r, ok
}

func ParseDrinkingHabit(s string) (DrinkingHabit, error) {
	d := DrinkingHabit(s)
	if _, ok := drinkingRank[d]; !ok {
		return "", fmt.Errorf("unknown drinking habit %q", s)
	}
	return d, nil
}

type SmokingHabit string

const (
	SmokingNever     SmokingHabit = "never"
	SmokingSocially  SmokingHabit = "socially"
	SmokingRegularly SmokingHabit = "regularly"
)

var smokingRank = map[SmokingHabit]int{
	SmokingNever:     0,
	SmokingSocially:  1,
	SmokingRegularly: 2,
}

func (s SmokingHabit) Rank() (int, bool) {
	r, ok := smokingRank[s]
	return r, ok
}

func ParseSmokingHabit(s string) (SmokingHabit, error) {
	h := SmokingHabit(s)
	if _, ok := smokingRank[h]; !ok {
		return "", fmt.Errorf("unknown smoking habit %q", s)
	}
	return h, nil
}

type ExerciseHabit string

const (
	ExerciseNever     ExerciseHabit = "never"
	ExerciseSometimes ExerciseHabit = "sometimes"
	ExerciseOften     ExerciseHabit = "often"
)

var exerciseRank = map[ExerciseHabit]int{
	ExerciseNever:     0,
	ExerciseSometimes: 1,
	ExerciseOften:     2,
}

func (e ExerciseHabit) Rank() (int, bool) {
	r, ok := exerciseRank[e]
	return r, ok
}

func ParseExerciseHabit(s string) (ExerciseHabit, error) {
	e := ExerciseHabit(s)
	if _, ok := exerciseRank[e]; !ok {
		return "", fmt.Errorf("unknown exercise habit %q", s)
	}
	return e, nil
}

type RelationshipType string

const (
	RelationshipMonogamy    RelationshipType = "monogamy"
	RelationshipNonMonogamy RelationshipType = "non_monogamy"
	RelationshipOpenToBoth  RelationshipType = "open_to_either"
)

var relationshipTypes = map[RelationshipType]bool{
	RelationshipMonogamy:    true,
	RelationshipNonMonogamy: true,
	RelationshipOpenToBoth:  true,
}

func ParseRelationshipType(s string) (RelationshipType, error) {
	r := RelationshipType(s)
	if !relationshipTypes[r] {
		return "", fmt.Errorf("unknown relationship type %q", s)
	}
	return r, nil
}
