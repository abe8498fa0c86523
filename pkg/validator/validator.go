// Package validator checks client-supplied payloads before they reach
// the coordination actors.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emberlink/ember/internal/domain"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// String flattens the errors into one client-facing message, fields in
// stable order.
func (v ValidationErrors) String() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return strings.Join(parts, "; ")
}

// ValidateQueueJoin checks a queue.join payload: the intent is required
// and every supplied preference must be inside its enumeration.
func ValidateQueueJoin(intent string, coords *domain.LatLng, prefs *domain.Preferences) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(intent) == "" {
		errs.Add("intent", "Intent is required")
	} else if _, err := domain.ParseIntent(intent); err != nil {
		errs.Add("intent", "Intent must be casual, friends, serious or networking")
	}

	if coords != nil {
		if coords.Lat < -90 || coords.Lat > 90 {
			errs.Add("coords", "Latitude must be between -90 and 90")
		} else if coords.Lng < -180 || coords.Lng > 180 {
			errs.Add("coords", "Longitude must be between -180 and 180")
		}
	}

	if prefs != nil {
		validatePreferences(prefs, errs)
	}

	return errs
}

func validatePreferences(p *domain.Preferences, errs ValidationErrors) {
	if p.AgeMin < 0 || p.AgeMax < 0 {
		errs.Add("age", "Age bounds cannot be negative")
	} else if p.AgeMin > 0 && p.AgeMax > 0 && p.AgeMin > p.AgeMax {
		errs.Add("age", "Minimum age cannot exceed maximum age")
	} else if p.AgeMin > 0 && p.AgeMin < 18 {
		errs.Add("age", "Minimum age must be at least 18")
	}

	if p.MaxDistanceKm < 0 {
		errs.Add("max_distance_km", "Max distance cannot be negative")
	}

	for _, g := range p.Genders {
		if _, err := domain.ParseGender(string(g)); err != nil {
			errs.Add("genders", fmt.Sprintf("Unknown gender %q", g))
			break
		}
	}
	for _, i := range p.Intents {
		if _, err := domain.ParseIntent(string(i)); err != nil {
			errs.Add("intents", fmt.Sprintf("Unknown intent %q", i))
			break
		}
	}
	for _, e := range p.Education {
		if _, err := domain.ParseEducation(string(e)); err != nil {
			errs.Add("education", fmt.Sprintf("Unknown education level %q", e))
			break
		}
	}
	for _, f := range p.FamilyPlans {
		if _, err := domain.ParseFamilyPlan(string(f)); err != nil {
			errs.Add("family_plans", fmt.Sprintf("Unknown family plan %q", f))
			break
		}
	}
	for _, r := range p.Religions {
		if _, err := domain.ParseReligion(string(r)); err != nil {
			errs.Add("religions", fmt.Sprintf("Unknown religion %q", r))
			break
		}
	}
	for _, v := range p.Politics {
		if _, err := domain.ParsePoliticalView(string(v)); err != nil {
			errs.Add("politics", fmt.Sprintf("Unknown political view %q", v))
			break
		}
	}
	for _, d := range p.Drinking {
		if _, err := domain.ParseDrinkingHabit(string(d)); err != nil {
			errs.Add("drinking", fmt.Sprintf("Unknown drinking habit %q", d))
			break
		}
	}
	for _, s := range p.Smoking {
		if _, err := domain.ParseSmokingHabit(string(s)); err != nil {
			errs.Add("smoking", fmt.Sprintf("Unknown smoking habit %q", s))
			break
		}
	}
	for _, rt := range p.RelationshipTypes {
		if _, err := domain.ParseRelationshipType(string(rt)); err != nil {
			errs.Add("relationship_types", fmt.Sprintf("Unknown relationship type %q", rt))
			break
		}
	}
}
