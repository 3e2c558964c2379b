// Package narrative builds story and historical-context prompts from a
// persona and joins the two generated texts into one result.
package narrative

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

type Locale string

const (
	LocaleEnglish Locale = "en"
	LocaleArabic  Locale = "ar"
)

// ParseLocale maps anything other than "ar" to English.
func ParseLocale(s string) Locale {
	if strings.EqualFold(strings.TrimSpace(s), string(LocaleArabic)) {
		return LocaleArabic
	}
	return LocaleEnglish
}

// Persona is the subject of a narrative. It is passed by value and never
// mutated once submitted.
type Persona struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	Sex  Sex    `json:"sex"`
	City string `json:"city"`
	Year int    `json:"year"`
}

// City is one of the fixed locations a persona can live in.
type City struct {
	English string
	Arabic  string
}

var Cities = []City{
	{"Jerusalem", "القدس"},
	{"Gaza", "غزة"},
	{"Ramallah", "رام الله"},
	{"Bethlehem", "بيت لحم"},
	{"Hebron", "الخليل"},
	{"Nablus", "نابلس"},
	{"Jenin", "جنين"},
	{"Tulkarem", "طولكرم"},
	{"Qalqilya", "قلقيلية"},
	{"Jericho", "أريحا"},
}

const (
	MinAge  = 5
	MaxAge  = 90
	MinYear = 1900
)

var (
	ErrNameRequired = errors.New("name is required")
	ErrAgeRange     = fmt.Errorf("age must be between %d and %d", MinAge, MaxAge)
	ErrSexInvalid   = errors.New("sex must be male or female")
	ErrCityRequired = errors.New("city is required")
	ErrCityUnknown  = errors.New("city is not a known location")
	ErrYearRange    = errors.New("year is out of range")
)

// KnownCity reports whether name is one of Cities (English names).
func KnownCity(name string) bool {
	for _, c := range Cities {
		if c.English == name {
			return true
		}
	}
	return false
}

// CityName returns the display name of an English city name in loc,
// falling back to the input when it is not a known city.
func CityName(name string, loc Locale) string {
	if loc != LocaleArabic {
		return name
	}
	for _, c := range Cities {
		if c.English == name {
			return c.Arabic
		}
	}
	return name
}

// Validate applies the form's input rules. The orchestrator does not call
// it; range checks are the submitting side's job.
func (p Persona) Validate(now time.Time) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if p.Age < MinAge || p.Age > MaxAge {
		return ErrAgeRange
	}
	if p.Sex != SexMale && p.Sex != SexFemale {
		return ErrSexInvalid
	}
	if strings.TrimSpace(p.City) == "" {
		return ErrCityRequired
	}
	if !KnownCity(p.City) {
		return ErrCityUnknown
	}
	if p.Year < MinYear || p.Year > now.Year() {
		return fmt.Errorf("%w: must be between %d and %d", ErrYearRange, MinYear, now.Year())
	}
	return nil
}

// Summary renders the one-line persona chip, e.g. "Amina, 30 y/o, Gaza, 1967".
func (p Persona) Summary(loc Locale) string {
	unit := "y/o"
	if loc == LocaleArabic {
		unit = "سنة"
	}
	return fmt.Sprintf("%s, %d %s, %s, %d", p.Name, p.Age, unit, CityName(p.City, loc), p.Year)
}

// RandomPersona picks a year in 1948..2023, a random city and sex, and an
// age in 18..80.
func RandomPersona(rng *rand.Rand) Persona {
	sex := SexMale
	if rng.Float64() < 0.5 {
		sex = SexFemale
	}
	name := "Amin"
	if sex == SexFemale {
		name = "Amina"
	}
	return Persona{
		Name: name,
		Age:  rng.Intn(80-18+1) + 18,
		Sex:  sex,
		City: Cities[rng.Intn(len(Cities))].English,
		Year: rng.Intn(2023-1948+1) + 1948,
	}
}
