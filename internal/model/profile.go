package model

import "strings"

// Profile is the optional self-reported data used for compatibility matching
// and horoscopes. BirthDate is always solar (YYYY-MM-DD); lunar dates are
// converted before they reach the server and CalendarType only records what
// the patron originally entered.
type Profile struct {
	MBTI         string `json:"mbti,omitempty"`
	BirthDate    string `json:"birthDate,omitempty"`
	CalendarType string `json:"calendarType,omitempty"`
	Element      string `json:"element,omitempty"`
}

// IsZero reports whether no profile field is set.
func (p Profile) IsZero() bool {
	return p == Profile{}
}

const (
	CalendarSolar = "solar"
	CalendarLunar = "lunar"
)

// Five-element tags derived from the day pillar.
const (
	ElementWood  = "wood"
	ElementFire  = "fire"
	ElementEarth = "earth"
	ElementMetal = "metal"
	ElementWater = "water"
)

// Elements lists every valid element tag.
var Elements = []string{ElementWood, ElementFire, ElementEarth, ElementMetal, ElementWater}

// MBTITypes lists the sixteen valid MBTI codes.
var MBTITypes = []string{
	"INTJ", "INTP", "ENTJ", "ENTP",
	"INFJ", "INFP", "ENFJ", "ENFP",
	"ISTJ", "ISFJ", "ESTJ", "ESFJ",
	"ISTP", "ISFP", "ESTP", "ESFP",
}

// IsValidMBTI is case-insensitive.
func IsValidMBTI(s string) bool {
	s = strings.ToUpper(s)
	for _, t := range MBTITypes {
		if t == s {
			return true
		}
	}
	return false
}

// IsValidElement is case-sensitive; elements are stored lower-case.
func IsValidElement(s string) bool {
	for _, e := range Elements {
		if e == s {
			return true
		}
	}
	return false
}
