// Package abuse defines the two-level abuse taxonomy used across the
// moderation pipeline and the severity model derived from it. The broad
// type picks the reporting category; the specific type carries the base
// severity weight that drives queue ordering.
package abuse

import (
	"fmt"
	"strings"
)

// BroadType is the top-level abuse category a reporter (or the automated
// detector) assigns to a message.
type BroadType string

const (
	Spam            BroadType = "SPAM"
	ExplicitContent BroadType = "EXPLICIT_CONTENT"
	Threat          BroadType = "THREAT"
	Harassment      BroadType = "HARASSMENT"
	Other           BroadType = "OTHER"
)

// SpecificType is the second-level classification. Every specific type
// belongs to exactly one broad type. OTHER has no specific subtype.
type SpecificType string

const (
	// Broad: SPAM
	Scam           SpecificType = "SCAM"
	BotMessages    SpecificType = "BOTMESSAGES"
	Solicitation   SpecificType = "SOLICITATION"
	Impersonation  SpecificType = "IMPERSONATION"
	Misinformation SpecificType = "MISINFORMATION"

	// Broad: EXPLICIT_CONTENT
	SexualContent SpecificType = "SEXUAL_CONTENT"
	Violence      SpecificType = "VIOLENCE"
	HateSpeech    SpecificType = "HATE_SPEECH"

	// Broad: THREAT
	SelfHarm            SpecificType = "SELF_HARM"
	TerroristPropaganda SpecificType = "TERRORIST_PROPAGANDA"
	Doxxing             SpecificType = "DOXXING"

	// Broad: HARASSMENT
	Bullying          SpecificType = "BULLYING"
	Sexual            SpecificType = "SEXUAL"
	ContinuousContact SpecificType = "CONTINUOUS_CONTACT"
	Grooming          SpecificType = "CHILD_GROOMING"
)

// baseWeights is the fixed base-severity table. Weights range 2-5 for
// specific types; reports filed as OTHER carry weight 1.
var baseWeights = map[SpecificType]int{
	Scam:                3,
	BotMessages:         2,
	Solicitation:        2,
	Impersonation:       3,
	Misinformation:      2,
	SexualContent:       3,
	Violence:            4,
	HateSpeech:          2,
	SelfHarm:            4,
	TerroristPropaganda: 5,
	Doxxing:             4,
	Bullying:            3,
	Sexual:              4,
	ContinuousContact:   3,
	Grooming:            5,
}

// OtherWeight is the base weight applied when the broad type is OTHER
// and no specific subtype exists.
const OtherWeight = 1

// Subtypes returns the specific types belonging to a broad type, in menu
// order. OTHER returns an empty slice.
func Subtypes(broad BroadType) []SpecificType {
	switch broad {
	case Spam:
		return []SpecificType{Scam, BotMessages, Solicitation, Impersonation, Misinformation}
	case ExplicitContent:
		return []SpecificType{SexualContent, Violence, HateSpeech}
	case Threat:
		return []SpecificType{SelfHarm, TerroristPropaganda, Doxxing}
	case Harassment:
		return []SpecificType{Bullying, Sexual, ContinuousContact, Grooming}
	default:
		return nil
	}
}

// BroadOf returns the broad type a specific type belongs to.
func BroadOf(specific SpecificType) BroadType {
	for _, broad := range []BroadType{Spam, ExplicitContent, Threat, Harassment} {
		for _, s := range Subtypes(broad) {
			if s == specific {
				return broad
			}
		}
	}
	return Other
}

// BaseWeight returns the base severity weight for a specific type. The
// zero value SpecificType ("") means no subtype was assigned and yields
// OtherWeight.
func BaseWeight(specific SpecificType) int {
	if w, ok := baseWeights[specific]; ok {
		return w
	}
	return OtherWeight
}

// Severity computes the severity score for a report:
//
//	base_weight * multiplier + indicator_count
//
// The multiplier starts at 1 and is doubled exactly once if imminent
// danger was indicated. Severity is never cached by callers; it doubles
// as both the queue sort key and the displayed score, so it must be
// recomputed whenever inputs change.
func Severity(specific SpecificType, multiplier int, indicators int) int {
	return BaseWeight(specific)*multiplier + indicators
}

// ParseBroadLabel matches free text from the classifier against the
// broad-type labels. This is deliberately the only place in the codebase
// that does substring matching on classifier output; the matching is
// fragile by nature and kept here so it can be hardened in one spot.
//
// EXPLICIT_CONTENT is checked before the bare labels so that an answer
// mentioning it is not shadowed by an incidental "THREAT" substring.
func ParseBroadLabel(answer string) (BroadType, error) {
	upper := strings.ToUpper(answer)
	for _, broad := range []BroadType{ExplicitContent, Spam, Threat, Harassment} {
		if strings.Contains(upper, string(broad)) {
			return broad, nil
		}
	}
	return "", fmt.Errorf("abuse: unrecognized broad type in answer %q", answer)
}

// ParseSpecificLabel matches free text from the classifier against the
// specific-type labels belonging to the given broad type.
func ParseSpecificLabel(broad BroadType, answer string) (SpecificType, error) {
	upper := strings.ToUpper(answer)
	for _, specific := range Subtypes(broad) {
		if strings.Contains(upper, string(specific)) {
			return specific, nil
		}
	}
	// GROOMING serializes as CHILD_GROOMING; accept the bare label too.
	if broad == Harassment && strings.Contains(upper, "GROOMING") {
		return Grooming, nil
	}
	return "", fmt.Errorf("abuse: unrecognized %s subtype in answer %q", broad, answer)
}
