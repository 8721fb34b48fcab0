package report

import (
	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/protocol"
)

// Menu IDs for the selection prompts in the reporting flow. The
// transport echoes the ID back with the chosen values, so the session
// routes selections without knowing anything about the UI widget.
const (
	MenuAbuseType    = "report:abuse_type"
	MenuSpecificType = "report:specific_type"
	MenuGroomingInfo = "report:grooming_info"
)

// abuseTypeMenu asks why the message is being reported.
func abuseTypeMenu() *protocol.Menu {
	return &protocol.Menu{
		ID:          MenuAbuseType,
		Placeholder: "Why are you reporting this message?",
		MinValues:   1,
		MaxValues:   1,
		Options: []protocol.MenuOption{
			{Label: "Spam", Value: string(abuse.Spam), Description: "Select this if you are receiving repetitive and unwanted messages."},
			{Label: "Explicit Content", Value: string(abuse.ExplicitContent), Description: "Select this for content that is sexually explicit or graphically violent."},
			{Label: "Threat", Value: string(abuse.Threat), Description: "Select this if there is a threat to oneself or others, including threats of violence."},
			{Label: "Harassment", Value: string(abuse.Harassment), Description: "Select this for continuous aggressive pressure or intimidation."},
			{Label: "Other", Value: string(abuse.Other), Description: "Select this if you find the content uncomfortable or objectionable for other reasons."},
		},
	}
}

// specificTypeDescriptions carries the per-subtype help text shown in
// the second-level menu.
var specificTypeDescriptions = map[abuse.SpecificType]struct {
	label       string
	description string
}{
	abuse.Scam:                {"Scam", "Content trying to deceitfully persuade you to give personal information or money."},
	abuse.BotMessages:         {"Bot Messages", "Bots sending unsolicited messages."},
	abuse.Solicitation:        {"Solicitation", "Unwanted direct solicitations for services or products."},
	abuse.Impersonation:       {"Impersonation", "Someone is pretending to be someone else to deceive or mislead."},
	abuse.Misinformation:      {"Misinformation", "Spreading false or misleading information."},
	abuse.SexualContent:       {"Sexual Content", "Sexual material or activity."},
	abuse.Violence:            {"Violence", "Graphic depictions of violence."},
	abuse.HateSpeech:          {"Hate Speech", "Hate or violence against groups of specific identities."},
	abuse.SelfHarm:            {"Self Harm", "Threat of self-inflicted harm or suicide."},
	abuse.TerroristPropaganda: {"Terrorist Propaganda", "Content promotes terrorist activities or organizations."},
	abuse.Doxxing:             {"Doxxing", "Someone's private information is being shared without consent."},
	abuse.Bullying:            {"Bullying", "Repeated actions aimed at coercing someone unfairly."},
	abuse.Sexual:              {"Sexual Harassment", "Harassment of a sexual nature."},
	abuse.ContinuousContact:   {"Continuous Contact", "Persistent and unwanted contact."},
	abuse.Grooming:            {"Child Grooming", "Emotional connection to lower someone's inhibitions for abuse or exploitation."},
}

// specificTypePlaceholders picks the second-level menu placeholder per
// broad type.
var specificTypePlaceholders = map[abuse.BroadType]string{
	abuse.Spam:            "What specific type of spam are you reporting?",
	abuse.ExplicitContent: "What type of explicit content are you reporting?",
	abuse.Threat:          "What specific type of threat are you reporting?",
	abuse.Harassment:      "What specific type of harassment are you reporting?",
}

// specificTypeMenu asks for the second-level classification under the
// chosen broad type.
func specificTypeMenu(broad abuse.BroadType) *protocol.Menu {
	subtypes := abuse.Subtypes(broad)
	options := make([]protocol.MenuOption, 0, len(subtypes))
	for _, s := range subtypes {
		d := specificTypeDescriptions[s]
		options = append(options, protocol.MenuOption{
			Label:       d.label,
			Value:       string(s),
			Description: d.description,
		})
	}
	return &protocol.Menu{
		ID:          MenuSpecificType,
		Placeholder: specificTypePlaceholders[broad],
		MinValues:   1,
		MaxValues:   1,
		Options:     options,
	}
}

// groomingInfoMenu collects the interaction-history risk indicators on
// the grooming path. Zero selections is a valid answer.
func groomingInfoMenu() *protocol.Menu {
	return &protocol.Menu{
		ID:          MenuGroomingInfo,
		Placeholder: "Which of the following have occurred?",
		MinValues:   0,
		MaxValues:   3,
		Options: []protocol.MenuOption{
			{Label: "Pictures have been exchanged", Value: "pictures_exchanged"},
			{Label: "Met this person in real life", Value: "met_in_real_life"},
			{Label: "They've asked personal questions", Value: "personal_questions_asked"},
		},
	}
}
