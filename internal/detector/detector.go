// Package detector implements automated violation detection: it runs a
// fixed multi-turn question protocol against the LLM classifier over a
// channel transcript and, on a confirmed violation, synthesizes a
// completed abuse report with no human reporter involved.
package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/classifier"
	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/report"
)

// Markers the policy-check step expects in the classifier's answer.
const (
	ReportMarker      = "REPORT"
	NoViolationMarker = "NO_VIOLATION"
)

// SystemAuthor is the synthetic reporter attributed to automated
// reports.
var SystemAuthor = protocol.User{ID: "0", Name: "AutoModerator"}

// Prompt templates for the fixed classifier protocol.
const (
	contentPolicy = "If a conversation consists of any of these violations: SPAM, EXPLICIT CONTENT, " +
		"THREAT TO ONESELF OR OTHERS, or HARASSMENT, it must be reported immediately"

	policyPrompt = "You are a helpful AI assistant. Your job is to moderate a chat channel in order to " +
		"detect violations of content according to the CONTENT POLICY, described here: %s. " +
		"Please consider the following conversation between users:\n%s\n" +
		"If the conversation violates the CONTENT POLICY, please say this: " + ReportMarker + ". " +
		"If it does not, please say this and only this: " + NoViolationMarker + "."

	questionPrompt = "You are a helpful AI assistant. Your job is to consider a conversation and answer " +
		"questions about this conversation. The conversation is as follows:\n%s\n%s"

	broadQuestion = "Which of the following violation categories best describes this conversation: " +
		"SPAM, EXPLICIT_CONTENT, THREAT, or HARASSMENT? Answer with exactly one of these labels."

	dangerQuestion = "Does this conversation indicate an immediate risk to someone's safety? Answer Yes or No."
)

// groomingQuestions are the extra questions asked when the specific
// type is grooming. The first three map onto named risk indicators; the
// fourth is a severity judgment whose answer is intentionally not
// recorded as an indicator (it matches the human reporting flow, which
// only ever collects three).
var groomingQuestions = []struct {
	question  string
	indicator string
}{
	{"In this conversation, have pictures been exchanged between the users? Answer Yes or No.", "pictures_exchanged"},
	{"In this conversation, have the users met in real life or planned to meet? Answer Yes or No.", "met_in_real_life"},
	{"In this conversation, has one user asked the other personal questions? Answer Yes or No.", "personal_questions_asked"},
	{"Would you judge this conversation to be a severe case of grooming? Answer Yes or No.", ""},
}

// ClassificationError is the fatal protocol error raised when the
// classifier's answer to a closed-choice question cannot be matched to
// any expected label. It aborts the detection pass; nothing is enqueued.
type ClassificationError struct {
	Question string
	Answer   string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("detector: unrecognized classifier answer %q to question %q", e.Answer, e.Question)
}

// Detector runs the classification protocol.
type Detector struct {
	classifier classifier.Client
}

// New creates a detector on the given classifier client.
func New(c classifier.Client) *Detector {
	return &Detector{classifier: c}
}

// Inspect runs the full protocol over a transcript. It returns a
// completed report record attributed to the system author, or nil if
// the transcript does not violate policy. The reported message is the
// newest window entry, passed in by the caller. Any unrecognized
// classifier answer returns a *ClassificationError and no record.
func (d *Detector) Inspect(ctx context.Context, transcript string, newest protocol.MessageRef) (*report.Record, error) {
	// Step 1: policy check. A no-violation marker stops the pass.
	answer, err := d.classifier.Classify(ctx, fmt.Sprintf(policyPrompt, contentPolicy, transcript), "")
	if err != nil {
		return nil, fmt.Errorf("detector: policy check: %w", err)
	}
	if containsMarker(answer, NoViolationMarker) || !containsMarker(answer, ReportMarker) {
		return nil, nil
	}

	// Step 2: broad-type classification.
	answer, err = d.ask(ctx, transcript, broadQuestion)
	if err != nil {
		return nil, err
	}
	broad, err := abuse.ParseBroadLabel(answer)
	if err != nil {
		return nil, &ClassificationError{Question: broadQuestion, Answer: answer}
	}

	rec := report.NewRecord(SystemAuthor)
	rec.Automated = true
	rec.GuildID = newest.GuildID
	rec.Reported = newest
	rec.BroadType = broad

	// Step 3: specific-type classification under the chosen broad type.
	specificQuestion := specificQuestionFor(broad)
	answer, err = d.ask(ctx, transcript, specificQuestion)
	if err != nil {
		return nil, err
	}
	specific, err := abuse.ParseSpecificLabel(broad, answer)
	if err != nil {
		return nil, &ClassificationError{Question: specificQuestion, Answer: answer}
	}
	rec.SpecificType = specific

	// Step 4: danger assessment (free-form yes/no).
	answer, err = d.ask(ctx, transcript, dangerQuestion)
	if err != nil {
		return nil, err
	}
	if report.Affirmative(answer) {
		rec.DangerIndicated = true
		rec.Multiplier *= 2
	}

	// Step 5: grooming follow-ups.
	if specific == abuse.Grooming {
		for _, q := range groomingQuestions {
			answer, err = d.ask(ctx, transcript, q.question)
			if err != nil {
				return nil, err
			}
			if q.indicator != "" && report.Affirmative(answer) {
				rec.Indicators = append(rec.Indicators, q.indicator)
			}
		}
	}

	rec.State = report.StateComplete
	return rec, nil
}

// ask sends one question about the transcript.
func (d *Detector) ask(ctx context.Context, transcript, question string) (string, error) {
	answer, err := d.classifier.Classify(ctx, fmt.Sprintf(questionPrompt, transcript, question), "")
	if err != nil {
		return "", fmt.Errorf("detector: classify: %w", err)
	}
	return answer, nil
}

// specificQuestionFor builds the closed-choice second-level question.
func specificQuestionFor(broad abuse.BroadType) string {
	subtypes := abuse.Subtypes(broad)
	list := ""
	for i, s := range subtypes {
		if i > 0 {
			list += ", "
		}
		list += string(s)
	}
	return fmt.Sprintf("Which of the following best describes this conversation: %s? Answer with exactly one of these labels.", list)
}

// containsMarker checks for a protocol marker in the classifier answer.
// NO_VIOLATION has no substring collision with REPORT, so plain
// containment is safe here.
func containsMarker(answer, marker string) bool {
	return strings.Contains(answer, marker)
}
