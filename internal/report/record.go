package report

import (
	"fmt"
	"strings"

	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/protocol"
)

// Lifecycle states of a report record. A record moves through the
// reporting conversation one state at a time; COMPLETE and CANCELED are
// terminal, CLOSED is set by moderation after the record leaves the
// queue.
const (
	StateStart                = "REPORT_START"
	StateAwaitingMessage      = "AWAITING_MESSAGE"
	StateAwaitingAbuseType    = "AWAITING_ABUSE_TYPE"
	StateAwaitingSpecificType = "AWAITING_SPECIFIC_ABUSE_TYPE"
	StateImminentDanger       = "IMMINENT_DANGER"
	StateAwaitingGroomingInfo = "AWAITING_GROOMING_INFO"
	StateAwaitingDMPermission = "AWAITING_DM_PERMISSION_REQUEST"
	StateAwaitingBlockUser    = "AWAITING_BLOCK_USER_REQUEST"
	StateRemoveContent        = "REMOVE_CONTENT"
	StateComplete             = "REPORT_COMPLETE"
	StateCanceled             = "CANCELED"
	StateClosed               = "CLOSED"
)

// Record is one abuse report: who filed it, which message it concerns,
// how it was classified, and the risk signals gathered along the way.
// A record is owned by its reporting session until it enters the
// moderation queue, then by the queue until a moderator claims it.
type Record struct {
	ID              int64         // assigned at persistence time; zero until saved
	Author          protocol.User // reporter, or the synthetic system author
	GuildID         string
	Reported        protocol.MessageRef
	BroadType       abuse.BroadType
	SpecificType    abuse.SpecificType
	Indicators      []string // free-form risk indicators, e.g. "pictures_exchanged"
	DangerIndicated bool
	PermissionGiven bool
	Multiplier      int
	Automated       bool
	State           string
}

// NewRecord creates a report record in its initial state.
func NewRecord(author protocol.User) *Record {
	return &Record{
		Author:     author,
		Multiplier: 1,
		State:      StateStart,
	}
}

// Severity computes the report's severity score from the current field
// values. It is recomputed on every call rather than cached: it serves
// as both the queue sort key and the displayed score, and must track
// any change to the underlying fields.
func (r *Record) Severity() int {
	return abuse.Severity(r.SpecificType, r.Multiplier, len(r.Indicators))
}

// Complete reports whether the record finished the reporting flow.
func (r *Record) Complete() bool {
	return r.State == StateComplete
}

// Canceled reports whether the reporter aborted the flow.
func (r *Record) Canceled() bool {
	return r.State == StateCanceled
}

// Summary returns the one-line description used for mod-channel notices
// and queue listings.
func (r *Record) Summary() string {
	return fmt.Sprintf("%s reported by %s with severity %d", r.SpecificType, r.Author.Name, r.Severity())
}

// CompileForModeration renders the full report for a claiming moderator,
// including the prior-offense count for the reported user.
func (r *Record) CompileForModeration(priorOffenses int) string {
	var b strings.Builder

	b.WriteString("The following message was reported: \n\n")
	fmt.Fprintf(&b, "```%s: %s```\n", r.Reported.Author.Name, r.Reported.Content)
	fmt.Fprintf(&b, "Abuse type: %s\n", r.BroadType)
	fmt.Fprintf(&b, "Specific Abuse Type: %s\n", r.SpecificType)
	fmt.Fprintf(&b, "Severity: %d\n\n", r.Severity())

	if len(r.Indicators) > 0 {
		b.WriteString("The following grooming indicators were reported: \n")
		for _, ind := range r.Indicators {
			fmt.Fprintf(&b, "- %s\n", ind)
		}
		b.WriteString("\n")
	}
	if r.DangerIndicated {
		b.WriteString("The reporter indicated that there is an immediate risk to someone's safety.\n")
	}

	if r.PermissionGiven {
		b.WriteString("The reporter has given permission to review their message history.\n")
	} else if r.SpecificType == abuse.Grooming {
		b.WriteString("The reporter has *not* given permission to review their message history.\n")
	}

	if priorOffenses > 0 {
		fmt.Fprintf(&b, "%s has been reported %d time(s) in the past.\n", r.Reported.Author.Name, priorOffenses-1)
	}

	return b.String()
}

// Affirmative reports whether a free-text reply reads as a yes. The
// check is deliberately permissive: any 'y' anywhere in the trimmed
// reply counts, case-insensitive, so "yes", "yeah" and "yup" all match
// (and so does "anyway" — a known quirk kept for compatibility). Every
// yes/no question in the pipeline goes through this one helper.
func Affirmative(reply string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(reply)), "y")
}
