// Package moderate implements the moderator-side conversation: a
// per-moderator state machine that reviews one claimed abuse report,
// captures a verdict, actions, and justification, and dispatches the
// resulting notifications.
package moderate

import (
	"context"
	"fmt"

	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/report"
)

// States of the moderation conversation. MODERATE_COMPLETE is terminal
// and also reachable directly from LEGITIMATE_REPORT on a negative
// verdict.
const (
	StateStart                     = "MODERATE_START"
	StateLegitimateReport          = "LEGITIMATE_REPORT"
	StateNotifyAuthorities         = "NOTIFY_AUTHORITIES"
	StateNotifyAuthoritiesComplete = "NOTIFY_AUTHORITIES_COMPLETE"
	StateAwaitingActions           = "AWAITING_ACTIONS"
	StateAwaitingActionReason      = "AWAITING_ACTION_REASON"
	StateComplete                  = "MODERATE_COMPLETE"
)

// Keywords understood in the mod channel.
const (
	StartKeyword       = "moderate"
	ShowReportsKeyword = "show reports"
)

// Actions a moderator can select against the reported user.
const (
	ActionPermanentBan = "permanent_ban"
	ActionTemporaryBan = "temporary_ban"
	ActionWarn         = "warn"
	ActionBlock        = "block"
)

// MenuActions is the menu ID for the action multi-select.
const MenuActions = "moderate:actions"

// Notifier dispatches the direct-message side effects of a completed
// moderation. Implemented against the messaging layer; tests substitute
// an in-memory fake.
type Notifier interface {
	DirectMessage(ctx context.Context, userID, text string) error
}

// Record is the disposition of one claimed report: who moderated it,
// which actions were selected, and why.
type Record struct {
	Report              *report.Record
	Moderator           protocol.User
	Actions             []string
	Justification       string
	AuthoritiesReport   string
	AuthoritiesNotified bool
	State               string
}

// Session is one moderator's active review of a claimed report. Not
// goroutine-safe; the router serializes events per moderator.
type Session struct {
	record        *Record
	notifier      Notifier
	priorOffenses int
}

// NewSession binds a claimed report to a moderator. The report must
// already have been removed from the queue by the caller.
func NewSession(moderator protocol.User, rec *report.Record, priorOffenses int, notifier Notifier) *Session {
	return &Session{
		record: &Record{
			Report:    rec,
			Moderator: moderator,
			State:     StateStart,
		},
		notifier:      notifier,
		priorOffenses: priorOffenses,
	}
}

// Record returns the moderation record the session is building.
func (s *Session) Record() *Record {
	return s.record
}

// State returns the session's current state.
func (s *Session) State() string {
	return s.record.State
}

// Complete reports whether the moderation reached its terminal state.
func (s *Session) Complete() bool {
	return s.record.State == StateComplete
}

// HandleEvent consumes one inbound event and returns the replies to
// render. Notification failures leave the session at its pre-call state
// so the moderator can retry.
func (s *Session) HandleEvent(ctx context.Context, ev protocol.Event) ([]protocol.Outbound, error) {
	switch s.record.State {
	case StateStart:
		return s.handleStart()
	case StateLegitimateReport:
		return s.handleLegitimateReport(ev)
	case StateNotifyAuthorities:
		return s.handleNotifyAuthorities(ev)
	case StateNotifyAuthoritiesComplete:
		return s.handleNotifyAuthoritiesComplete(ctx, ev)
	case StateAwaitingActions:
		return s.handleAwaitingActions(ev)
	case StateAwaitingActionReason:
		return s.handleActionReason(ctx, ev)
	}

	return nil, nil
}

func (s *Session) handleStart() ([]protocol.Outbound, error) {
	s.record.State = StateLegitimateReport

	reply := "Thank you for starting the moderating process. \n"
	reply += fmt.Sprintf("Please review the following report filed by %s:\n\n\n", s.record.Report.Author.Name)
	reply += s.record.Report.CompileForModeration(s.priorOffenses)
	reply += "Does this seem like a legitimate report that you'd like to proceed with? (Yes/No)"
	return text(reply), nil
}

func (s *Session) handleLegitimateReport(ev protocol.Event) ([]protocol.Outbound, error) {
	if report.Affirmative(ev.Text) {
		s.record.State = StateNotifyAuthorities
		return text("Based on the details from the report, do you think the user or others are in imminent danger? (Yes/No)\n"), nil
	}

	s.record.State = StateComplete
	s.record.Report.State = report.StateClosed

	response := "Thank you for your input. The report will be passed onto another team to investigate wrongful reporting. \n\n\n"
	response += "Moderation is complete!"
	return text(response), nil
}

func (s *Session) handleNotifyAuthorities(ev protocol.Event) ([]protocol.Outbound, error) {
	if report.Affirmative(ev.Text) {
		s.record.State = StateNotifyAuthoritiesComplete
		return text("Please include a short description to send to the authorities along with the rest of the report.\n"), nil
	}

	s.record.State = StateAwaitingActions
	return []protocol.Outbound{
		{Text: "Thank you for your input. The report will be passed onto the moderation team for further action.\n\n\n"},
		{Text: "Please select action(s) against the reported user.", Menu: actionMenu()},
	}, nil
}

func (s *Session) handleNotifyAuthoritiesComplete(ctx context.Context, ev protocol.Event) ([]protocol.Outbound, error) {
	offender := s.record.Report.Reported.Author

	// The authorities path bans immediately; the DM goes out before any
	// state mutation so a send failure leaves the session retryable.
	err := s.notifier.DirectMessage(ctx, offender.ID,
		"You have been temporarily banned from the platform while we investigate a violation of our platform policies. \n")
	if err != nil {
		return nil, fmt.Errorf("moderate: notify banned user: %w", err)
	}

	s.record.AuthoritiesReport = ev.Text
	s.record.AuthoritiesNotified = true
	s.record.Actions = append(s.record.Actions, ActionTemporaryBan)
	s.record.State = StateAwaitingActionReason

	response := "A report will be compiled and forwarded to the authorities. \n\n"
	response += fmt.Sprintf("%s has been temporarily banned from the platform and has been notified. \n\n", offender.Name)
	response += "Please explain why you chose to report the case to the authorities so that other teams can verify the moderation!\n"
	return text(response), nil
}

func (s *Session) handleAwaitingActions(ev protocol.Event) ([]protocol.Outbound, error) {
	if ev.Menu == nil || ev.Menu.MenuID != MenuActions {
		return nil, nil
	}

	s.record.Actions = append([]string(nil), ev.Menu.Values...)
	s.record.State = StateAwaitingActionReason
	return text("Please include your reasons for taking these actions: \n"), nil
}

func (s *Session) handleActionReason(ctx context.Context, ev protocol.Event) ([]protocol.Outbound, error) {
	offender := s.record.Report.Reported.Author
	reporter := s.record.Report.Author

	// Dispatch exactly one notification per selected action. All sends
	// happen before state mutation. The authorities path already sent
	// its ban notice, so nothing is re-dispatched there.
	actions := s.record.Actions
	if s.record.AuthoritiesNotified {
		actions = nil
	}
	for _, action := range actions {
		var (
			userID string
			body   string
		)
		switch action {
		case ActionPermanentBan:
			userID = offender.ID
			body = "You have been permanently banned from the platform for violating our platform policies. \n"
		case ActionTemporaryBan:
			userID = offender.ID
			body = "You have been temporarily banned from the platform while we investigate a violation of our platform policies. \n"
		case ActionBlock:
			userID = reporter.ID
			body = fmt.Sprintf("%s has been blocked.", offender.Name)
		case ActionWarn:
			userID = offender.ID
			body = "This is a warning: your recent behavior violated our platform policies. Further violations may lead to a ban."
		default:
			continue
		}
		if err := s.notifier.DirectMessage(ctx, userID, body); err != nil {
			return nil, fmt.Errorf("moderate: dispatch %s notification: %w", action, err)
		}
	}

	s.record.Justification = ev.Text
	s.record.State = StateComplete
	s.record.Report.State = report.StateClosed

	response := "Thank you for your response. All necessary actions will be taken.\n"
	response += "The moderation is complete!\n"
	return text(response), nil
}

// actionMenu is the moderator's multi-select of remedial actions. Zero
// selections is a valid choice.
func actionMenu() *protocol.Menu {
	return &protocol.Menu{
		ID:          MenuActions,
		Placeholder: "Please select action(s) against the reported user",
		MinValues:   0,
		MaxValues:   4,
		Options: []protocol.MenuOption{
			{Label: "Permanently ban the User", Value: ActionPermanentBan, Description: "Permanently remove the user from the platform."},
			{Label: "Temporarily ban the User", Value: ActionTemporaryBan, Description: "Remove the user from the platform while the case is investigated."},
			{Label: "Warn the User", Value: ActionWarn, Description: "Issue a formal warning to the user."},
			{Label: "Block the User", Value: ActionBlock, Description: "Prevent the user from interacting with the victim."},
		},
	}
}

// text wraps a single plain-text reply.
func text(s string) []protocol.Outbound {
	return []protocol.Outbound{{Text: s}}
}
