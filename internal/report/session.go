// Package report implements the reporter-side conversation: a per-user
// state machine that walks a reporter from a message link to a finished
// abuse report ready for the moderation queue.
package report

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/protocol"
)

// Keywords understood on the reporter side.
const (
	StartKeyword  = "report"
	CancelKeyword = "cancel"
	HelpKeyword   = "help"
)

// Sentinel errors a MessageResolver returns when a message link cannot
// be resolved. All three are recoverable: the session stays put and the
// reporter is asked to retry.
var (
	ErrGuildNotFound   = errors.New("report: guild not found")
	ErrChannelNotFound = errors.New("report: channel not found")
	ErrMessageNotFound = errors.New("report: message not found")
)

// MessageResolver looks up the message a link points at. Implemented by
// the router against the platform's message history; tests substitute
// an in-memory fake.
type MessageResolver interface {
	Resolve(ctx context.Context, guildID, channelID, messageID string) (protocol.MessageRef, error)
}

// linkPattern extracts the guild/channel/message triple from a copied
// message link: a numeric guild ID, the channel name, and the numeric
// message ID the gateway minted for the message. The trailing boundary
// keeps a partial digit run (e.g. the head of a hex token) from
// passing as a message ID.
var linkPattern = regexp.MustCompile(`/(\d+)/([\w-]+)/(\d+)\b`)

// ParseLink extracts the guild ID, channel name, and message ID from a
// pasted message link. The gateway renders these links under every
// channel post, so anything it produced round-trips through here.
func ParseLink(s string) (guildID, channelID, messageID string, ok bool) {
	m := linkPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// Session is one reporter's active reporting conversation. Not
// goroutine-safe; the router serializes events per user.
type Session struct {
	record   *Record
	resolver MessageResolver
}

// NewSession starts a reporting conversation for the given user.
func NewSession(author protocol.User, resolver MessageResolver) *Session {
	return &Session{
		record:   NewRecord(author),
		resolver: resolver,
	}
}

// Record returns the report record the session is building.
func (s *Session) Record() *Record {
	return s.record
}

// State returns the session's current state.
func (s *Session) State() string {
	return s.record.State
}

// Complete reports whether the conversation reached a terminal state.
// Note the original-flow convention: a canceled report also counts as
// complete for session-cleanup purposes; callers distinguish via
// Canceled.
func (s *Session) Complete() bool {
	return s.record.State == StateComplete || s.record.State == StateCanceled
}

// Canceled reports whether the reporter aborted the conversation.
func (s *Session) Canceled() bool {
	return s.record.Canceled()
}

// HandleEvent consumes one inbound event and returns the replies to
// render. User-input problems (bad link, unresolvable message) are
// handled in place with a retry prompt; only collaborator failures
// surface as errors.
func (s *Session) HandleEvent(ctx context.Context, ev protocol.Event) ([]protocol.Outbound, error) {
	if ev.Menu == nil && ev.Text == CancelKeyword {
		s.record.State = StateCanceled
		return text("Report cancelled."), nil
	}

	switch s.record.State {
	case StateStart:
		return s.handleStart()
	case StateAwaitingMessage:
		return s.handleAwaitingMessage(ctx, ev)
	case StateAwaitingAbuseType:
		return s.handleAbuseType(ev)
	case StateAwaitingSpecificType:
		return s.handleSpecificType(ev)
	case StateImminentDanger:
		return s.handleImminentDanger(ev)
	case StateAwaitingGroomingInfo:
		return s.handleGroomingInfo(ev)
	case StateAwaitingDMPermission:
		return s.handleDMPermission(ev)
	case StateAwaitingBlockUser:
		return s.handleBlockUser(ev)
	case StateRemoveContent:
		return s.handleRemoveContent(ev)
	}

	return nil, nil
}

func (s *Session) handleStart() ([]protocol.Outbound, error) {
	s.record.State = StateAwaitingMessage
	reply := "Thank you for starting the reporting process. " +
		"Say `help` at any time for more information.\n\n" +
		"Please copy paste the link to the message you want to report.\n" +
		"You can obtain this link by right-clicking the message and clicking `Copy Message Link`."
	return text(reply), nil
}

func (s *Session) handleAwaitingMessage(ctx context.Context, ev protocol.Event) ([]protocol.Outbound, error) {
	guildID, channelID, messageID, ok := ParseLink(ev.Text)
	if !ok {
		return text("I'm sorry, I couldn't read that link. Please try again or say `cancel` to cancel."), nil
	}

	ref, err := s.resolver.Resolve(ctx, guildID, channelID, messageID)
	switch {
	case errors.Is(err, ErrGuildNotFound):
		return text("I cannot accept reports of messages from guilds that I'm not in. Please have the guild owner add me to the guild and try again."), nil
	case errors.Is(err, ErrChannelNotFound):
		return text("It seems this channel was deleted or never existed. Please try again or say `cancel` to cancel."), nil
	case errors.Is(err, ErrMessageNotFound):
		return text("It seems this message was deleted or never existed. Please try again or say `cancel` to cancel."), nil
	case err != nil:
		return nil, fmt.Errorf("report: resolve message link: %w", err)
	}

	s.record.GuildID = ref.GuildID
	s.record.Reported = ref
	s.record.State = StateAwaitingAbuseType

	return []protocol.Outbound{
		{Text: "I found this message:"},
		{Text: fmt.Sprintf("```%s: %s```", ref.Author.Name, ref.Content)},
		{Text: "Please select the reason for reporting this message.", Menu: abuseTypeMenu()},
	}, nil
}

func (s *Session) handleAbuseType(ev protocol.Event) ([]protocol.Outbound, error) {
	if ev.Menu == nil || ev.Menu.MenuID != MenuAbuseType || len(ev.Menu.Values) == 0 {
		return nil, nil
	}

	broad := abuse.BroadType(ev.Menu.Values[0])
	s.record.BroadType = broad

	if broad == abuse.Other {
		s.record.State = StateImminentDanger
		return text("Is there an immediate risk to someone's safety? (Yes/No)"), nil
	}

	s.record.State = StateAwaitingSpecificType

	var prompt string
	switch broad {
	case abuse.Spam:
		prompt = "Please specify what kind of spam: "
	case abuse.ExplicitContent:
		prompt = "Please select the type of explicit content you've experienced: "
	case abuse.Threat:
		prompt = "Please select the type of threat you've experienced: "
	case abuse.Harassment:
		prompt = "Please select the type of harassment you've experienced: "
	}

	return []protocol.Outbound{{Text: prompt, Menu: specificTypeMenu(broad)}}, nil
}

func (s *Session) handleSpecificType(ev protocol.Event) ([]protocol.Outbound, error) {
	if ev.Menu == nil || ev.Menu.MenuID != MenuSpecificType || len(ev.Menu.Values) == 0 {
		return nil, nil
	}

	specific := abuse.SpecificType(ev.Menu.Values[0])
	s.record.SpecificType = specific
	s.record.State = StateImminentDanger

	var response string
	switch s.record.BroadType {
	case abuse.Spam:
		response = fmt.Sprintf("You reported content for %s. Thank you for your feedback. \n\n", specific)
		response += "Is there an immediate risk to someone's safety? (Yes/No)"
	case abuse.Threat:
		response = fmt.Sprintf("You reported a %s threat. Thank you for taking the time to report this issue. \n\n", specific)
		response += "Is there an immediate risk to someone's safety? (Yes/No)"
	case abuse.Harassment:
		response = fmt.Sprintf("You reported %s as the type of harassment. Thank you for informing us. \n\n", specific)
		response += "Do you require immediate assistance? (Yes/No)"
	default:
		response = fmt.Sprintf("You reported %s. Thank you for your feedback. \n\n", specific)
		response += "Do you require immediate assistance? (Yes/No)"
	}

	return text(response), nil
}

func (s *Session) handleImminentDanger(ev protocol.Event) ([]protocol.Outbound, error) {
	response := "Thank you for bringing this to our attention.\n\n"
	if Affirmative(ev.Text) {
		s.record.DangerIndicated = true
		// Doubled at most once: this state is visited a single time per
		// report.
		s.record.Multiplier *= 2
		response += "*Please remember that if you feel that you are in danger, you should immediately contact your local authorities.* \n\n"
	}

	if s.record.SpecificType == abuse.Grooming {
		s.record.State = StateAwaitingGroomingInfo
		response += "*Grooming is a serious issue and we need to collect more information to address it.* \n\n"
		return []protocol.Outbound{{Text: response, Menu: groomingInfoMenu()}}, nil
	}

	s.record.State = StateRemoveContent
	response += "Our team will review the reported content and take appropriate action against the content or account of the violator.\n\n"
	response += "Would you like us to remove the content from your feed? (Yes/No)"
	return text(response), nil
}

func (s *Session) handleGroomingInfo(ev protocol.Event) ([]protocol.Outbound, error) {
	if ev.Menu == nil || ev.Menu.MenuID != MenuGroomingInfo {
		return nil, nil
	}

	s.record.Indicators = append([]string(nil), ev.Menu.Values...)
	s.record.State = StateAwaitingDMPermission

	response := "Thank you for providing this information. \n\n"
	response += "Do you give us permission to review your message history with this person? (Yes/No)"
	return text(response), nil
}

func (s *Session) handleDMPermission(ev protocol.Event) ([]protocol.Outbound, error) {
	s.record.State = StateAwaitingBlockUser

	var response string
	if Affirmative(ev.Text) {
		s.record.PermissionGiven = true
		response = "Thank you for giving us permission to review your message history. \n\n"
	} else {
		response = "Our team may follow up with you to better understand the situation. \n\n"
	}

	response += "Until the review process is complete, would you like to block this user? This action is reversible. (Yes/No)\n"
	return text(response), nil
}

func (s *Session) handleBlockUser(ev protocol.Event) ([]protocol.Outbound, error) {
	s.record.State = StateComplete

	var response string
	if Affirmative(ev.Text) {
		response = "This person has now been blocked. If you would like to unblock them, you can do so in your message settings. \n\n"
	} else {
		response = "This person will not be blocked. If change your mind and would like to block them, you can do so in your message settings. \n\n"
		response += "We always recommend that users be cautious when interacting with strangers online, and be wary of individuals who ask for personal information or request to meet in person. \n\n"
	}
	response += "Thank you for contributing to the safety and quality of our platform!"
	return text(response), nil
}

func (s *Session) handleRemoveContent(ev protocol.Event) ([]protocol.Outbound, error) {
	s.record.State = StateComplete

	var response string
	if Affirmative(ev.Text) {
		response = "The content has been removed from your feed. \n\n"
	}
	response += "Thank you for contributing to the safety and quality of our platform!"
	return text(response), nil
}

// text wraps a single plain-text reply.
func text(s string) []protocol.Outbound {
	return []protocol.Outbound{{Text: s}}
}
