package report

import (
	"context"
	"strings"
	"testing"

	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/protocol"
)

// fakeResolver resolves every link to a fixed message unless told to
// fail with a specific sentinel error.
type fakeResolver struct {
	ref protocol.MessageRef
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, guildID, channelID, messageID string) (protocol.MessageRef, error) {
	if f.err != nil {
		return protocol.MessageRef{}, f.err
	}
	ref := f.ref
	ref.GuildID = guildID
	ref.ChannelID = channelID
	ref.MessageID = messageID
	return ref, nil
}

func newTestSession() *Session {
	return NewSession(protocol.User{ID: "100", Name: "reporter"}, &fakeResolver{
		ref: protocol.MessageRef{
			Author:  protocol.User{ID: "200", Name: "offender"},
			Content: "nasty message",
		},
	})
}

func textEvent(s string) protocol.Event {
	return protocol.Event{Author: protocol.User{ID: "100", Name: "reporter"}, Text: s, DM: true}
}

func menuEvent(menuID string, values ...string) protocol.Event {
	return protocol.Event{
		Author: protocol.User{ID: "100", Name: "reporter"},
		DM:     true,
		Menu:   &protocol.MenuSelection{MenuID: menuID, Values: values},
	}
}

// advance feeds one event and fails the test on error.
func advance(t *testing.T, s *Session, ev protocol.Event) []protocol.Outbound {
	t.Helper()
	out, err := s.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleEvent in state %s: %v", s.State(), err)
	}
	return out
}

func TestStartPromptsForLink(t *testing.T) {
	s := newTestSession()

	out := advance(t, s, textEvent(StartKeyword))
	if len(out) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(out))
	}
	if s.State() != StateAwaitingMessage {
		t.Errorf("expected state %s, got %s", StateAwaitingMessage, s.State())
	}
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	// Walk a fresh session to each state, then cancel.
	reach := map[string]func(t *testing.T, s *Session){
		StateAwaitingMessage: func(t *testing.T, s *Session) {
			advance(t, s, textEvent(StartKeyword))
		},
		StateAwaitingAbuseType: func(t *testing.T, s *Session) {
			advance(t, s, textEvent(StartKeyword))
			advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
		},
		StateImminentDanger: func(t *testing.T, s *Session) {
			advance(t, s, textEvent(StartKeyword))
			advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
			advance(t, s, menuEvent(MenuAbuseType, string(abuse.Other)))
		},
		StateRemoveContent: func(t *testing.T, s *Session) {
			advance(t, s, textEvent(StartKeyword))
			advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
			advance(t, s, menuEvent(MenuAbuseType, string(abuse.Other)))
			advance(t, s, textEvent("no"))
		},
	}

	for state, setup := range reach {
		t.Run(state, func(t *testing.T) {
			s := newTestSession()
			setup(t, s)
			if s.State() != state {
				t.Fatalf("setup reached %s, want %s", s.State(), state)
			}

			out := advance(t, s, textEvent(CancelKeyword))
			if len(out) != 1 || out[0].Text != "Report cancelled." {
				t.Errorf("unexpected cancel reply: %+v", out)
			}
			if !s.Canceled() {
				t.Error("expected session to be canceled")
			}
			if s.Record().Complete() {
				t.Error("canceled record must not be complete")
			}
		})
	}
}

func TestParseLink(t *testing.T) {
	tests := []struct {
		name      string
		link      string
		guildID   string
		channelID string
		messageID string
		ok        bool
	}{
		{"numeric triple", "https://chat.example/channels/1/2/3", "1", "2", "3", true},
		{"channel name segment", "https://chat.example/channels/1/group-7/69378441990145", "1", "group-7", "69378441990145", true},
		{"bare path", "/channels/1/group-7-mod/42", "1", "group-7-mod", "42", true},
		{"uuid message segment", "/channels/1/group-7/550e8400-e29b-41d4-a716-446655440000", "", "", "", false},
		{"not a link", "this is not a link", "", "", "", false},
		{"missing segment", "/channels/1/group-7", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, c, m, ok := ParseLink(tt.link)
			if ok != tt.ok {
				t.Fatalf("ParseLink(%q) ok = %v, want %v", tt.link, ok, tt.ok)
			}
			if g != tt.guildID || c != tt.channelID || m != tt.messageID {
				t.Errorf("ParseLink(%q) = (%q, %q, %q), want (%q, %q, %q)",
					tt.link, g, c, m, tt.guildID, tt.channelID, tt.messageID)
			}
		})
	}
}

func TestChannelNameLinkResolves(t *testing.T) {
	s := newTestSession()
	advance(t, s, textEvent(StartKeyword))

	advance(t, s, textEvent("link: /channels/1/group-7/69378441990145"))
	if s.State() != StateAwaitingAbuseType {
		t.Fatalf("expected state %s, got %s", StateAwaitingAbuseType, s.State())
	}
	if got := s.Record().Reported.ChannelID; got != "group-7" {
		t.Errorf("channel = %q, want %q", got, "group-7")
	}
	if got := s.Record().Reported.MessageID; got != "69378441990145" {
		t.Errorf("message = %q, want %q", got, "69378441990145")
	}
}

func TestBadLinkLeavesStateUnchanged(t *testing.T) {
	s := newTestSession()
	advance(t, s, textEvent(StartKeyword))

	out := advance(t, s, textEvent("this is not a link"))
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 retry prompt, got %d", len(out))
	}
	if s.State() != StateAwaitingMessage {
		t.Errorf("expected state unchanged at %s, got %s", StateAwaitingMessage, s.State())
	}
}

func TestResolutionFailuresAreNonFatal(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"guild not found", ErrGuildNotFound},
		{"channel not found", ErrChannelNotFound},
		{"message not found", ErrMessageNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession(protocol.User{ID: "100"}, &fakeResolver{err: tc.err})
			advance(t, s, textEvent(StartKeyword))

			out := advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
			if len(out) != 1 {
				t.Fatalf("expected 1 reply, got %d", len(out))
			}
			if s.State() != StateAwaitingMessage {
				t.Errorf("expected state unchanged, got %s", s.State())
			}
		})
	}
}

func TestOtherSkipsSpecificType(t *testing.T) {
	s := newTestSession()
	advance(t, s, textEvent(StartKeyword))
	advance(t, s, textEvent("https://chat.example/channels/1/2/3"))

	advance(t, s, menuEvent(MenuAbuseType, string(abuse.Other)))
	if s.State() != StateImminentDanger {
		t.Fatalf("OTHER should skip straight to %s, got %s", StateImminentDanger, s.State())
	}

	advance(t, s, textEvent("no"))
	advance(t, s, textEvent("no"))
	if !s.Record().Complete() {
		t.Fatal("expected completed report")
	}
	if got := s.Record().Severity(); got != abuse.OtherWeight {
		t.Errorf("OTHER severity = %d, want %d", got, abuse.OtherWeight)
	}
}

func TestGroomingPathSeverity(t *testing.T) {
	s := newTestSession()
	advance(t, s, textEvent(StartKeyword))
	advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
	advance(t, s, menuEvent(MenuAbuseType, string(abuse.Harassment)))
	advance(t, s, menuEvent(MenuSpecificType, string(abuse.Grooming)))

	// Danger indicated: multiplier doubles.
	advance(t, s, textEvent("yes"))
	if s.State() != StateAwaitingGroomingInfo {
		t.Fatalf("expected grooming-info state, got %s", s.State())
	}

	// 2 of 3 indicators.
	advance(t, s, menuEvent(MenuGroomingInfo, "pictures_exchanged", "met_in_real_life"))
	advance(t, s, textEvent("yes")) // permission to review history
	advance(t, s, textEvent("no"))  // don't block

	rec := s.Record()
	if !rec.Complete() {
		t.Fatal("expected completed report")
	}
	if !rec.DangerIndicated {
		t.Error("expected danger flag set")
	}
	if !rec.PermissionGiven {
		t.Error("expected permission flag set")
	}
	want := abuse.BaseWeight(abuse.Grooming)*2 + 2
	if got := rec.Severity(); got != want {
		t.Errorf("severity = %d, want %d", got, want)
	}
}

func TestBullyingNoDangerSeverity(t *testing.T) {
	s := newTestSession()
	advance(t, s, textEvent(StartKeyword))
	advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
	advance(t, s, menuEvent(MenuAbuseType, string(abuse.Harassment)))
	advance(t, s, menuEvent(MenuSpecificType, string(abuse.Bullying)))
	advance(t, s, textEvent("no")) // no danger
	advance(t, s, textEvent("no")) // don't remove content

	rec := s.Record()
	if !rec.Complete() {
		t.Fatal("expected completed report")
	}
	if got := rec.Severity(); got != 3 {
		t.Errorf("severity = %d, want 3", got)
	}
	if rec.DangerIndicated {
		t.Error("danger flag should not be set")
	}
}

func TestAffirmativeQuirk(t *testing.T) {
	for _, tc := range []struct {
		reply string
		want  bool
	}{
		{"yes", true},
		{"Yeah", true},
		{"  Y  ", true},
		{"no", false},
		{"nope", false},
		// The permissive substring check: any stray 'y' matches.
		{"anyway", true},
		{"nay", true},
		{"", false},
	} {
		if got := Affirmative(tc.reply); got != tc.want {
			t.Errorf("Affirmative(%q) = %v, want %v", tc.reply, got, tc.want)
		}
	}
}

func TestCompileForModeration(t *testing.T) {
	s := newTestSession()
	advance(t, s, textEvent(StartKeyword))
	advance(t, s, textEvent("https://chat.example/channels/1/2/3"))
	advance(t, s, menuEvent(MenuAbuseType, string(abuse.Harassment)))
	advance(t, s, menuEvent(MenuSpecificType, string(abuse.Grooming)))
	advance(t, s, textEvent("yes"))
	advance(t, s, menuEvent(MenuGroomingInfo, "pictures_exchanged"))
	advance(t, s, textEvent("no")) // no permission
	advance(t, s, textEvent("no"))

	got := s.Record().CompileForModeration(3)
	for _, want := range []string{
		"offender: nasty message",
		"Abuse type: HARASSMENT",
		"Specific Abuse Type: CHILD_GROOMING",
		"- pictures_exchanged",
		"immediate risk to someone's safety",
		"has *not* given permission",
		"reported 2 time(s) in the past",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("compiled summary missing %q:\n%s", want, got)
		}
	}
}
