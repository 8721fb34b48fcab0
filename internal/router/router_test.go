package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/moderate"
	"github.com/vigil/modbot/internal/offense"
	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/queue"
	"github.com/vigil/modbot/internal/report"
	"github.com/vigil/modbot/internal/store"
	"github.com/vigil/modbot/internal/window"
)

type fakeSender struct {
	replies    []protocol.Outbound
	modNotices []string
	deleted    []protocol.MessageRef
}

func (f *fakeSender) Reply(_ context.Context, _ string, msgs []protocol.Outbound) error {
	f.replies = append(f.replies, msgs...)
	return nil
}

func (f *fakeSender) ModChannel(_ context.Context, _ string, text string) error {
	f.modNotices = append(f.modNotices, text)
	return nil
}

func (f *fakeSender) Delete(_ context.Context, ref protocol.MessageRef) error {
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeSender) lastReply() string {
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1].Text
}

type fakeStore struct {
	reports     []*store.SavedReport
	moderations []*store.SavedModeration
	nextID      int64
	reportCount int
}

func (f *fakeStore) SaveReport(_ context.Context, rep *store.SavedReport) (int64, error) {
	f.reports = append(f.reports, rep)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) SaveModeration(_ context.Context, mod *store.SavedModeration) error {
	f.moderations = append(f.moderations, mod)
	return nil
}

func (f *fakeStore) CountReportsAgainst(context.Context, string) (int, error) {
	return f.reportCount, nil
}

// downCounter simulates an unreachable Redis offense counter.
type downCounter struct{}

func (downCounter) Increment(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func (downCounter) Count(context.Context, string) (int, error) {
	return 0, errors.New("redis: connection refused")
}

type fakeArchiver struct {
	saved   []protocol.MessageRef
	removed []protocol.MessageRef
}

func (f *fakeArchiver) Save(_ context.Context, ref protocol.MessageRef) error {
	f.saved = append(f.saved, ref)
	return nil
}

func (f *fakeArchiver) Remove(_ context.Context, ref protocol.MessageRef) error {
	f.removed = append(f.removed, ref)
	return nil
}

type fakeBanner struct {
	permanent []string
	temporary []string
}

func (f *fakeBanner) TemporaryBan(_ context.Context, userID string, _ int, _ string) (time.Duration, error) {
	f.temporary = append(f.temporary, userID)
	return 15 * time.Minute, nil
}

func (f *fakeBanner) PermanentBan(_ context.Context, userID, _ string) error {
	f.permanent = append(f.permanent, userID)
	return nil
}

type fakeResolver struct {
	ref protocol.MessageRef
	err error
}

func (f *fakeResolver) Resolve(context.Context, string, string, string) (protocol.MessageRef, error) {
	return f.ref, f.err
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) DirectMessage(_ context.Context, userID, _ string) error {
	f.sent = append(f.sent, userID)
	return nil
}

type fakeScorer struct {
	scores map[string]float64
	err    error
}

func (f *fakeScorer) Score(context.Context, string) (map[string]float64, error) {
	return f.scores, f.err
}

type fakeActivity struct {
	channels []string
}

func (f *fakeActivity) MarkActivity(channelID string) {
	f.channels = append(f.channels, channelID)
}

type fixture struct {
	router   *Router
	sender   *fakeSender
	store    *fakeStore
	banner   *fakeBanner
	notifier *fakeNotifier
	activity *fakeActivity
	archiver *fakeArchiver
	queue    *queue.Queue
	offenses *offense.Memory
}

func newFixture(t *testing.T, scorer *fakeScorer) *fixture {
	t.Helper()

	f := &fixture{
		sender:   &fakeSender{},
		store:    &fakeStore{},
		banner:   &fakeBanner{},
		notifier: &fakeNotifier{},
		activity: &fakeActivity{},
		archiver: &fakeArchiver{},
		queue:    queue.New(),
		offenses: offense.NewMemory(),
	}

	cfg := Config{
		GroupNum: "7",
		Resolver: &fakeResolver{ref: protocol.MessageRef{
			GuildID:   "1",
			ChannelID: "2",
			MessageID: "3",
			Author:    protocol.User{ID: "200", Name: "offender"},
			Content:   "you are worthless",
		}},
		Notifier: f.notifier,
		Sender:   f.sender,
		Store:    f.store,
		Offenses: f.offenses,
		Queue:    f.queue,
		Window:   window.New(0),
		Bans:     f.banner,
		Activity: f.activity,
		Archive:  f.archiver,
	}
	if scorer != nil {
		cfg.Scorer = scorer
	}
	f.router = New(cfg)
	return f
}

func dm(author protocol.User, text string) protocol.Event {
	return protocol.Event{SessionID: "sess-" + author.ID, Author: author, Text: text, DM: true}
}

func dmMenu(author protocol.User, menuID string, values ...string) protocol.Event {
	return protocol.Event{
		SessionID: "sess-" + author.ID,
		Author:    author,
		DM:        true,
		Menu:      &protocol.MenuSelection{MenuID: menuID, Values: values},
	}
}

func modMsg(author protocol.User, text string) protocol.Event {
	return protocol.Event{
		SessionID:   "sess-" + author.ID,
		Author:      author,
		Text:        text,
		GuildID:     "1",
		ChannelName: "group-7-mod",
		ChannelID:   "20",
	}
}

func modMenu(author protocol.User, menuID string, values ...string) protocol.Event {
	ev := modMsg(author, "")
	ev.Menu = &protocol.MenuSelection{MenuID: menuID, Values: values}
	return ev
}

var (
	reporter  = protocol.User{ID: "100", Name: "alice"}
	moderator = protocol.User{ID: "300", Name: "mandy"}
)

// fileReport drives a complete bullying report through the DM flow.
func fileReport(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	steps := []protocol.Event{
		dm(reporter, "report"),
		dm(reporter, "https://chat.example/channels/1/2/3"),
		dmMenu(reporter, report.MenuAbuseType, string(abuse.Harassment)),
		dmMenu(reporter, report.MenuSpecificType, string(abuse.Bullying)),
		dm(reporter, "no"),
		dm(reporter, "no"),
	}
	for _, ev := range steps {
		if err := f.router.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%+v): %v", ev, err)
		}
	}
}

func TestHelpReply(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.router.HandleEvent(context.Background(), dm(reporter, "help")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !strings.Contains(f.sender.lastReply(), "`report` command") {
		t.Fatalf("help reply = %q", f.sender.lastReply())
	}
}

func TestDMIgnoredWithoutActiveSession(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.router.HandleEvent(context.Background(), dm(reporter, "hello there")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.sender.replies) != 0 {
		t.Fatalf("expected no replies, got %v", f.sender.replies)
	}
}

func TestCompletedReportEnqueuesAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	fileReport(t, f)

	if got := f.queue.Size(); got != 1 {
		t.Fatalf("queue size = %d, want 1", got)
	}
	if len(f.store.reports) != 1 {
		t.Fatalf("saved reports = %d, want 1", len(f.store.reports))
	}
	if f.store.reports[0].OffenderID != "200" {
		t.Fatalf("offender = %q", f.store.reports[0].OffenderID)
	}

	count, err := f.offenses.Count(context.Background(), "200")
	if err != nil || count != 1 {
		t.Fatalf("offense count = %d, %v; want 1", count, err)
	}

	if len(f.sender.modNotices) != 1 {
		t.Fatalf("mod notices = %v", f.sender.modNotices)
	}
	if !strings.Contains(f.sender.modNotices[0], "new report from alice") {
		t.Fatalf("notice = %q", f.sender.modNotices[0])
	}
	if !strings.Contains(f.sender.modNotices[0], "1 report(s) in the queue") {
		t.Fatalf("notice = %q", f.sender.modNotices[0])
	}
}

func TestCanceledReportNotEnqueued(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.router.HandleEvent(ctx, dm(reporter, "report")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if err := f.router.HandleEvent(ctx, dm(reporter, "cancel")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if f.queue.Size() != 0 {
		t.Fatalf("queue size = %d, want 0", f.queue.Size())
	}
	if len(f.store.reports) != 0 {
		t.Fatalf("saved reports = %d, want 0", len(f.store.reports))
	}

	// The flow can start over afterwards.
	if err := f.router.HandleEvent(ctx, dm(reporter, "report")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !strings.Contains(f.sender.lastReply(), "copy paste the link") {
		t.Fatalf("restart reply = %q", f.sender.lastReply())
	}
}

func TestModerateEmptyQueue(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.router.HandleEvent(context.Background(), modMsg(moderator, "moderate")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := f.sender.lastReply(); got != "No reports to moderate! Rest easy :)" {
		t.Fatalf("reply = %q", got)
	}
}

func TestShowReportsListsQueue(t *testing.T) {
	f := newFixture(t, nil)
	fileReport(t, f)

	if err := f.router.HandleEvent(context.Background(), modMsg(moderator, "show reports")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	got := f.sender.lastReply()
	if !strings.Contains(got, "1 report(s) in the queue") {
		t.Fatalf("listing = %q", got)
	}
	if !strings.Contains(got, "reported by alice") {
		t.Fatalf("listing = %q", got)
	}
	if f.queue.Size() != 1 {
		t.Fatalf("show reports must not claim; queue size = %d", f.queue.Size())
	}
}

func TestModerationFlowAppliesPermanentBan(t *testing.T) {
	f := newFixture(t, nil)
	fileReport(t, f)
	ctx := context.Background()

	steps := []protocol.Event{
		modMsg(moderator, "moderate"),
		modMsg(moderator, "yes"),
		modMsg(moderator, "no"),
		modMenu(moderator, moderate.MenuActions, moderate.ActionPermanentBan),
		modMsg(moderator, "repeated targeted abuse"),
	}
	for _, ev := range steps {
		if err := f.router.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%+v): %v", ev, err)
		}
	}

	if len(f.banner.permanent) != 1 || f.banner.permanent[0] != "200" {
		t.Fatalf("permanent bans = %v", f.banner.permanent)
	}
	if len(f.store.moderations) != 1 {
		t.Fatalf("saved moderations = %d, want 1", len(f.store.moderations))
	}
	mod := f.store.moderations[0]
	if mod.Justification != "repeated targeted abuse" {
		t.Fatalf("justification = %q", mod.Justification)
	}
	if mod.ReportID != f.store.nextID {
		t.Fatalf("moderation report ID = %d, want %d", mod.ReportID, f.store.nextID)
	}
	if f.queue.Size() != 0 {
		t.Fatalf("queue size = %d, want 0", f.queue.Size())
	}
	if got := f.sender.lastReply(); got != "There are 0 report(s) remaining." {
		t.Fatalf("final reply = %q", got)
	}
}

func TestModChannelChatterIgnored(t *testing.T) {
	f := newFixture(t, nil)
	fileReport(t, f)
	f.sender.replies = nil

	if err := f.router.HandleEvent(context.Background(), modMsg(moderator, "anyone seen this?")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.sender.replies) != 0 {
		t.Fatalf("expected no replies, got %v", f.sender.replies)
	}
	if f.queue.Size() != 1 {
		t.Fatalf("chatter must not claim; queue size = %d", f.queue.Size())
	}
}

func TestGroupMessageFeedsWindowAndMarksActivity(t *testing.T) {
	f := newFixture(t, nil)

	ev := protocol.Event{
		Author:      protocol.User{ID: "50", Name: "bob"},
		Text:        "hello everyone",
		GuildID:     "1",
		ChannelName: "group-7",
		ChannelID:   "10",
		MessageID:   "900",
	}
	if err := f.router.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	msgs := f.router.cfg.Window.Messages("10")
	if len(msgs) != 1 || msgs[0].Content != "hello everyone" {
		t.Fatalf("window = %v", msgs)
	}
	if len(f.activity.channels) != 1 || f.activity.channels[0] != "10" {
		t.Fatalf("activity marks = %v", f.activity.channels)
	}
	if len(f.archiver.saved) != 1 || f.archiver.saved[0].MessageID != "900" {
		t.Fatalf("archived = %v", f.archiver.saved)
	}
	if len(f.sender.deleted) != 0 {
		t.Fatalf("nothing should be deleted without a scorer, got %v", f.sender.deleted)
	}
}

func TestToxicMessageDeletedAndFlagged(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"TOXICITY": 0.91, "INSULT": 0.4}}
	f := newFixture(t, scorer)

	ev := protocol.Event{
		Author:      protocol.User{ID: "50", Name: "bob"},
		Text:        "you are garbage",
		GuildID:     "1",
		ChannelName: "group-7",
		ChannelID:   "10",
		MessageID:   "901",
	}
	if err := f.router.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(f.sender.deleted) != 1 || f.sender.deleted[0].MessageID != "901" {
		t.Fatalf("deleted = %v", f.sender.deleted)
	}
	if len(f.sender.modNotices) != 1 || !strings.Contains(f.sender.modNotices[0], "TOXICITY") {
		t.Fatalf("mod notices = %v", f.sender.modNotices)
	}

	// The removed message must leave both the detector window and the
	// archive.
	if msgs := f.router.cfg.Window.Messages("10"); len(msgs) != 0 {
		t.Fatalf("window still holds %v", msgs)
	}
	if len(f.archiver.removed) != 1 || f.archiver.removed[0].MessageID != "901" {
		t.Fatalf("unarchived = %v", f.archiver.removed)
	}
}

func TestOffenseCountFallsBackToDurableStore(t *testing.T) {
	f := newFixture(t, nil)
	fileReport(t, f)

	// Redis goes away between filing and claiming; the durable report
	// count steps in for the prior-offense line.
	f.router.cfg.Offenses = downCounter{}
	f.store.reportCount = 4

	if err := f.router.HandleEvent(context.Background(), modMsg(moderator, "moderate")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := f.sender.lastReply(); !strings.Contains(got, "reported 3 time(s) in the past") {
		t.Fatalf("claim reply = %q", got)
	}
}

func TestScorerFailureIsNonFatal(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("api quota exceeded")}
	f := newFixture(t, scorer)

	ev := protocol.Event{
		Author:      protocol.User{ID: "50", Name: "bob"},
		Text:        "hi",
		GuildID:     "1",
		ChannelName: "group-7",
		ChannelID:   "10",
		MessageID:   "902",
	}
	if err := f.router.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.sender.deleted) != 0 {
		t.Fatalf("deleted = %v", f.sender.deleted)
	}
}

func TestHandleDetectionEnqueuesAutomatedReport(t *testing.T) {
	f := newFixture(t, nil)

	rec := report.NewRecord(protocol.User{ID: "0", Name: "AutoModerator"})
	rec.Automated = true
	rec.GuildID = "1"
	rec.Reported = protocol.MessageRef{
		GuildID:   "1",
		ChannelID: "10",
		MessageID: "903",
		Author:    protocol.User{ID: "200", Name: "offender"},
		Content:   "meet me irl",
	}
	rec.BroadType = abuse.Harassment
	rec.SpecificType = abuse.Grooming
	rec.State = report.StateComplete

	f.router.HandleDetection(context.Background(), "10", rec)

	if f.queue.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", f.queue.Size())
	}
	if len(f.store.reports) != 1 || !f.store.reports[0].Automated {
		t.Fatalf("saved reports = %+v", f.store.reports)
	}
	count, err := f.offenses.Count(context.Background(), "200")
	if err != nil || count != 1 {
		t.Fatalf("offense count = %d, %v; want 1", count, err)
	}
}
