// Package router dispatches inbound chat events to the right per-user
// session: reporter DMs drive Report sessions, mod-channel commands
// drive Moderate sessions, and monitored group-channel traffic feeds
// the sliding window and the toxicity sweep. The router owns the
// moderation queue hand-off and all completion side effects.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vigil/modbot/internal/archive"
	"github.com/vigil/modbot/internal/ban"
	"github.com/vigil/modbot/internal/metrics"
	"github.com/vigil/modbot/internal/moderate"
	"github.com/vigil/modbot/internal/offense"
	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/queue"
	"github.com/vigil/modbot/internal/report"
	"github.com/vigil/modbot/internal/store"
	"github.com/vigil/modbot/internal/toxicity"
	"github.com/vigil/modbot/internal/window"
)

// failureNotice is the generic reply for unrecoverable errors; details
// go to the log, not the user.
const failureNotice = "Something went wrong on our end. Please try again, or say `cancel` to abort."

// Sender delivers the router's outputs back to the platform: replies to
// the originating session, notices to a guild's mod channel, and
// message deletions for the toxicity sweep.
type Sender interface {
	Reply(ctx context.Context, sessionID string, msgs []protocol.Outbound) error
	ModChannel(ctx context.Context, guildID, text string) error
	Delete(ctx context.Context, ref protocol.MessageRef) error
}

// Store is the persistence port for completed reports and moderations.
// CountReportsAgainst backs the offense counters when Redis is
// unavailable.
type Store interface {
	SaveReport(ctx context.Context, rep *store.SavedReport) (int64, error)
	SaveModeration(ctx context.Context, mod *store.SavedModeration) error
	CountReportsAgainst(ctx context.Context, offenderID string) (int, error)
}

// Banner applies ban actions selected by moderators.
type Banner interface {
	TemporaryBan(ctx context.Context, userID string, offenseCount int, reason string) (time.Duration, error)
	PermanentBan(ctx context.Context, userID, reason string) error
}

// ActivityMarker flags channels for the background detection sweep.
type ActivityMarker interface {
	MarkActivity(channelID string)
}

// Archiver stores recent group messages so report links can be resolved
// later; removed messages leave the archive so their links stop
// resolving.
type Archiver interface {
	Save(ctx context.Context, ref protocol.MessageRef) error
	Remove(ctx context.Context, ref protocol.MessageRef) error
}

// Config carries the router's collaborators and settings.
type Config struct {
	GroupNum          string
	Resolver          report.MessageResolver
	Notifier          moderate.Notifier
	Sender            Sender
	Store             Store
	Offenses          offense.Counter
	Queue             *queue.Queue
	Window            *window.Window
	Scorer            toxicity.Scorer
	ToxicityThreshold float64
	Bans              Banner
	Activity          ActivityMarker
	Archive           Archiver
}

// Router holds the per-user session maps and the shared queue. All
// event handling runs under one mutex: NATS delivers on arbitrary
// goroutines, and the session maps plus the queue hand-off must see
// one event at a time.
type Router struct {
	cfg Config

	mu          sync.Mutex
	reports     map[string]*report.Session   // reporter user ID -> session
	moderations map[string]*moderate.Session // moderator user ID -> session
}

// New creates a router. A zero toxicity threshold falls back to the
// default.
func New(cfg Config) *Router {
	if cfg.ToxicityThreshold <= 0 {
		cfg.ToxicityThreshold = toxicity.DefaultThreshold
	}
	return &Router{
		cfg:         cfg,
		reports:     make(map[string]*report.Session),
		moderations: make(map[string]*moderate.Session),
	}
}

// SetActivity installs the detection-sweep activity marker. Separate
// from New because the detector service and the router reference each
// other (the service's sink is the router).
func (r *Router) SetActivity(m ActivityMarker) {
	r.mu.Lock()
	r.cfg.Activity = m
	r.mu.Unlock()
}

// HandleEvent routes one inbound event. Direct messages drive the
// reporting flow; guild-channel events route on the channel-name
// convention (group-N for monitored traffic, group-N-mod for moderator
// commands). Events for other channels are ignored.
func (r *Router) HandleEvent(ctx context.Context, ev protocol.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case ev.DM:
		return r.handleDM(ctx, ev)
	case ev.ChannelName == r.modChannelName():
		return r.handleModChannel(ctx, ev)
	case ev.ChannelName == r.groupChannelName():
		return r.handleGroupMessage(ctx, ev)
	}
	return nil
}

func (r *Router) groupChannelName() string {
	return "group-" + r.cfg.GroupNum
}

func (r *Router) modChannelName() string {
	return "group-" + r.cfg.GroupNum + "-mod"
}

// ---------------------------------------------------------------------------
// Reporter side (direct messages)
// ---------------------------------------------------------------------------

func (r *Router) handleDM(ctx context.Context, ev protocol.Event) error {
	if ev.Menu == nil && ev.Text == report.HelpKeyword {
		reply := "Use the `report` command to begin the reporting process.\n"
		reply += "Use the `cancel` command to cancel the report process.\n"
		return r.cfg.Sender.Reply(ctx, ev.SessionID, []protocol.Outbound{{Text: reply}})
	}

	userID := ev.Author.ID

	// Only respond if the user is mid-flow or starting one.
	sess, active := r.reports[userID]
	if !active {
		if ev.Menu != nil || !strings.HasPrefix(ev.Text, report.StartKeyword) {
			return nil
		}
		sess = report.NewSession(ev.Author, r.cfg.Resolver)
		r.reports[userID] = sess
		metrics.ActiveReportSessions.Inc()
	}

	out, err := sess.HandleEvent(ctx, ev)
	if err != nil {
		log.Printf("[router] report session %s: %v", userID, err)
		r.reply(ctx, ev.SessionID, []protocol.Outbound{{Text: failureNotice}})
		return err
	}
	r.reply(ctx, ev.SessionID, out)

	if !sess.Complete() {
		return nil
	}

	delete(r.reports, userID)
	metrics.ActiveReportSessions.Dec()

	if sess.Canceled() {
		metrics.ReportsCanceled.Inc()
		return nil
	}

	return r.finishReport(ctx, sess.Record(), "user")
}

// finishReport runs the completion side effects shared by user-filed
// and automated reports: persist, enqueue, count the offense, and
// announce in the mod channel.
func (r *Router) finishReport(ctx context.Context, rec *report.Record, origin string) error {
	id, err := r.cfg.Store.SaveReport(ctx, savedReportFrom(rec))
	if err != nil {
		// The report still gets moderated; only the durable copy is lost.
		log.Printf("[router] save report from %s: %v", rec.Author.ID, err)
	} else {
		rec.ID = id
	}

	r.cfg.Queue.Enqueue(rec)
	metrics.QueueSize.Set(float64(r.cfg.Queue.Size()))
	metrics.ReportsTotal.WithLabelValues(origin).Inc()

	// Incremented exactly once, at the moment the report enters the
	// queue.
	if err := r.cfg.Offenses.Increment(ctx, rec.Reported.Author.ID); err != nil {
		log.Printf("[router] increment offenses for %s: %v", rec.Reported.Author.ID, err)
	}

	notice := fmt.Sprintf("There's a new report from %s!\n", rec.Author.Name)
	notice += fmt.Sprintf("There are now %d report(s) in the queue.\n", r.cfg.Queue.Size())
	if err := r.cfg.Sender.ModChannel(ctx, rec.GuildID, notice); err != nil {
		log.Printf("[router] mod channel notice: %v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Moderator side (group-N-mod channel)
// ---------------------------------------------------------------------------

func (r *Router) handleModChannel(ctx context.Context, ev protocol.Event) error {
	userID := ev.Author.ID

	if ev.Menu == nil && ev.Text == moderate.ShowReportsKeyword {
		return r.showReports(ctx, ev)
	}

	sess, active := r.moderations[userID]

	// Queue empty and nothing in progress: signaled, not fatal.
	if !active && r.cfg.Queue.Size() == 0 {
		return r.cfg.Sender.Reply(ctx, ev.SessionID, []protocol.Outbound{{Text: "No reports to moderate! Rest easy :)"}})
	}

	if !active {
		if ev.Menu != nil || !strings.HasPrefix(ev.Text, moderate.StartKeyword) {
			return nil
		}

		rec, err := r.cfg.Queue.Dequeue()
		if errors.Is(err, queue.ErrEmpty) {
			return r.cfg.Sender.Reply(ctx, ev.SessionID, []protocol.Outbound{{Text: "No reports to moderate! Rest easy :)"}})
		}
		if err != nil {
			return fmt.Errorf("router: claim report: %w", err)
		}
		metrics.QueueSize.Set(float64(r.cfg.Queue.Size()))

		sess = moderate.NewSession(ev.Author, rec, r.offenseCount(ctx, rec.Reported.Author.ID), r.cfg.Notifier)
		r.moderations[userID] = sess
		metrics.ActiveModerateSessions.Inc()
	}

	out, err := sess.HandleEvent(ctx, ev)
	if err != nil {
		log.Printf("[router] moderate session %s: %v", userID, err)
		r.reply(ctx, ev.SessionID, []protocol.Outbound{{Text: failureNotice}})
		return err
	}
	r.reply(ctx, ev.SessionID, out)

	if !sess.Complete() {
		return nil
	}

	delete(r.moderations, userID)
	metrics.ActiveModerateSessions.Dec()

	r.finishModeration(ctx, sess.Record())

	remaining := fmt.Sprintf("There are %d report(s) remaining.", r.cfg.Queue.Size())
	r.reply(ctx, ev.SessionID, []protocol.Outbound{{Text: remaining}})
	return nil
}

// finishModeration applies selected ban actions and persists the
// moderation record.
func (r *Router) finishModeration(ctx context.Context, mrec *moderate.Record) {
	offenderID := mrec.Report.Reported.Author.ID
	reason := string(mrec.Report.SpecificType)
	if reason == "" {
		reason = string(mrec.Report.BroadType)
	}

	for _, action := range mrec.Actions {
		metrics.ModerationActions.WithLabelValues(action).Inc()

		switch action {
		case moderate.ActionPermanentBan:
			if err := r.cfg.Bans.PermanentBan(ctx, offenderID, reason); err != nil {
				log.Printf("[router] permanent ban %s: %v", offenderID, err)
			}
		case moderate.ActionTemporaryBan:
			count := r.offenseCount(ctx, offenderID)
			if _, err := r.cfg.Bans.TemporaryBan(ctx, offenderID, count, reason); err != nil {
				log.Printf("[router] temporary ban %s: %v", offenderID, err)
			}
		}
	}

	if err := r.cfg.Store.SaveModeration(ctx, savedModerationFrom(mrec)); err != nil {
		log.Printf("[router] save moderation by %s: %v", mrec.Moderator.ID, err)
	}
}

// offenseCount prefers the live Redis counter and falls back to the
// durable per-offender report count when the counter is unreachable.
func (r *Router) offenseCount(ctx context.Context, userID string) int {
	count, err := r.cfg.Offenses.Count(ctx, userID)
	if err == nil {
		return count
	}
	log.Printf("[router] offense count for %s: %v", userID, err)

	count, err = r.cfg.Store.CountReportsAgainst(ctx, userID)
	if err != nil {
		log.Printf("[router] durable report count for %s: %v", userID, err)
		return 0
	}
	return count
}

// showReports lists the queue in severity order without claiming.
func (r *Router) showReports(ctx context.Context, ev protocol.Event) error {
	records := r.cfg.Queue.PeekAll()
	if len(records) == 0 {
		return r.cfg.Sender.Reply(ctx, ev.SessionID, []protocol.Outbound{{Text: "No reports to moderate! Rest easy :)"}})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d report(s) in the queue:\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Summary())
	}
	return r.cfg.Sender.Reply(ctx, ev.SessionID, []protocol.Outbound{{Text: b.String()}})
}

// ---------------------------------------------------------------------------
// Monitored group channel
// ---------------------------------------------------------------------------

func (r *Router) handleGroupMessage(ctx context.Context, ev protocol.Event) error {
	ref := protocol.MessageRef{
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		Author:    ev.Author,
		Content:   ev.Text,
	}
	r.cfg.Window.Add(ev.ChannelID, ref)
	if r.cfg.Activity != nil {
		r.cfg.Activity.MarkActivity(ev.ChannelID)
	}
	if r.cfg.Archive != nil {
		if err := r.cfg.Archive.Save(ctx, ref); err != nil {
			log.Printf("[router] archive message %s: %v", ref.MessageID, err)
		}
	}

	// Toxicity sweep: independent of the LLM detection loop. A scoring
	// failure only skips the sweep for this message.
	if r.cfg.Scorer == nil {
		return nil
	}
	scores, err := r.cfg.Scorer.Score(ctx, ev.Text)
	if err != nil {
		log.Printf("[router] toxicity score: %v", err)
		return nil
	}

	attr, score, hit := toxicity.Flagged(scores, r.cfg.ToxicityThreshold)
	if !hit {
		return nil
	}

	metrics.ToxicityFlags.WithLabelValues(attr).Inc()
	if err := r.cfg.Sender.Delete(ctx, ref); err != nil {
		log.Printf("[router] delete flagged message %s: %v", ref.MessageID, err)
	}

	// Removed content leaves the detector window and the archive: it
	// should neither be classified nor remain reportable by link.
	r.cfg.Window.Remove(ev.ChannelID, ref.MessageID)
	if r.cfg.Archive != nil {
		if err := r.cfg.Archive.Remove(ctx, ref); err != nil {
			log.Printf("[router] unarchive flagged message %s: %v", ref.MessageID, err)
		}
	}

	notice := fmt.Sprintf("Removed a message from %s in %s: %s scored %.2f (threshold %.2f).\n",
		ev.Author.Name, r.groupChannelName(), attr, score, r.cfg.ToxicityThreshold)
	if err := r.cfg.Sender.ModChannel(ctx, ev.GuildID, notice); err != nil {
		log.Printf("[router] mod channel notice: %v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Automated detection hand-off
// ---------------------------------------------------------------------------

// HandleDetection receives a synthesized report from the background
// detection loop and runs the same completion side effects as a
// user-filed report.
func (r *Router) HandleDetection(ctx context.Context, channelID string, rec *report.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.finishReport(ctx, rec, "automated"); err != nil {
		log.Printf("[router] automated report on %s: %v", channelID, err)
	}
}

// reply sends session replies, logging delivery failures.
func (r *Router) reply(ctx context.Context, sessionID string, msgs []protocol.Outbound) {
	if len(msgs) == 0 {
		return
	}
	if err := r.cfg.Sender.Reply(ctx, sessionID, msgs); err != nil {
		log.Printf("[router] reply to session %s: %v", sessionID, err)
	}
}

// savedReportFrom flattens a report record into its row shape.
func savedReportFrom(rec *report.Record) *store.SavedReport {
	return &store.SavedReport{
		ReporterID:      rec.Author.ID,
		ReporterName:    rec.Author.Name,
		Automated:       rec.Automated,
		GuildID:         rec.GuildID,
		ChannelID:       rec.Reported.ChannelID,
		MessageID:       rec.Reported.MessageID,
		OffenderID:      rec.Reported.Author.ID,
		OffenderName:    rec.Reported.Author.Name,
		MessageContent:  rec.Reported.Content,
		BroadType:       string(rec.BroadType),
		SpecificType:    string(rec.SpecificType),
		Severity:        rec.Severity(),
		DangerIndicated: rec.DangerIndicated,
		PermissionGiven: rec.PermissionGiven,
		Indicators:      rec.Indicators,
	}
}

// savedModerationFrom flattens a moderation record into its row shape.
func savedModerationFrom(mrec *moderate.Record) *store.SavedModeration {
	return &store.SavedModeration{
		ReportID:            mrec.Report.ID,
		ModeratorID:         mrec.Moderator.ID,
		ModeratorName:       mrec.Moderator.Name,
		Actions:             mrec.Actions,
		Justification:       mrec.Justification,
		AuthoritiesNotified: mrec.AuthoritiesNotified,
		AuthoritiesReport:   mrec.AuthoritiesReport,
	}
}

var (
	_ Banner   = (*ban.Store)(nil)
	_ Archiver = (*archive.Store)(nil)
	_ Store    = (*store.Store)(nil)
)
