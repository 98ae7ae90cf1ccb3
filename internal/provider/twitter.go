package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/notify"
	"github.com/njoerd114/socialsync/internal/sync"
)

const (
	twitterProvider = "twitter"
	twitterBaseURL  = "https://api.twitter.com/1.1"
	twitterService  = "twitter-microblog"
	twitterWebURL   = "https://mobile.twitter.com"

	twitterMentionCategory = "twitter.mention"
	twitterMentionCount    = "50"
	defaultSinceDays       = 7
)

var twitterErrors = gateway.ErrorPaths{
	Code:    []string{"errors.0.code"},
	Message: []string{"errors.0.message"},
}

// twitterExpired matches "Could not authenticate you".
func twitterExpired(app *gateway.AppError) bool {
	return app.Code == 32
}

// twitterMentions stores recent mentions and publishes one aggregate
// notification per account.
type twitterMentions struct {
	sync.Base
	base      string
	sinceDays int
	publisher notify.Publisher
	now       func() time.Time

	// nonce overrides OAuth1 nonce generation in tests.
	nonce func() string
}

func newTwitterMentions(s Settings, d Deps) sync.Adaptor {
	since := s.SinceDays
	if since <= 0 {
		since = defaultSinceDays
	}
	return &twitterMentions{
		Base: sync.NewBase(sync.Spec{
			Provider: twitterProvider,
			Service:  twitterService,
			DataType: model.DataTypeNotifications,
			Keys:     keys(twitterProvider, twitterService, "consumer_key", "consumer_secret"),
			Expired:  twitterExpired,
		}, d.Records),
		base:      s.base(twitterBaseURL),
		sinceDays: since,
		publisher: d.Publisher,
		now:       time.Now,
	}
}

// mention is a tweet that passed the time window.
type mention struct {
	id, text, name, screenName string
	created                    time.Time
}

func (a *twitterMentions) BeginSync(ap *sync.AccountPass) {
	static := ap.Static()
	auth := gateway.OAuth1{
		ConsumerKey:    static.ID,
		ConsumerSecret: static.Secret,
		Token:          ap.Token.AccessToken,
		TokenSecret:    ap.Token.Secret,
		Nonce:          a.nonce,
	}

	q := url.Values{}
	q.Set("count", twitterMentionCount)
	if since := newestID(ap); since != "" {
		q.Set("since_id", since)
	}

	lastSync := ap.LastSync()
	cutoff := a.now().AddDate(0, 0, -a.sinceDays)
	var fresh []mention

	ap.Paginate(sync.PageSpec{
		First: gateway.Request{Method: "GET", URL: a.base + "/statuses/mentions_timeline.json?" + q.Encode(), Auth: auth},
		Extract: func(body []byte) (sync.Page, error) {
			page, m, err := extractMentions(body, lastSync, cutoff)
			fresh = m
			return page, err
		},
	}, func(recs []*model.Record, _ bool) {
		// The timeline is a window, not the full set: never detect removals.
		d := sync.Reconcile(ap.ID(), recs, ap.Snapshot, false)
		ap.Stage(d)
		fresh = onlyAdded(fresh, d)
		if len(fresh) == 0 {
			ap.Logger().Debug("no new mentions")
			return
		}
		n := aggregateMentions(ap.ID(), fresh, a.now())
		ap.Go(func(ctx context.Context) {
			if err := a.publisher.Publish(ctx, n); err != nil {
				ap.Logger().Error("publishing mention notification", "error", err)
			}
		}, func() {})
	})
}

// PurgeDataForOldAccounts removes the accounts' mentions and withdraws
// their notifications.
func (a *twitterMentions) PurgeDataForOldAccounts(ctx context.Context, ids []model.AccountID) error {
	if err := a.Base.PurgeDataForOldAccounts(ctx, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := a.publisher.Dismiss(ctx, twitterMentionCategory, id); err != nil {
			return fmt.Errorf("dismissing mentions of account %d: %w", id, err)
		}
	}
	return nil
}

func onlyAdded(ms []mention, d sync.Diff) []mention {
	added := make(map[string]bool, len(d.Added))
	for _, r := range d.Added {
		added[r.RemoteID] = true
	}
	var out []mention
	for _, m := range ms {
		if added[m.id] {
			out = append(out, m)
		}
	}
	return out
}

// newestID returns the largest stored tweet id, or "".
func newestID(ap *sync.AccountPass) string {
	if ap.Snapshot == nil {
		return ""
	}
	var best string
	for id := range ap.Snapshot.Records {
		if len(id) > len(best) || (len(id) == len(best) && id > best) {
			best = id
		}
	}
	return best
}

// extractMentions walks the newest-first timeline. It stops at the first
// tweet older than lastSync and skips tweets older than cutoff.
func extractMentions(body []byte, lastSync, cutoff time.Time) (sync.Page, []mention, error) {
	parsed := gjson.ParseBytes(body)
	if !gjson.ValidBytes(body) || !parsed.IsArray() {
		return sync.Page{}, nil, errInvalidJSON
	}
	var (
		page  sync.Page
		fresh []mention
	)
	for _, t := range parsed.Array() {
		created, err := time.Parse(time.RubyDate, t.Get("created_at").String())
		if err != nil {
			return sync.Page{}, nil, fmt.Errorf("parsing created_at of tweet %s: %w", t.Get("id_str").String(), err)
		}
		if !lastSync.IsZero() && created.Before(lastSync) {
			page.Stop = true
			break
		}
		if created.Before(cutoff) {
			continue
		}
		m := mention{
			id:         t.Get("id_str").String(),
			text:       t.Get("text").String(),
			name:       t.Get("user.name").String(),
			screenName: t.Get("user.screen_name").String(),
			created:    created.UTC(),
		}
		fresh = append(fresh, m)
		page.Records = append(page.Records, &model.Record{
			RemoteID: m.id,
			Fields: map[string]string{
				"text":        m.text,
				"user_name":   m.name,
				"screen_name": m.screenName,
				"created_at":  m.created.Format(time.RFC3339),
			},
			UpdatedAt: m.created,
		})
	}
	return page, fresh, nil
}

// aggregateMentions builds the per-account notification. A single mention
// is shown as itself; several are summarised.
func aggregateMentions(id model.AccountID, fresh []mention, now time.Time) notify.Notification {
	n := notify.Notification{
		Category:  twitterMentionCategory,
		AccountID: id,
		ItemCount: len(fresh),
	}
	if len(fresh) == 1 {
		m := fresh[0]
		n.Body = m.name
		n.Summary = m.text
		n.Timestamp = m.created
		n.Link = twitterWebURL + "/" + m.screenName + "/status/" + m.id
		return n
	}
	n.Body = "Twitter"
	n.Summary = fmt.Sprintf("You received %d mentions", len(fresh))
	n.Timestamp = now.UTC()
	n.Link = twitterWebURL + "/i/connect"
	return n
}
