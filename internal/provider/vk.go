package provider

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/sync"
)

const (
	vkProvider   = "vk"
	vkBaseURL    = "https://api.vk.com/method"
	vkService    = "vk-microblog"
	vkAPIVersion = "5.21"
)

var vkErrors = gateway.ErrorPaths{
	Code:    []string{"error.error_code"},
	Message: []string{"error.error_msg"},
}

// vkExpired matches "User authorization failed".
func vkExpired(app *gateway.AppError) bool {
	return app.Code == 5
}

// vkNotifications stores one record per feedback item of the account's
// notification feed.
type vkNotifications struct {
	sync.Base
	base string
}

func newVKNotifications(s Settings, d Deps) sync.Adaptor {
	return &vkNotifications{
		Base: sync.NewBase(sync.Spec{
			Provider: vkProvider,
			Service:  vkService,
			DataType: model.DataTypeNotifications,
			Keys:     keys(vkProvider, vkService, "client_id", "client_secret"),
			Expired:  vkExpired,
		}, d.Records),
		base: s.base(vkBaseURL),
	}
}

func (a *vkNotifications) BeginSync(ap *sync.AccountPass) {
	req := gateway.Request{
		Method: "GET",
		URL:    a.base + "/notifications.get?v=" + vkAPIVersion,
		Auth:   gateway.QueryToken{Param: "access_token", Token: ap.Token.AccessToken},
	}
	ap.Paginate(sync.PageSpec{First: req, Extract: extractVKNotifications(ap)},
		func(recs []*model.Record, _ bool) {
			// notifications.get returns recent items only.
			ap.Stage(sync.Reconcile(ap.ID(), recs, ap.Snapshot, false))
		})
}

type vkProfile struct {
	name, icon string
}

func extractVKNotifications(ap *sync.AccountPass) func([]byte) (sync.Page, error) {
	return func(body []byte) (sync.Page, error) {
		if !gjson.ValidBytes(body) {
			return sync.Page{}, errInvalidJSON
		}
		resp := gjson.GetBytes(body, "response")
		if !resp.Exists() {
			return sync.Page{}, errInvalidJSON
		}

		profiles := make(map[int64]vkProfile)
		resp.Get("profiles").ForEach(func(_, p gjson.Result) bool {
			name := strings.TrimSpace(p.Get("first_name").String() + " " + p.Get("last_name").String())
			profiles[p.Get("id").Int()] = vkProfile{name: name, icon: p.Get("photo_50").String()}
			return true
		})

		var page sync.Page
		resp.Get("items").ForEach(func(_, item gjson.Result) bool {
			typ := item.Get("type").String()
			date := item.Get("date").Int()
			item.Get("feedback.items").ForEach(func(_, fb gjson.Result) bool {
				from, to := fb.Get("from_id").Int(), fb.Get("to_id").Int()
				prof, ok := profiles[from]
				if !ok {
					ap.Logger().Debug("no user profile for notification owner", "from_id", from)
					return true
				}
				page.Records = append(page.Records, &model.Record{
					RemoteID: strings.Join([]string{typ, strconv.FormatInt(from, 10), strconv.FormatInt(to, 10), strconv.FormatInt(date, 10)}, ":"),
					Fields: map[string]string{
						"type":      typ,
						"from_id":   strconv.FormatInt(from, 10),
						"from_name": prof.name,
						"to_id":     strconv.FormatInt(to, 10),
						"timestamp": parseUnix(date).Format(time.RFC3339),
					},
					Volatile:  map[string]string{"icon": prof.icon},
					UpdatedAt: parseUnix(date),
				})
				return true
			})
			return true
		})
		return page, nil
	}
}
