package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/sync"
)

const (
	facebookProvider = "facebook"
	facebookBaseURL  = "https://graph.facebook.com"

	facebookSignonService   = "facebook-sync"
	facebookContactsService = "facebook-contacts"

	facebookPageSize = 100
)

var facebookErrors = gateway.ErrorPaths{
	Code:    []string{"error.code"},
	Type:    []string{"error.type"},
	Message: []string{"error.message"},
}

// facebookExpired reports whether a Graph API error means the access
// token can no longer be used.
func facebookExpired(app *gateway.AppError) bool {
	switch {
	case app.Type == "OAuthException":
		return true
	case app.Code == 190, app.Code == 102, app.Code == 10:
		return true
	case app.Code >= 200 && app.Code <= 299:
		return true
	}
	return false
}

func facebookSpec(service string, dt model.DataType) sync.Spec {
	return sync.Spec{
		Provider: facebookProvider,
		Service:  service,
		DataType: dt,
		Keys:     keys(facebookProvider, service, "client_id", "client_secret"),
		Expired:  facebookExpired,
	}
}

func facebookAuth(ap *sync.AccountPass) gateway.Authorizer {
	return gateway.QueryToken{Param: "access_token", Token: ap.Token.AccessToken}
}

// facebookSignon verifies each account's access token. A token the Graph
// API rejects is marked expired and the account flagged for
// re-authentication; a working token clears the flag.
type facebookSignon struct {
	sync.Base
	base    string
	expirer Expirer
}

func newFacebookSignon(s Settings, d Deps) sync.Adaptor {
	spec := facebookSpec(facebookSignonService, model.DataTypeSignon)
	spec.FlagOrigin = "socialsync-facebook-signon"
	return &facebookSignon{
		Base:    sync.NewBase(spec, d.Records),
		base:    s.base(facebookBaseURL),
		expirer: d.Expirer,
	}
}

func (a *facebookSignon) BeginSync(ap *sync.AccountPass) {
	req := gateway.Request{
		Method:  "GET",
		URL:     a.base + "/me?fields=id",
		Purpose: gateway.PurposeSignon,
		Auth:    facebookAuth(ap),
	}
	ap.Issue(req, func(reply *gateway.Reply) {
		switch {
		case !reply.IsError():
			if gjson.GetBytes(reply.Body, "id").Exists() {
				ap.LowerCredentialsFlag()
				return
			}
			err := apperr.Wrap(apperr.KindParse, errInvalidJSON, "parsing sign-on verification response")
			err.Provider = facebookProvider
			err.AccountID = ap.ID()
			ap.Fail(err)
		case reply.App != nil && facebookExpired(reply.App):
			id := ap.ID()
			ap.Go(func(ctx context.Context) {
				if err := a.expirer.SetState(ctx, id, model.StateCredentialsExpired); err != nil {
					ap.Logger().Error("forcing token expiry", "error", err)
				}
			}, func() {})
			ap.Check(reply)
		case reply.App != nil:
			ap.Logger().Debug("sign-on verification returned unrelated error",
				"code", reply.App.Code, "type", reply.App.Type, "message", reply.App.Message)
		default:
			// Transport failures fail the account without touching the flag.
			ap.Fail(reply.Error(facebookProvider))
		}
	})
}

// facebookContacts mirrors the account's friend list.
type facebookContacts struct {
	sync.Base
	base     string
	pageSize int
}

func newFacebookContacts(s Settings, d Deps) sync.Adaptor {
	return &facebookContacts{
		Base:     sync.NewBase(facebookSpec(facebookContactsService, model.DataTypeContacts), d.Records),
		base:     s.base(facebookBaseURL),
		pageSize: s.pageSize(facebookPageSize),
	}
}

func (a *facebookContacts) BeginSync(ap *sync.AccountPass) {
	q := url.Values{}
	q.Set("fields", "id,name,first_name,last_name,picture")
	q.Set("limit", strconv.Itoa(a.pageSize))
	auth := facebookAuth(ap)

	ap.Paginate(sync.PageSpec{
		First: gateway.Request{Method: "GET", URL: a.base + "/me/friends?" + q.Encode(), Auth: auth},
		// paging.next is an absolute URL carrying the cursor.
		Next:    func(next string) gateway.Request { return gateway.Request{Method: "GET", URL: next, Auth: auth} },
		Extract: extractFacebookFriends,
	}, func(recs []*model.Record, complete bool) {
		ap.Stage(sync.Reconcile(ap.ID(), recs, ap.Snapshot, complete))
	})
}

func extractFacebookFriends(body []byte) (sync.Page, error) {
	if !gjson.ValidBytes(body) {
		return sync.Page{}, errInvalidJSON
	}
	var p sync.Page
	gjson.GetBytes(body, "data").ForEach(func(_, f gjson.Result) bool {
		id := f.Get("id").String()
		if id == "" {
			return true
		}
		p.Records = append(p.Records, &model.Record{
			RemoteID: id,
			Fields: map[string]string{
				"name":       f.Get("name").String(),
				"first_name": f.Get("first_name").String(),
				"last_name":  f.Get("last_name").String(),
			},
			Volatile: map[string]string{
				"picture": f.Get("picture.data.url").String(),
			},
		})
		return true
	})
	p.Next = gjson.GetBytes(body, "paging.next").String()
	return p, nil
}
