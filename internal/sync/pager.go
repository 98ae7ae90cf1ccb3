package sync

import (
	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/model"
)

// Page is what an extractor finds in one response.
type Page struct {
	Records []*model.Record

	// Next is the continuation cursor. Empty means the remote set is
	// exhausted.
	Next string

	// Stop ends paging early, e.g. once a time-windowed feed reaches items
	// older than the last sync. The result is then not complete.
	Stop bool
}

// PageSpec describes a paged endpoint.
type PageSpec struct {
	First   gateway.Request
	Next    func(cursor string) gateway.Request
	Extract func(body []byte) (Page, error)
}

// Paginate fetches every page of spec for the account, issuing page N+1
// only once page N's cursor is known. done runs on the worker with all
// records in arrival order; complete is true when paging ended because the
// provider reported no further pages. If any page fails the account fails
// and done is not called.
func (ap *AccountPass) Paginate(spec PageSpec, done func(records []*model.Record, complete bool)) {
	var acc []*model.Record
	pages := 0

	var onReply func(*gateway.Reply)
	onReply = func(reply *gateway.Reply) {
		if !ap.Check(reply) {
			return
		}
		page, err := spec.Extract(reply.Body)
		if err != nil {
			ap.Fail(&apperr.Error{
				Kind:      apperr.KindParse,
				Provider:  ap.pass.orch.spec.Provider,
				AccountID: ap.ID(),
				Msg:       "decoding page",
				Err:       err,
			})
			return
		}
		pages++
		acc = append(acc, page.Records...)

		switch {
		case page.Stop:
			ap.log.Debug("paging stopped early", "pages", pages, "records", len(acc))
			done(acc, false)
		case page.Next == "" || spec.Next == nil:
			ap.log.Debug("paging complete", "pages", pages, "records", len(acc))
			done(acc, true)
		default:
			req := spec.Next(page.Next)
			req.Purpose = gateway.PurposePage
			ap.Issue(req, onReply)
		}
	}

	first := spec.First
	if first.Purpose == "" {
		first.Purpose = gateway.PurposeList
	}
	ap.Issue(first, onReply)
}
