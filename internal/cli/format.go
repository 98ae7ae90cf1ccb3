package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/njoerd114/socialsync/internal/model"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

func printSection(w io.Writer, title string) {
	_, _ = headerColor.Fprintf(w, "%s\n", title)
}

func printLabelValue(w io.Writer, label, value string) {
	_, _ = labelColor.Fprintf(w, "  %-12s", label+":")
	_, _ = fmt.Fprintln(w, value)
}

func printSuccess(w io.Writer, format string, args ...any) {
	_, _ = successColor.Fprintf(w, "ok ")
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	_, _ = warningColor.Fprintf(w, "warning ")
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

// printResult writes one line per finished pass.
func printResult(w io.Writer, r model.PassResult) {
	counts := fmt.Sprintf("added=%d modified=%d removed=%d upsynced=%d failures=%d purged=%d",
		r.Added, r.Modified, r.Removed, r.Upsynced, r.Failures, r.Purged)
	if r.Result == model.ResultSuccess {
		_, _ = successColor.Fprintf(w, "%-8s", r.Result)
	} else {
		_, _ = errorColor.Fprintf(w, "%-8s", r.Result)
	}
	_, _ = fmt.Fprintf(w, " %-28s accounts=%d %s", r.Profile, r.Accounts, counts)
	if r.Code != model.NoError {
		_, _ = errorColor.Fprintf(w, " (%s)", r.Code)
	}
	_, _ = fmt.Fprintln(w)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return dimColor.Sprint("never")
	}
	return t.Local().Format(time.DateTime)
}
