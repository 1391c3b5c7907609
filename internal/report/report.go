// Package report renders the outcome of an ingestion run for humans:
// a terse terminal summary or Markdown suitable for committing next to
// the data.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/etfwatch/etfwatch/pkg/models"
)

// Format selects the output rendering.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a CLI flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Render formats a finished run.
func Render(run *models.RunResult, format Format) (string, error) {
	switch format {
	case FormatText:
		return renderText(run), nil
	case FormatMarkdown:
		return renderMarkdown(run)
	}
	return "", fmt.Errorf("unknown report format %q", format)
}

func renderText(run *models.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s  date=%s  ok=%d failed=%d skipped=%d\n",
		run.RunID, run.Date, run.Succeeded, run.Failed, run.Skipped)

	for _, res := range run.Instruments {
		switch res.Outcome {
		case models.OutcomeFailed, models.OutcomeSkipped:
			fmt.Fprintf(&b, "  %-8s %-9s %s\n", res.Code, res.Outcome, res.Error)
		default:
			fmt.Fprintf(&b, "  %-8s %-9s %d holdings\n", res.Code, res.Outcome, res.Holdings)
		}
	}

	for _, cs := range run.ChangeSets {
		if cs.Empty() {
			fmt.Fprintf(&b, "\n%s: no changes (%s -> %s)\n", cs.InstrumentCode, cs.PriorDate, cs.CurrentDate)
			continue
		}
		fmt.Fprintf(&b, "\n%s: %d changes (%s -> %s)\n", cs.InstrumentCode, len(cs.Records), cs.PriorDate, cs.CurrentDate)
		for _, rec := range cs.Records {
			fmt.Fprintf(&b, "  %-8s %-6s %s  %s\n", rec.Kind, rec.SecurityCode, rec.SecurityName, describeChange(rec))
		}
	}
	return b.String()
}

// describeChange reports share moves in lots, the unit Taiwanese
// investors actually read.
func describeChange(rec models.ChangeRecord) string {
	lots := models.SharesToLots(rec.DeltaShares)
	var s string
	switch rec.Kind {
	case models.ChangeAdded:
		s = fmt.Sprintf("new position %s 張", formatLots(lots))
	case models.ChangeRemoved:
		s = fmt.Sprintf("position closed %s 張", formatLots(-lots))
	default:
		s = fmt.Sprintf("%s 張 (%s -> %s)",
			formatSignedLots(lots),
			formatShares(rec.PriorShares), formatShares(rec.NewShares))
	}
	if rec.DeltaWeight != 0 {
		s += fmt.Sprintf(", weight %+.2f%%", rec.DeltaWeight)
	}
	if rec.Significant {
		s += " *"
	}
	return s
}

func formatLots(lots float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.3f", lots), "0")
	return strings.TrimSuffix(s, ".")
}

func formatSignedLots(lots float64) string {
	if lots >= 0 {
		return "+" + formatLots(lots)
	}
	return "-" + formatLots(-lots)
}

func formatShares(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

var markdownFuncs = template.FuncMap{
	"signedLots": func(shares int64) string { return formatSignedLots(models.SharesToLots(shares)) },
	"shares":     formatShares,
	"weight": func(w *float64) string {
		if w == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f%%", *w)
	},
	"deltaWeight": func(dw float64) string { return fmt.Sprintf("%+.2f%%", dw) },
	"mark": func(significant bool) string {
		if significant {
			return " ⚠"
		}
		return ""
	},
}

var markdownTmpl = template.Must(template.New("markdown").Funcs(markdownFuncs).Parse(markdownTemplate))

func renderMarkdown(run *models.RunResult) (string, error) {
	var buf bytes.Buffer
	if err := markdownTmpl.Execute(&buf, run); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
