package report

// markdownTemplate is embedded as a Go constant so the binary carries
// no external file dependencies.
const markdownTemplate = `# 持股異動報告 {{.Date}}

Run ` + "`{{.RunID}}`" + ` — {{.Succeeded}} succeeded, {{.Failed}} failed, {{.Skipped}} skipped.

## Instruments

| Fund | Outcome | Holdings | Note |
|------|---------|---------:|------|
{{range .Instruments -}}
| {{.Code}} | {{.Outcome}} | {{.Holdings}} | {{.Error}} |
{{end}}
{{- range .ChangeSets}}
## {{.InstrumentCode}} ({{.PriorDate}} → {{.CurrentDate}})
{{if .Empty}}
No changes.
{{else}}
| Change | Security | Name | 張數 | Shares | Weight Δ |
|--------|----------|------|-----:|--------|---------:|
{{range .Records -}}
| {{.Kind}}{{mark .Significant}} | {{.SecurityCode}} | {{.SecurityName}} | {{signedLots .DeltaShares}} | {{shares .PriorShares}} → {{shares .NewShares}} | {{deltaWeight .DeltaWeight}} |
{{end}}
{{- end}}
{{- end}}`
