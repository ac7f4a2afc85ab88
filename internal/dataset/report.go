package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// ReportInput is everything the cleaning report is rendered from.
type ReportInput struct {
	JobID            string
	OriginalFilename string
	Before           *models.Profile
	Suggestions      []models.Suggestion
	Corrections      []models.Correction
	RowsOut          int
	ColumnsOut       int
}

// RenderReport returns the Markdown cleaning report.
func RenderReport(in ReportInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Cleaning Report for Job %s\n\n", in.JobID)
	if in.OriginalFilename != "" {
		fmt.Fprintf(&b, "**Original file:** %s\n\n", in.OriginalFilename)
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| | Rows | Columns |\n|---|---|---|\n")
	if in.Before != nil {
		fmt.Fprintf(&b, "| Before | %d | %d |\n", in.Before.RowCount+len(in.Before.MalformedRows), in.Before.ColumnCount)
	}
	fmt.Fprintf(&b, "| After | %d | %d |\n\n", in.RowsOut, in.ColumnsOut)

	applied := 0
	for _, c := range in.Corrections {
		if !c.Skipped {
			applied++
		}
	}
	fmt.Fprintf(&b, "%d of %d cleaning steps changed the data.\n\n", applied, len(in.Corrections))

	b.WriteString("## Cleaning Steps Applied\n\n")
	if len(in.Corrections) == 0 {
		b.WriteString("No cleaning steps were needed.\n\n")
	}
	for i, c := range in.Corrections {
		target := ""
		if c.Column != "" {
			target = fmt.Sprintf(" on `%s`", c.Column)
		}
		if c.Skipped {
			fmt.Fprintf(&b, "%d. **%s**%s: skipped (%s)\n", i+1, c.Operation, target, c.Detail)
			continue
		}
		fmt.Fprintf(&b, "%d. **%s**%s: %s (%d affected)\n", i+1, c.Operation, target, c.Detail, c.RowsAffected)
	}
	b.WriteString("\n")

	if reasons := suggestionReasons(in.Suggestions); len(reasons) > 0 {
		b.WriteString("## Why\n\n")
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	if in.Before != nil {
		writeColumnIssues(&b, in.Before)
	}

	b.WriteString("---\n")
	b.WriteString("This report was generated automatically.\n")
	return b.String()
}

func suggestionReasons(suggestions []models.Suggestion) []string {
	var out []string
	for _, s := range suggestions {
		if s.Reason == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", s.Operation, s.Reason))
	}
	return out
}

func writeColumnIssues(b *strings.Builder, p *models.Profile) {
	type issue struct {
		column string
		text   string
	}
	var issues []issue
	for _, c := range p.Columns {
		if c.NullCount > 0 {
			issues = append(issues, issue{c.Name, fmt.Sprintf("%d empty cells", c.NullCount)})
		}
		if c.NonValueCount > 0 {
			issues = append(issues, issue{c.Name, fmt.Sprintf("%d placeholder values", c.NonValueCount)})
		}
		for _, v := range c.Variants {
			issues = append(issues, issue{c.Name, fmt.Sprintf("%d spellings of %q (%s)",
				len(v.Spellings), v.Canonical, strings.Join(v.Spellings, ", "))})
		}
	}
	if len(p.MalformedRows) > 0 {
		issues = append(issues, issue{"", fmt.Sprintf("%d malformed rows", len(p.MalformedRows))})
	}
	if len(issues) == 0 {
		return
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].column < issues[j].column })

	b.WriteString("## Issues Found During Profiling\n\n")
	for _, is := range issues {
		if is.column == "" {
			fmt.Fprintf(b, "- %s\n", is.text)
			continue
		}
		fmt.Fprintf(b, "- `%s`: %s\n", is.column, is.text)
	}
	b.WriteString("\n")
}
