package alerts

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

var metricLabels = map[monitor.Metric]string{
	monitor.MetricLCP: "LCP",
	monitor.MetricCLS: "CLS",
	monitor.MetricINP: "INP",
}

var emailTemplate = template.Must(template.New("alert").Parse(`<div style="font-family:sans-serif;max-width:600px;margin:0 auto">
<h2 style="color:#dc2626">Performance alert for {{.Name}}</h2>
<p><a href="{{.URL}}">{{.URL}}</a></p>
<table style="width:100%;border-collapse:collapse">
<tr><th align="left">Metric</th><th align="left">Value</th><th align="left">Threshold</th></tr>
{{range .Rows}}<tr><td>{{.Label}}</td><td style="color:#dc2626">{{.Value}}</td><td>{{.Threshold}}</td></tr>
{{end}}</table>
<p><a href="{{.DashboardURL}}">View dashboard</a></p>
</div>`))

type emailRow struct {
	Label     string
	Value     string
	Threshold string
}

// formatValue renders a metric the way the dashboard shows it.
func formatValue(m monitor.Metric, v float64) string {
	if m == monitor.MetricCLS {
		return strconv.FormatFloat(v, 'f', 3, 64)
	}
	if v >= 1000 {
		return strconv.FormatFloat(v/1000, 'f', 2, 64) + "s"
	}
	return strconv.FormatFloat(v, 'f', 0, 64) + "ms"
}

// Subject returns the consolidated alert subject line.
func Subject(projectName string, count int) string {
	return fmt.Sprintf("Performance alert: %s — %d metric(s) exceeded threshold", projectName, count)
}

// DashboardURL returns the link to the project page.
func DashboardURL(appURL, projectID string) string {
	return strings.TrimRight(appURL, "/") + "/projects/" + projectID
}

func renderEmail(project monitor.Project, alerts []monitor.Alert, appURL string) (Message, error) {
	rows := make([]emailRow, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, emailRow{
			Label:     metricLabels[a.Metric],
			Value:     formatValue(a.Metric, a.Value),
			Threshold: formatValue(a.Metric, a.Threshold),
		})
	}
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Name         string
		URL          string
		DashboardURL string
		Rows         []emailRow
	}{
		Name:         project.Name,
		URL:          project.URL,
		DashboardURL: DashboardURL(appURL, project.ID),
		Rows:         rows,
	})
	if err != nil {
		return Message{}, fmt.Errorf("execute alert template: %w", err)
	}
	return Message{
		Subject: Subject(project.Name, len(alerts)),
		HTML:    buf.String(),
	}, nil
}
