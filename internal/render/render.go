// Package render builds the deliverable report from a snapshot and the
// analyzer's insights. Output is an HTML body plus a plain-text alternative,
// with section headings localized per job language.
package render

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"reporthub/internal/pipeline"
	"reporthub/internal/tabular"
)

// labels are the localized section headings of one report.
type labels struct {
	Summary        string
	Rows           string
	Columns        string
	NumericColumns string
	MissingValues  string
	Insights       string
	Charts         string
	Sample         string
	Generated      string
}

var locales = map[string]labels{
	"en": {"Data Summary", "Rows", "Columns", "Numeric Columns", "Missing Values", "Key Insights", "Column Overview", "Data Sample", "Generated"},
	"es": {"Resumen de Datos", "Filas", "Columnas", "Columnas Numéricas", "Valores Faltantes", "Conclusiones Clave", "Resumen de Columnas", "Muestra de Datos", "Generado"},
	"fr": {"Résumé des Données", "Lignes", "Colonnes", "Colonnes Numériques", "Valeurs Manquantes", "Points Clés", "Aperçu des Colonnes", "Échantillon de Données", "Généré"},
	"de": {"Datenübersicht", "Zeilen", "Spalten", "Numerische Spalten", "Fehlende Werte", "Wichtige Erkenntnisse", "Spaltenübersicht", "Datenstichprobe", "Erstellt"},
	"pt": {"Resumo dos Dados", "Linhas", "Colunas", "Colunas Numéricas", "Valores Ausentes", "Principais Conclusões", "Visão Geral das Colunas", "Amostra de Dados", "Gerado"},
	"hi": {"डेटा सारांश", "पंक्तियाँ", "कॉलम", "संख्यात्मक कॉलम", "अनुपस्थित मान", "मुख्य निष्कर्ष", "कॉलम अवलोकन", "डेटा नमूना", "उत्पन्न"},
	"zh": {"数据摘要", "行数", "列数", "数值列", "缺失值", "关键洞察", "列概览", "数据样本", "生成时间"},
	"ja": {"データ概要", "行数", "列数", "数値列", "欠損値", "主要な洞察", "列の概要", "データサンプル", "生成日時"},
}

// Renderer is stateless and safe for concurrent use.
type Renderer struct {
	now func() time.Time
}

func New() *Renderer {
	return &Renderer{now: time.Now}
}

type chartRow struct {
	Column  string
	Min     string
	Mean    string
	Max     string
	Percent int
}

type reportData struct {
	Name      string
	L         labels
	Stats     tabular.Stats
	Insights  []string
	Charts    []chartRow
	SampleCol []string
	Sample    [][]string
	Generated string
}

// Render builds the artifact. Unknown languages fall back to English
// headings; the insight text itself is already in the job's language.
func (r *Renderer) Render(_ context.Context, frame tabular.Frame, insights string, opts pipeline.RenderOptions) (pipeline.Artifact, error) {
	if frame.Empty() {
		return pipeline.Artifact{}, fmt.Errorf("render %q: empty snapshot", opts.ReportName)
	}
	l, ok := locales[opts.Language]
	if !ok {
		l = locales["en"]
	}

	now := r.now()
	data := reportData{
		Name:      opts.ReportName,
		L:         l,
		Stats:     frame.Stats(),
		Insights:  splitParagraphs(insights),
		Generated: now.Format("2006-01-02 15:04 MST"),
	}
	if opts.IncludeCharts {
		data.Charts = chartRows(frame.Summaries())
	}
	if opts.IncludeRawData {
		data.SampleCol = frame.Columns
		data.Sample = frame.Head(10)
	}

	var html strings.Builder
	if err := reportTmpl.Execute(&html, data); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("render %q: %w", opts.ReportName, err)
	}

	return pipeline.Artifact{
		Subject: fmt.Sprintf("Data Analysis Report - %s - %s", opts.ReportName, now.Format("2006-01-02")),
		HTML:    html.String(),
		Text:    renderText(data),
	}, nil
}

func splitParagraphs(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// chartRows scales each column's mean against the largest mean so the HTML
// bars are comparable at a glance.
func chartRows(sums []tabular.NumericSummary) []chartRow {
	var maxMean float64
	for _, s := range sums {
		if s.Mean > maxMean {
			maxMean = s.Mean
		}
	}
	rows := make([]chartRow, 0, len(sums))
	for _, s := range sums {
		pct := 0
		if maxMean > 0 && s.Mean > 0 {
			pct = int(s.Mean / maxMean * 100)
		}
		rows = append(rows, chartRow{
			Column:  s.Column,
			Min:     trimFloat(s.Min),
			Mean:    trimFloat(s.Mean),
			Max:     trimFloat(s.Max),
			Percent: pct,
		})
	}
	return rows
}

func trimFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

func renderText(d reportData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", d.Name, strings.Repeat("=", len(d.Name)))
	fmt.Fprintf(&b, "%s:\n", d.L.Summary)
	fmt.Fprintf(&b, "  %s: %d\n", d.L.Rows, d.Stats.Rows)
	fmt.Fprintf(&b, "  %s: %d\n", d.L.Columns, d.Stats.Columns)
	fmt.Fprintf(&b, "  %s: %d\n", d.L.NumericColumns, d.Stats.NumericColumns)
	fmt.Fprintf(&b, "  %s: %d\n", d.L.MissingValues, d.Stats.MissingValues)

	b.WriteString("\n" + d.L.Insights + ":\n")
	for _, p := range d.Insights {
		fmt.Fprintf(&b, "  %s\n", p)
	}

	if len(d.Charts) > 0 {
		b.WriteString("\n" + d.L.Charts + ":\n")
		for _, c := range d.Charts {
			fmt.Fprintf(&b, "  %s: min %s / mean %s / max %s\n", c.Column, c.Min, c.Mean, c.Max)
		}
	}

	if len(d.Sample) > 0 {
		b.WriteString("\n" + d.L.Sample + ":\n")
		fmt.Fprintf(&b, "  %s\n", strings.Join(d.SampleCol, " | "))
		for _, row := range d.Sample {
			fmt.Fprintf(&b, "  %s\n", strings.Join(row, " | "))
		}
	}

	fmt.Fprintf(&b, "\n%s: %s\n", d.L.Generated, d.Generated)
	return b.String()
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family:Arial,Helvetica,sans-serif;color:#222;max-width:720px;margin:0 auto;padding:16px">
<h1 style="border-bottom:2px solid #4a6fa5;padding-bottom:8px">{{.Name}}</h1>

<h2>{{.L.Summary}}</h2>
<table cellpadding="6" style="border-collapse:collapse">
<tr><td>{{.L.Rows}}</td><td><b>{{.Stats.Rows}}</b></td></tr>
<tr><td>{{.L.Columns}}</td><td><b>{{.Stats.Columns}}</b></td></tr>
<tr><td>{{.L.NumericColumns}}</td><td><b>{{.Stats.NumericColumns}}</b></td></tr>
<tr><td>{{.L.MissingValues}}</td><td><b>{{.Stats.MissingValues}}</b></td></tr>
</table>

<h2>{{.L.Insights}}</h2>
{{range .Insights}}<p>{{.}}</p>
{{end}}
{{if .Charts}}<h2>{{.L.Charts}}</h2>
<table cellpadding="6" style="border-collapse:collapse;width:100%">
{{range .Charts}}<tr>
<td style="width:30%">{{.Column}}</td>
<td style="width:45%"><div style="background:#4a6fa5;height:14px;width:{{.Percent}}%"></div></td>
<td style="white-space:nowrap">{{.Min}} / {{.Mean}} / {{.Max}}</td>
</tr>
{{end}}</table>
{{end}}
{{if .Sample}}<h2>{{.L.Sample}}</h2>
<table cellpadding="6" border="1" style="border-collapse:collapse;border-color:#ddd">
<tr>{{range .SampleCol}}<th style="background:#f4f6f9">{{.}}</th>{{end}}</tr>
{{range .Sample}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>
{{end}}
<p style="color:#888;font-size:12px;margin-top:24px">{{.L.Generated}}: {{.Generated}}</p>
</body>
</html>
`))
