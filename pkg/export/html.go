package export

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc":           func(i int) int { return i + 1 },
	"severityClass": severityClass,
	"score":         func(f float64) string { return fmt.Sprintf("%.1f", f) },
	"coord":         func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"detailKeys":    detailKeys,
	"detail":        func(d map[string]any, k string) string { return fmt.Sprint(d[k]) },
}).Parse(reportHTML))

type htmlView struct {
	*models.ComplianceReport
	Generated string
	ByType    []typeCount
}

type typeCount struct {
	Type  models.ViolationType
	Count int
}

// HTML renders a self-contained report page: inline styles, no scripts,
// no external resources.
func HTML(report *models.ComplianceReport) ([]byte, error) {
	view := htmlView{
		ComplianceReport: report,
		Generated:        report.AnalysisTime.Format("2006-01-02 15:04:05 MST"),
		ByType:           countByType(report.Violations),
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

func countByType(vs []models.Violation) []typeCount {
	counts := make(map[models.ViolationType]int)
	for _, v := range vs {
		counts[v.Type]++
	}
	var out []typeCount
	for _, t := range models.ViolationTypes {
		if n := counts[t]; n > 0 {
			out = append(out, typeCount{Type: t, Count: n})
			delete(counts, t)
		}
	}
	for t, n := range counts {
		out = append(out, typeCount{Type: t, Count: n})
	}
	return out
}

func severityClass(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "critical"
	case models.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

func detailKeys(d map[string]any) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const reportHTML = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>CAD 图纸合规性检查报告 - {{.Filename}}</title>
<style>
body{font-family:"Microsoft YaHei","PingFang SC",sans-serif;margin:2em;color:#222}
h1{font-size:1.5em;border-bottom:2px solid #333;padding-bottom:.3em}
table{border-collapse:collapse;width:100%;margin:1em 0}
th,td{border:1px solid #ccc;padding:.4em .6em;text-align:left;vertical-align:top}
th{background:#f3f3f3}
.summary td{width:25%}
.pass{color:#1a7f37;font-weight:bold}
.fail{color:#cf222e;font-weight:bold}
.critical{color:#cf222e}
.warning{color:#9a6700}
.info{color:#0969da}
.details{font-size:.85em;color:#555}
</style>
</head>
<body>
<h1>CAD 图纸合规性检查报告</h1>
<table class="summary">
<tr><th>文件名</th><td>{{.Filename}}</td><th>检查标准</th><td>{{.Standard}}</td></tr>
<tr><th>分析编号</th><td>{{.AnalysisID}}</td><th>分析时间</th><td>{{.Generated}}</td></tr>
<tr><th>合规评分</th><td>{{score .ComplianceScore}}</td><th>结论</th><td>{{if .IsCompliant}}<span class="pass">合规</span>{{else}}<span class="fail">不合规</span>{{end}}</td></tr>
<tr><th>违规总数</th><td>{{.TotalViolations}}</td><th>严重 / 警告 / 提示</th><td>{{.CriticalCount}} / {{.WarningCount}} / {{.InfoCount}}</td></tr>
</table>
{{if .ByType}}
<h2>按类型统计</h2>
<table>
<tr><th>类型</th><th>数量</th></tr>
{{range .ByType}}<tr><td>{{.Type}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
{{end}}
<h2>违规详情</h2>
{{if .Violations}}
<table>
<tr><th>#</th><th>严重程度</th><th>类型</th><th>规则</th><th>描述</th><th>图层</th><th>实体</th><th>位置</th><th>建议</th></tr>
{{range $i, $v := .Violations}}<tr>
<td>{{inc $i}}</td>
<td class="{{severityClass $v.Severity}}">{{$v.Severity}}</td>
<td>{{$v.Type}}</td>
<td>{{$v.Rule}}</td>
<td>{{$v.Description}}{{if $v.EntityDetails}}<div class="details">{{range detailKeys $v.EntityDetails}}{{.}}: {{detail $v.EntityDetails .}}<br>{{end}}</div>{{end}}</td>
<td>{{$v.Layer}}</td>
<td>{{$v.EntityHandle}}</td>
<td>{{with $v.Location}}({{coord .X}}, {{coord .Y}}){{end}}</td>
<td>{{$v.Suggestion}}</td>
</tr>
{{end}}</table>
{{else}}
<p class="pass">未发现违规项。</p>
{{end}}
</body>
</html>
`
