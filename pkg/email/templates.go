package email

import (
	"embed"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"money": func(v float64) string {
		return decimal.NewFromFloat(v).StringFixed(2)
	},
	"date": func(t time.Time) string {
		return t.Format("02 Jan 2006")
	},
}

func loadTemplates() (*template.Template, error) {
	return template.New("email").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}
