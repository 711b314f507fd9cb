package web

import (
	"fmt"
	"net/http"

	"github.com/jnb666/dfi/dfi"
)

type Field struct {
	Name    string
	Value   string
	Boolean bool
	On      bool
}

// SettingsPage displays the run configuration
type SettingsPage struct {
	*Templates
	Title  string
	Fields []Field
}

func NewSettingsPage(t *Templates, conf dfi.Config) *SettingsPage {
	return &SettingsPage{
		Templates: t.Select("/settings"),
		Title:     "Settings",
		Fields:    getFields(conf),
	}
}

// Handler function for the settings template
func (p *SettingsPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Exec(w, "settings", p)
	}
}

func getFields(conf dfi.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		if key == "MonitorPass" {
			continue
		}
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}
