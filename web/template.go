package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
)

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu []Link
}

type Link struct {
	Url      string
	Name     string
	Selected bool
}

// Parse templates and initialise main menu
func NewTemplates() (*Templates, error) {
	t := &Templates{}
	var err error
	t.Template, err = template.New("monitor").Parse(pageTemplates)
	if err != nil {
		return nil, err
	}
	t.AddMenuItem(Link{Name: "progress", Url: "/"})
	t.AddMenuItem(Link{Name: "settings", Url: "/settings"})
	return t, nil
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
	}
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = key.Url == url || (key.Url != "/" && strings.HasPrefix(url, key.Url))
	}
	return t
}

// Execute the named template, errors are logged and returned to the client
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}

const pageTemplates = `
{{define "header"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 1em; }
nav a { margin-right: 1em; text-decoration: none; }
nav a.selected { font-weight: bold; }
table { border-collapse: collapse; }
td, th { padding: 2px 8px; text-align: left; }
img.snapshot { width: 336px; image-rendering: pixelated; }
</style>
</head>
<body>
<nav>{{range .Menu}}<a href="{{.Url}}"{{if .Selected}} class="selected"{{end}}>{{.Name}}</a>{{end}}</nav>
<h2>{{.Title}}</h2>
{{end}}

{{define "footer"}}</body>
</html>
{{end}}

{{define "progress"}}{{template "header" .}}
<p>step <span id="step">{{.Step}}</span> of {{.Steps}} <span id="status">{{.Status}}</span></p>
<table>
<tr>
<td>{{range .Images}}<img class="snapshot" id="img-{{.}}" src="/img/{{.}}" alt="{{.}}"> {{end}}</td>
<td><img id="plot" src="/plot" alt="loss"></td>
</tr>
</table>
<table id="stats">
<tr><th>metric</th><th>value</th></tr>
{{range .Metrics}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
{{end}}<tr><td>secs/step</td><td>{{.Timing}}</td></tr>
</table>
<script>
var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = function(ev) {
	var msg = JSON.parse(ev.data);
	document.getElementById("step").textContent = msg.step;
	document.getElementById("status").textContent = msg.done ? "done" : "";
	var t = "?t=" + Date.now();
	document.querySelectorAll("img").forEach(function(img) {
		img.src = img.src.split("?")[0] + t;
	});
	fetch("/stats").then(function(r) { return r.text(); }).then(function(html) {
		document.getElementById("stats").innerHTML = html;
	});
};
</script>
{{template "footer" .}}{{end}}

{{define "stats"}}<tr><th>metric</th><th>value</th></tr>
{{range .Metrics}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
{{end}}<tr><td>secs/step</td><td>{{.Timing}}</td></tr>
{{end}}

{{define "settings"}}{{template "header" .}}
<table>
{{range .Fields}}<tr><td>{{.Name}}</td><td>{{if .Boolean}}<input type="checkbox" disabled{{if .On}} checked{{end}}>{{else}}{{.Value}}{{end}}</td></tr>
{{end}}</table>
{{template "footer" .}}{{end}}
`
