// Package web has a web based interface to monitor the progress of an optimization run.
package web

import (
	"fmt"
	"html/template"
	"image"
	"image/png"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jnb666/dfi/dfi"
	"github.com/jnb666/dfi/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Size of the loss plot in pixels
var PlotWidth, PlotHeight = 500, 336

// Status message sent to websocket clients at each checkpoint
type Status struct {
	Step  int     `json:"step"`
	Steps int     `json:"steps"`
	Loss  float64 `json:"loss"`
	Done  bool    `json:"done"`
}

type Metric struct {
	Name  string
	Value string
}

// Monitor records the metrics and images from a run and serves them over HTTP.
type Monitor struct {
	*Templates
	conf     dfi.Config
	series   *stats.Series
	images   map[string]image.Image
	names    []string
	status   Status
	timing   stats.Average
	lastStep int
	lastTime float64
	conns    map[*websocket.Conn]bool
	sync.Mutex
}

var _ dfi.MetricsSink = &Monitor{}

// Data for the progress page
type progressPage struct {
	*Templates
	Title   string
	Step    int
	Steps   int
	Status  string
	Images  []string
	Metrics []Metric
	Timing  template.HTML
}

func NewMonitor(conf dfi.Config) (*Monitor, error) {
	t, err := NewTemplates()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		Templates: t,
		conf:      conf,
		series:    stats.NewSeries(),
		images:    make(map[string]image.Image),
		status:    Status{Steps: conf.Steps},
		conns:     make(map[*websocket.Conn]bool),
	}, nil
}

// Scalar records a metric value. The elapsed time is used to calculate the time per step.
func (m *Monitor) Scalar(step int, name string, value float64) {
	m.Lock()
	defer m.Unlock()
	m.series.Add(step, name, value)
	switch name {
	case "loss":
		m.status.Loss = value
	case "elapsed":
		if step > m.lastStep {
			m.timing.Add((value - m.lastTime) / float64(step-m.lastStep))
		}
		m.lastStep, m.lastTime = step, value
	}
}

// Image saves the latest version of the named image. Clients are notified when the snapshot is updated.
func (m *Monitor) Image(step int, name string, img image.Image) {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.images[name]; !ok {
		m.names = append(m.names, name)
	}
	m.images[name] = img
	if name == "z" {
		m.status.Step = step
		m.notify()
	}
}

// Close marks the run as complete.
func (m *Monitor) Close() error {
	m.Lock()
	defer m.Unlock()
	m.status.Done = true
	m.notify()
	return nil
}

// Current status
func (m *Monitor) Status() Status {
	m.Lock()
	defer m.Unlock()
	return m.status
}

// send status to each websocket client, must be called with the lock held
func (m *Monitor) notify() {
	for conn := range m.conns {
		if err := conn.WriteJSON(m.status); err != nil {
			log.Println("monitor: error writing to websocket:", err)
			conn.Close()
			delete(m.conns, conn)
		}
	}
}

// Handler returns the router for the monitor pages. If a user name is set in the config then
// requests are authenticated.
func (m *Monitor) Handler() http.Handler {
	settings := NewSettingsPage(m.Clone(), m.conf)
	r := mux.NewRouter()
	r.HandleFunc("/", m.Base())
	r.HandleFunc("/stats", m.Stats())
	r.HandleFunc("/plot", m.Plot())
	r.HandleFunc("/img/{name}", m.ImageFile())
	r.HandleFunc("/ws", m.Websocket())
	r.HandleFunc("/settings", settings.Base())
	if m.conf.MonitorUser != "" {
		auth := NewAuthMiddleware(m.conf.MonitorUser, m.conf.MonitorPass)
		r.Use(auth.Middleware)
	}
	return r
}

func (m *Monitor) page() *progressPage {
	m.Lock()
	defer m.Unlock()
	p := &progressPage{
		Templates: m.Clone().Select("/"),
		Title:     fmt.Sprintf("%s: person %d", m.conf.Attribute, m.conf.Person),
		Step:      m.status.Step,
		Steps:     m.status.Steps,
		Images:    append([]string{}, m.names...),
		Timing:    m.timing.HTML(),
	}
	if m.status.Done {
		p.Status = "done"
	}
	for _, name := range m.series.Names() {
		if _, val, ok := m.series.Get(name).Last(); ok {
			p.Metrics = append(p.Metrics, Metric{Name: name, Value: fmt.Sprintf("%.6g", val)})
		}
	}
	return p
}

// Handler function for the progress page
func (m *Monitor) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Exec(w, "progress", m.page())
	}
}

// Handler function for the table of latest metric values
func (m *Monitor) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Exec(w, "stats", m.page())
	}
}

// Handler function for the loss plot in svg format. Metrics to plot may be given with the m query parameter.
func (m *Monitor) Plot() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		names := r.URL.Query()["m"]
		if len(names) == 0 {
			names = dfi.PlotMetrics
		}
		data, err := stats.WritePlot(m.series.Plot("loss", names...), PlotWidth, PlotHeight)
		if err != nil {
			logError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(data)
	}
}

// Handler function for the latest version of the named image in png format
func (m *Monitor) ImageFile() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		m.Lock()
		img, ok := m.images[name]
		m.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, img); err != nil {
			log.Println("monitor: error encoding image:", err)
		}
	}
}

// Handler function for websocket connection. The current status is sent when the client connects.
func (m *Monitor) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("monitor: websocket upgrade error:", err)
			return
		}
		m.Lock()
		m.conns[conn] = true
		err = conn.WriteJSON(m.status)
		m.Unlock()
		if err != nil {
			log.Println("monitor: error writing to websocket:", err)
		}
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
			m.Lock()
			delete(m.conns, conn)
			m.Unlock()
			conn.Close()
		}()
	}
}
