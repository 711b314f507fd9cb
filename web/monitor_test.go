package web

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jnb666/dfi/dfi"
)

func testMonitor(t *testing.T, conf dfi.Config) (*Monitor, *httptest.Server) {
	m, err := NewMonitor(conf)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	return m, srv
}

func testImage(w, h int) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, color.NRGBA{uint8(x * 16), uint8(y * 16), 128, 255})
		}
	}
	return m
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	resp, err := client.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestPages(t *testing.T) {
	conf := dfi.Default()
	conf.Steps = 20
	m, srv := testMonitor(t, conf)
	for step := 0; step <= 10; step += 5 {
		m.Scalar(step, "loss", 10-float64(step)*0.5)
		m.Scalar(step, "tv_loss", 0.1)
		m.Scalar(step, "diff_loss", 9)
		m.Scalar(step, "elapsed", float64(step)*0.2)
		m.Image(step, "z", testImage(8, 8))
	}
	if s := m.Status(); s.Step != 10 || s.Steps != 20 || s.Loss != 5 || s.Done {
		t.Error("unexpected status", s)
	}

	resp, body := get(t, srv.Client(), srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatal("progress page: status", resp.Status)
	}
	for _, s := range []string{"No Beard", `src="/img/z"`, "tv_loss", "diff_loss"} {
		if !strings.Contains(body, s) {
			t.Errorf("progress page: missing %q", s)
		}
	}

	_, body = get(t, srv.Client(), srv.URL+"/stats")
	t.Log(body)
	if !strings.Contains(body, "<td>loss</td><td>5</td>") {
		t.Error("stats: missing loss value")
	}

	resp, body = get(t, srv.Client(), srv.URL+"/plot")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/svg+xml" {
		t.Fatal("plot:", resp.Status, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "<svg") {
		t.Error("plot: expecting svg data")
	}

	resp, err := srv.Client().Get(srv.URL + "/img/z")
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Error("image: got bounds", img.Bounds())
	}

	resp, _ = get(t, srv.Client(), srv.URL+"/img/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Error("missing image: got", resp.Status)
	}

	_, body = get(t, srv.Client(), srv.URL+"/settings")
	if !strings.Contains(body, "Attribute") || strings.Contains(body, "MonitorPass") {
		t.Error("settings page: unexpected content")
	}
}

func TestWebsocket(t *testing.T) {
	conf := dfi.Default()
	conf.Steps = 10
	m, srv := testMonitor(t, conf)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg Status
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	t.Logf("%+v", msg)
	if msg.Step != 0 || msg.Steps != 10 || msg.Done {
		t.Error("initial status: got", msg)
	}

	m.Scalar(5, "loss", 2.5)
	m.Image(5, "z", testImage(4, 4))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	t.Logf("%+v", msg)
	if msg.Step != 5 || msg.Loss != 2.5 || msg.Done {
		t.Error("checkpoint status: got", msg)
	}

	m.Close()
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	t.Logf("%+v", msg)
	if !msg.Done {
		t.Error("expecting done status")
	}
}

func TestAuth(t *testing.T) {
	conf := dfi.Default()
	conf.MonitorUser = "user"
	conf.MonitorPass = "secret"
	_, srv := testMonitor(t, conf)
	client := srv.Client()

	resp, _ := get(t, client, srv.URL+"/")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatal("expecting unauthorized, got", resp.Status)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/", nil)
	req.SetBasicAuth("user", "wrong")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Error("bad password: got", resp.Status)
	}

	req, _ = http.NewRequest("GET", srv.URL+"/", nil)
	req.SetBasicAuth("user", "secret")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatal("basic auth: got", resp.Status)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("session cookie not set")
	}

	req, _ = http.NewRequest("GET", srv.URL+"/settings", nil)
	req.AddCookie(cookie)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Error("cookie auth: got", resp.Status)
	}
}
