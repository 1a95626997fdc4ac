package provision

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/inventory"
)

// deviceServer records every request a handler sends, with the command
// payload percent-decoded back to console syntax.
type deviceServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	method  string
	path    string
	payload string // decoded query for GETs, raw body otherwise
}

func newDeviceServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *deviceServer {
	t.Helper()
	ds := &deviceServer{}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := recordedRequest{method: r.Method, path: r.URL.Path}
		if r.Method == http.MethodGet {
			decoded, err := url.QueryUnescape(r.URL.RawQuery)
			if err != nil {
				t.Errorf("undecodable query %q: %v", r.URL.RawQuery, err)
			}
			req.payload = decoded
		} else {
			body, _ := io.ReadAll(r.Body)
			req.payload = string(body)
		}

		ds.mu.Lock()
		ds.requests = append(ds.requests, req)
		ds.mu.Unlock()

		if respond != nil {
			respond(w, r)
		}
	}))
	t.Cleanup(ds.Server.Close)
	return ds
}

func (ds *deviceServer) host() string {
	return strings.TrimPrefix(ds.URL, "http://")
}

func (ds *deviceServer) recorded() []recordedRequest {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]recordedRequest(nil), ds.requests...)
}

func newTestTasmotaHandler(t *testing.T) *TasmotaHandler {
	t.Helper()

	backups, err := NewBackupSession(t.TempDir(), inventory.FirmwareTasmota)
	if err != nil {
		t.Fatalf("NewBackupSession() error = %v", err)
	}

	return &TasmotaHandler{
		netBase: netBase{
			familyBase: familyBase{family: inventory.FirmwareTasmota, logger: noopLogger{}},
		},
		client:  NewDeviceClient("admin", "hunter2", 2*time.Second, RetryPolicy{Attempts: 1}),
		backups: backups,
		device:  config.DeviceConfig{Username: "admin", Password: "hunter2"},
		wifi: config.WifiConfig{
			Primary:   config.WifiNetwork{SSID: "iot-main", Password: "wifipass1"},
			Secondary: config.WifiNetwork{SSID: "iot-fallback", Password: "wifipass2"},
		},
		mqtt: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "mqtt.lan", Port: 1883},
			Auth:   config.MQTTAuthConfig{Username: "fleet", Password: "mqttpass"},
		},
		ntp: config.NTPConfig{Primary: "192.168.0.1", Secondary: "pool.ntp.org"},
		tasmota: config.TasmotaConfig{
			Timezone:   "99",
			TimeStd:    "0,0,10,1,3,60",
			TimeDst:    "0,0,3,1,2,120",
			Latitude:   "48.1640365",
			Longitude:  "-1.4358991",
			GroupTopic: "all",
			TelePeriod: 120,
		},
	}
}

func TestEncodeCommands(t *testing.T) {
	got := encodeCommands([]command{
		{"DeviceName", "Office Desk"},
		{"TelePeriod", "120"},
	})
	want := "DeviceName Office Desk;TelePeriod 120"
	if got != want {
		t.Errorf("encodeCommands() = %q, want %q", got, want)
	}
}

func TestTasmotaHandler_BacklogCeiling(t *testing.T) {
	h := newTestTasmotaHandler(t)

	cmds := make([]command, maxBacklogCommands+1)
	for i := range cmds {
		cmds[i] = command{"TelePeriod", "120"}
	}

	err := h.sendBacklog(context.Background(), "192.0.2.1", cmds)
	if !errors.Is(err, ErrTooManyCommands) {
		t.Errorf("sendBacklog() error = %v, want ErrTooManyCommands", err)
	}
}

func TestTasmotaHandler_Process(t *testing.T) {
	srv := newDeviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dl" {
			io.WriteString(w, "settings-blob")
			return
		}
		io.WriteString(w, "{}")
	})

	h := newTestTasmotaHandler(t)
	rec := testRecord(inventory.FirmwareTasmota)
	rec.IP = srv.host()

	if err := h.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	reqs := srv.recorded()
	// dump, base backlog, interlock off, 3 rule slots, rule enable
	// backlog, network backlog
	if len(reqs) != 8 {
		t.Fatalf("requests = %d, want 8: %+v", len(reqs), reqs)
	}

	if reqs[0].path != "/dl" {
		t.Errorf("first request path = %q, want /dl", reqs[0].path)
	}

	base := reqs[1].payload
	if !strings.HasPrefix(base, "&cmnd=Backlog0 DeviceName Home > Lvl0 > Office > Button > Desk;") {
		t.Errorf("base backlog starts %q", base)
	}
	for _, want := range []string{
		"GroupTopic all",
		"TelePeriod 120",
		"NtpServer1 192.168.0.1",
		"WebPassword hunter2",
		"Timezone 99",
		"SetOption114 0;SwitchTopic 0",
	} {
		if !strings.Contains(base, want) {
			t.Errorf("base backlog missing %q in %q", want, base)
		}
	}

	if reqs[2].payload != "&cmnd=Interlock Off" {
		t.Errorf("interlock request = %q", reqs[2].payload)
	}

	if !strings.HasPrefix(reqs[3].payload, "&cmnd=Rule1 ON Power1#State=0") {
		t.Errorf("Rule1 request = %q", reqs[3].payload)
	}
	if !strings.HasPrefix(reqs[4].payload, "&cmnd=Rule2 ") {
		t.Errorf("Rule2 request = %q", reqs[4].payload)
	}
	if !strings.HasPrefix(reqs[5].payload, "&cmnd=Rule3 ") {
		t.Errorf("Rule3 request = %q", reqs[5].payload)
	}
	if reqs[6].payload != "&cmnd=Backlog0 Rule1 0;Rule2 1;Rule3 0" {
		t.Errorf("rule enable backlog = %q", reqs[6].payload)
	}

	network := reqs[7].payload
	for _, want := range []string{
		"Backlog0 Hostname btn-office-desk",
		"MqttClient tasmota-a4cf12b3c4d5",
		"MqttHost mqtt.lan",
		"FullTopic home/l0/office/" + "%topic%/%prefix%/",
		"Topic button/desk",
		"MqttPort 1883",
		"SSID1 iot-main",
		"Password2 wifipass2",
	} {
		if !strings.Contains(network, want) {
			t.Errorf("network backlog missing %q in %q", want, network)
		}
	}
	if !strings.HasSuffix(network, ";Restart 1") {
		t.Errorf("network backlog does not end with restart: %q", network)
	}

	// The dump must have landed in the backup session.
	matches, err := filepath.Glob(filepath.Join(h.backups.Dir(), "mac-*.bmp"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("backup files = %v (err %v), want exactly one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil || string(data) != "settings-blob" {
		t.Errorf("backup content = %q (err %v)", data, err)
	}
}

func TestTasmotaHandler_Interlock(t *testing.T) {
	srv := newDeviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{}")
	})

	h := newTestTasmotaHandler(t)
	rec := testRecord(inventory.FirmwareTasmota)
	rec.IP = srv.host()
	rec.Interlock = "1,2"

	if err := h.setInterlock(context.Background(), rec); err != nil {
		t.Fatalf("setInterlock() error = %v", err)
	}

	reqs := srv.recorded()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].payload != "&cmnd=Interlock 1,2" {
		t.Errorf("group request = %q", reqs[0].payload)
	}
	if reqs[1].payload != "&cmnd=Interlock On" {
		t.Errorf("enable request = %q", reqs[1].payload)
	}
}

func TestTasmotaHandler_ButtonTarget(t *testing.T) {
	srv := newDeviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{}")
	})

	h := newTestTasmotaHandler(t)
	rec := testRecord(inventory.FirmwareTasmota)
	rec.IP = srv.host()
	rec.Target = "light/corner"

	if err := h.setButtonRules(context.Background(), rec); err != nil {
		t.Fatalf("setButtonRules() error = %v", err)
	}

	reqs := srv.recorded()
	if len(reqs) != 4 {
		t.Fatalf("requests = %d, want 4", len(reqs))
	}

	rule2 := reqs[1].payload
	if !strings.Contains(rule2, "SwitchTopic light/corner;") {
		t.Errorf("Rule2 missing target topic: %q", rule2)
	}
	if strings.Contains(rule2, tasmotaRuleTargetPlaceholder) {
		t.Errorf("Rule2 still carries the placeholder: %q", rule2)
	}
	if !strings.Contains(rule2, "ON Mqtt#Connected DO backlog Rule1 0;") {
		t.Errorf("Rule2 missing automation preamble: %q", rule2)
	}
}

func TestTasmotaHandler_NonButtonSkipsRules(t *testing.T) {
	srv := newDeviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dl" {
			io.WriteString(w, "blob")
			return
		}
		io.WriteString(w, "{}")
	})

	h := newTestTasmotaHandler(t)
	rec := testRecord(inventory.FirmwareTasmota)
	rec.IP = srv.host()
	rec.Function = "light"
	rec.Hostname = "lgt-office-desk"

	if err := h.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// dump, base backlog, interlock off, network backlog
	if reqs := srv.recorded(); len(reqs) != 4 {
		t.Errorf("requests = %d, want 4: %+v", len(reqs), reqs)
	}
}
