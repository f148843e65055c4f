package web

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/sweeney/history-stream/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"epoch": func(sec float64) string {
		if sec == 0 {
			return "-"
		}
		return time.UnixMilli(int64(sec * 1000)).UTC().Format("2006-01-02T15:04:05Z")
	},
	"hours": func(h float64) string {
		return strconv.FormatFloat(h, 'f', -1, 64)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>History Stream</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>History Stream<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Entities</h2>
<table id="entities">
<tr><th>Entity</th><td><b>State</b></td><td><b>Points</b></td><td><b>Last updated</b></td><td><b>Last changed</b></td></tr>
{{range .Entities}}<tr><th>{{.EntityID}}</th><td>{{.State}}</td><td>{{.Points}}</td><td>{{epoch .LastUpdated}}</td><td>{{epoch .LastChanged}}</td></tr>
{{else}}<tr><th colspan="4">no entities yet</th></tr>
{{end}}</table>

<h2>Window</h2>
<table>
<tr><th>Hours to show</th><td>{{hours .Config.HoursToShow}}</td></tr>
<tr><th>Boundary</th><td>{{epoch .Boundary}}</td></tr>
<tr><th>Last processed</th><td>{{if .LastProcessed.IsZero}}never{{else}}{{.LastProcessed.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
<tr><th>Messages</th><td>{{.Counters.Messages}}</td></tr>
<tr><th>Points appended</th><td>{{.Counters.Appended}}</td></tr>
<tr><th>Points evicted</th><td>{{.Counters.Evicted}}</td></tr>
<tr><th>Boundary points</th><td>{{.Counters.Synthesized}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
{{if .Config.Seed}}<tr><th>Seed</th><td>{{.Config.Seed}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>GPIO inputs</th><td>{{.Config.GPIOPins}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">History</a> · <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var table = document.getElementById("entities");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function fmt(sec) {
    return new Date(sec * 1000).toISOString().replace(/\.\d+Z$/, "Z");
  }

  function render(hist) {
    while (table.rows.length > 1) table.deleteRow(1);
    Object.keys(hist).sort().forEach(function(id) {
      var pts = hist[id] || [];
      var last = pts[pts.length - 1];
      var row = table.insertRow();
      var th = document.createElement("th");
      th.textContent = id;
      row.appendChild(th);
      row.insertCell().textContent = last ? last.s : "";
      row.insertCell().textContent = pts.length;
      row.insertCell().textContent = last ? fmt(last.lu) : "-";
    });
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "history") render(msg.history);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() and Entities() methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Entities []status.EntityJSON
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Entities: snap.Entities(),
	}
	indexTmpl.Execute(w, data)
}
