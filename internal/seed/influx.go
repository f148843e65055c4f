package seed

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/sweeney/history-stream/internal/history"
)

// InfluxLoader seeds from the bucket written by Home Assistant's InfluxDB
// integration: one series per entity, tagged with domain and entity_id,
// with the state in the "value" (numeric) or "state" (text) field.
type InfluxLoader struct {
	Bucket      string
	HoursToShow float64
	query       api.QueryAPI
	close       func()
}

// NewInfluxLoader creates a loader for the given server and bucket.
func NewInfluxLoader(url, token, org, bucket string, hoursToShow float64) *InfluxLoader {
	client := influxdb2.NewClient(url, token)
	return &InfluxLoader{
		Bucket:      bucket,
		HoursToShow: hoursToShow,
		query:       client.QueryAPI(org),
		close:       client.Close,
	}
}

// Load queries the last HoursToShow hours of every entity in the bucket,
// together with the state each entity held when the window opened.
func (l *InfluxLoader) Load(ctx context.Context) (history.CombinedHistory, error) {
	result, err := l.query.Query(ctx, buildQuery(l.Bucket, l.HoursToShow))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	if result == nil {
		return history.CombinedHistory{}, nil
	}
	defer result.Close()

	var rows []row
	for result.Next() {
		rec := result.Record()
		rows = append(rows, row{
			EntityID: entityID(rec.ValueByKey("domain"), rec.ValueByKey("entity_id")),
			Time:     rec.Time(),
			Value:    rec.Value(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("influx result: %w", err)
	}
	return buildHistory(rows), nil
}

// Close releases the underlying client.
func (l *InfluxLoader) Close() {
	if l.close != nil {
		l.close()
	}
}

func (l *InfluxLoader) String() string {
	return "influx:" + l.Bucket
}

// row is one decoded query record.
type row struct {
	EntityID string
	Time     time.Time
	Value    any
}

// buildQuery selects every row inside the window plus the last row before
// it for each entity. The integration only writes on change, so that row
// holds the value in effect when the window opened.
func buildQuery(bucket string, hours float64) string {
	minutes := int(hours * 60)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf(`filtered = (tables=<-) => tables
  |> filter(fn: (r) => r._field == "value" or r._field == "state")
  |> keep(columns: ["_time", "_value", "domain", "entity_id"])
  |> group(columns: ["domain", "entity_id"])

before = from(bucket: %[1]q)
  |> range(start: 0, stop: -%[2]dm)
  |> filtered()
  |> last()

inside = from(bucket: %[1]q)
  |> range(start: -%[2]dm)
  |> filtered()

union(tables: [before, inside])
  |> group(columns: ["domain", "entity_id"])
  |> sort(columns: ["_time"])`, bucket, minutes)
}

// entityID rebuilds a full entity id; the integration stores the domain
// and object id as separate tags.
func entityID(domain, objectID any) string {
	d, _ := domain.(string)
	o, _ := objectID.(string)
	if o == "" || d == "" || strings.Contains(o, ".") {
		return o
	}
	return d + "." + o
}

// buildHistory groups rows per entity in time order. Repeated values keep
// the instant they first appeared as LastChanged.
func buildHistory(rows []row) history.CombinedHistory {
	byEntity := make(map[string][]row)
	for _, r := range rows {
		if r.EntityID == "" {
			continue
		}
		byEntity[r.EntityID] = append(byEntity[r.EntityID], r)
	}

	combined := make(history.CombinedHistory, len(byEntity))
	for id, rs := range byEntity {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })

		h := make(history.EntityHistory, 0, len(rs))
		var changed float64
		for i, r := range rs {
			p := history.StatePoint{
				State:       formatValue(r.Value),
				LastUpdated: epochSeconds(r.Time),
			}
			if i > 0 && h[i-1].State == p.State {
				lc := changed
				p.LastChanged = &lc
			} else {
				changed = p.LastUpdated
			}
			h = append(h, p)
		}
		combined[id] = h
	}
	return combined
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "on"
		}
		return "off"
	default:
		return fmt.Sprint(x)
	}
}
