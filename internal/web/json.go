package web

import (
	"encoding/json"
	"strings"

	"github.com/sweeney/history-stream/internal/history"
)

// filterEntities keeps only the comma-separated ids in filter. An empty
// filter keeps everything.
func filterEntities(combined history.CombinedHistory, filter string) history.CombinedHistory {
	if filter == "" {
		return combined
	}
	out := make(history.CombinedHistory)
	for _, id := range strings.Split(filter, ",") {
		id = strings.TrimSpace(id)
		if h, ok := combined[id]; ok {
			out[id] = h
		}
	}
	return out
}

func formatHistory(combined history.CombinedHistory) []byte {
	if combined == nil {
		combined = history.CombinedHistory{}
	}
	data, _ := json.Marshal(combined)
	return data
}
