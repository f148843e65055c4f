// Package seed loads the initial combined history that a stream starts from.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sweeney/history-stream/internal/history"
)

// Loader fetches a history snapshot in bulk before streaming starts.
type Loader interface {
	Load(ctx context.Context) (history.CombinedHistory, error)
	String() string
}

// FileLoader reads a snapshot stored as JSON in the stream wire form:
// {"<entity_id>": [{"s": ..., "lu": ...}, ...]}.
type FileLoader struct {
	Path string
}

// Load reads and decodes the snapshot file.
func (f FileLoader) Load(ctx context.Context) (history.CombinedHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var combined history.CombinedHistory
	if err := json.Unmarshal(data, &combined); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", f.Path, err)
	}
	return combined, nil
}

func (f FileLoader) String() string {
	return "file:" + f.Path
}
