package scanner

import (
	"bytes"
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rescale/runwatch/internal/models"
)

// Skip records a path left out of every bucket.
type Skip struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report is the result of one scan pass: state -> documents in input order.
type Report struct {
	ScanID    string
	StartedAt time.Time
	Duration  time.Duration
	CacheHits int
	Skipped   []Skip

	runs map[models.RunState][]*models.RunDocument
}

func newReport(scanID string, started time.Time) *Report {
	r := &Report{
		ScanID:    scanID,
		StartedAt: started,
		runs:      make(map[models.RunState][]*models.RunDocument, 4),
	}
	for _, s := range models.States() {
		r.runs[s] = []*models.RunDocument{}
	}
	return r
}

func (r *Report) add(state models.RunState, doc *models.RunDocument) {
	r.runs[state] = append(r.runs[state], doc)
}

// Runs returns the documents filed under state.
func (r *Report) Runs(state models.RunState) []*models.RunDocument {
	return r.runs[state]
}

// Len returns the number of classified runs across all buckets.
func (r *Report) Len() int {
	n := 0
	for _, docs := range r.runs {
		n += len(docs)
	}
	return n
}

// Counts returns the bucket sizes keyed by state name.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int, 4)
	for _, s := range models.States() {
		counts[s.String()] = len(r.runs[s])
	}
	return counts
}

// MarshalJSON renders the buckets as one object with keys in state order.
// Empty buckets are rendered as [].
func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range models.States() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(s.String())
		buf.Write(key)
		buf.WriteByte(':')
		docs, err := json.Marshal(r.runs[s])
		if err != nil {
			return nil, err
		}
		buf.Write(docs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML keeps the state order of MarshalJSON.
func (r *Report) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range models.States() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: s.String()}
		val := &yaml.Node{}
		if err := val.Encode(r.runs[s]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

// TextMap renders each bucket as JSON text, keyed by state name.
func (r *Report) TextMap() (map[string]string, error) {
	out := make(map[string]string, 4)
	for _, s := range models.States() {
		data, err := json.Marshal(r.runs[s])
		if err != nil {
			return nil, err
		}
		out[s.String()] = string(data)
	}
	return out, nil
}

// Wire returns the JSON form terminated by CRLF, as line-oriented
// consumers expect.
func (r *Report) Wire() ([]byte, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return append(data, '\r', '\n'), nil
}
