// Package report runs template-driven query plans on a schedule and writes
// the results to disk as json, csv, xlsx, pdf or html artifacts.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Record is an ordered set of columns. Column order is preserved so tabular
// writers emit headers in insertion order.
type Record struct {
	keys []string
	vals map[string]any
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{vals: make(map[string]any)}
}

// Set adds or replaces a column. New columns append to the order.
func (r *Record) Set(key string, v any) *Record {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
	return r
}

// Keys returns the column names in insertion order.
func (r *Record) Keys() []string { return r.keys }

// Get returns a column value.
func (r *Record) Get(key string) any { return r.vals[key] }

// MarshalJSON emits the columns in insertion order with HTML escaping off, so
// non-ASCII text survives verbatim.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		nameRaw, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(nameRaw)
		buf.WriteByte(':')
		var vbuf bytes.Buffer
		enc := json.NewEncoder(&vbuf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(normalize(r.vals[k])); err != nil {
			return nil, err
		}
		buf.Write(bytes.TrimRight(vbuf.Bytes(), "\n"))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Section is one named collection of records within a dataset.
type Section struct {
	Name    string
	Records []*Record
}

// Dataset is the result of one template execution. Tabular kinds produce a
// single section; composite kinds (activity, security) produce several.
type Dataset struct {
	Sections []Section
}

// Tabular creates a single-section dataset.
func Tabular(records []*Record) *Dataset {
	return &Dataset{Sections: []Section{{Name: "", Records: records}}}
}

// RecordCount is the total number of records across all sections.
func (d *Dataset) RecordCount() int64 {
	var n int64
	for _, s := range d.Sections {
		n += int64(len(s.Records))
	}
	return n
}

// Empty reports whether the dataset holds no records at all.
func (d *Dataset) Empty() bool { return d.RecordCount() == 0 }

// normalize converts values to their serialized form: times become ISO-8601
// strings, everything else passes through.
func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

// cellString renders a value for csv, xlsx, pdf and html cells.
func cellString(v any) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
