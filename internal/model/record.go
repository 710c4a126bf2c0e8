package model

// Record is one version of the structured output. Data is a generic JSON
// tree (objects, arrays, strings, float64, bool, nil).
type Record struct {
	Version int            `json:"version"`
	Data    map[string]any `json:"data"`
}

// Next returns the following version of the record holding data
func (r Record) Next(data map[string]any) Record {
	return Record{Version: r.Version + 1, Data: data}
}
