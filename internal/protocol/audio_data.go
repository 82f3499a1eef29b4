package protocol

import (
	"encoding/json"
	"fmt"
)

func (a AudioData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+1)
	for k, v := range a.Fields {
		out[k] = v
	}
	out["timestamp"] = a.Timestamp
	return json.Marshal(out)
}

func (a *AudioData) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "type")
	a.Timestamp = 0
	if ts, ok := raw["timestamp"]; ok {
		f, ok := ts.(float64)
		if !ok {
			return fmt.Errorf("timestamp is %T, want number", ts)
		}
		a.Timestamp = f
		delete(raw, "timestamp")
	}
	a.Fields = raw
	return nil
}
