// Package telemetry decodes the detection backend's stream messages.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

var (
	// ErrMalformedMessage marks frames that are not JSON objects.
	ErrMalformedMessage = errors.New("malformed stream message")
	// ErrInvalidMessage marks JSON frames with an unusable probability or flag.
	ErrInvalidMessage = errors.New("invalid stream message")
)

// Sample is one point of the anomaly-probability time series.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	Probability float64   `json:"probability"`
}

// FeatureValue holds either a number or a string.
type FeatureValue struct {
	Number   float64
	Text     string
	IsNumber bool
}

// Num returns a numeric feature value.
func Num(f float64) FeatureValue { return FeatureValue{Number: f, IsNumber: true} }

// Str returns a textual feature value.
func Str(s string) FeatureValue { return FeatureValue{Text: s} }

// MarshalJSON encodes the value as a JSON number or string.
func (v FeatureValue) MarshalJSON() ([]byte, error) {
	if v.IsNumber {
		return json.Marshal(v.Number)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts numbers, strings and booleans.
func (v *FeatureValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty feature value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Str(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Str(strconv.FormatBool(b))
	case '{', '[', 'n':
		return fmt.Errorf("unsupported feature value %s", data)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = Num(f)
	}
	return nil
}

// String renders numbers with three decimals.
func (v FeatureValue) String() string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'f', 3, 64)
	}
	return v.Text
}

// FeatureVector maps a feature name to its value.
type FeatureVector map[string]FeatureValue

// Clone returns a copy so callers cannot mutate a stored vector.
func (fv FeatureVector) Clone() FeatureVector {
	if fv == nil {
		return nil
	}
	out := make(FeatureVector, len(fv))
	for k, v := range fv {
		out[k] = v
	}
	return out
}

// Names returns the feature names in sorted order.
func (fv FeatureVector) Names() []string {
	names := make([]string, 0, len(fv))
	for k := range fv {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Encode returns the JSON encoding sent to the healing service.
func (fv FeatureVector) Encode() (string, error) {
	if fv == nil {
		fv = FeatureVector{}
	}
	out, err := json.Marshal(map[string]FeatureValue(fv))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// StreamMessage is a decoded telemetry frame.
type StreamMessage struct {
	Timestamp   time.Time
	Probability float64
	Anomaly     bool
	Raw         []float64
	Features    FeatureVector
}

// Sample returns the time-series point carried by the message.
func (m StreamMessage) Sample() Sample {
	return Sample{Timestamp: m.Timestamp, Probability: m.Probability}
}

type wireMessage struct {
	Timestamp   string                     `json:"timestamp"`
	Probability *float64                   `json:"probability"`
	Anomaly     json.RawMessage            `json:"anomaly"`
	Sample      []float64                  `json:"sample"`
	Features    map[string]json.RawMessage `json:"features"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Decode parses one stream frame. now supplies the timestamp when the frame
// carries none or an unparseable one. Errors wrap ErrMalformedMessage
// (not JSON) or ErrInvalidMessage (JSON but unusable).
func Decode(data []byte, now time.Time) (StreamMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return StreamMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if wire.Probability == nil {
		return StreamMessage{}, fmt.Errorf("%w: missing probability", ErrInvalidMessage)
	}
	p := *wire.Probability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return StreamMessage{}, fmt.Errorf("%w: probability %v outside [0,1]", ErrInvalidMessage, p)
	}

	anomaly, err := decodeFlag(wire.Anomaly)
	if err != nil {
		return StreamMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	msg := StreamMessage{
		Timestamp:   parseTimestamp(wire.Timestamp, now),
		Probability: p,
		Anomaly:     anomaly,
		Raw:         wire.Sample,
	}

	if wire.Features != nil {
		msg.Features = make(FeatureVector, len(wire.Features))
		for name, raw := range wire.Features {
			var v FeatureValue
			if err := v.UnmarshalJSON(raw); err != nil {
				continue
			}
			msg.Features[name] = v
		}
	}

	return msg, nil
}

// decodeFlag reads the anomaly flag. The backend sends 0.0/1.0.
func decodeFlag(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return false, fmt.Errorf("anomaly flag %s is neither number nor bool", raw)
	}
	return f == 1, nil
}

func parseTimestamp(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	for _, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t
		}
	}
	return now
}
