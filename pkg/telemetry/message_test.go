package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestDecode_NormalFrame(t *testing.T) {
	frame := `{"timestamp":"2026-10-14T09:30:15.123456","probability":0.12,"anomaly":0.0,
		"sample":[1,2.5],"features":{"Seq":12,"Dur":0.5,"State":"INT"}}`

	msg, err := Decode([]byte(frame), receivedAt)
	require.NoError(t, err)

	assert.False(t, msg.Anomaly)
	assert.Equal(t, 0.12, msg.Probability)
	assert.Equal(t, []float64{1, 2.5}, msg.Raw)
	assert.Equal(t, 9, msg.Timestamp.Hour())
	assert.Equal(t, 123456000, msg.Timestamp.Nanosecond())
	assert.Equal(t, Num(12), msg.Features["Seq"])
	assert.Equal(t, Str("INT"), msg.Features["State"])
	assert.Equal(t, Sample{Timestamp: msg.Timestamp, Probability: 0.12}, msg.Sample())
}

func TestDecode_AnomalyFlag(t *testing.T) {
	tests := []struct {
		name string
		flag string
		want bool
	}{
		{"float one", `1.0`, true},
		{"int one", `1`, true},
		{"zero", `0`, false},
		{"bool true", `true`, true},
		{"null", `null`, false},
		{"fractional", `0.95`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := `{"probability":0.95,"anomaly":` + tt.flag + `}`
			msg, err := Decode([]byte(frame), receivedAt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Anomaly)
		})
	}

	_, err := Decode([]byte(`{"probability":0.5,"anomaly":"yes"}`), receivedAt)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{not json`), receivedAt)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Decode([]byte(`{"anomaly":1}`), receivedAt)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = Decode([]byte(`{"probability":1.5}`), receivedAt)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = Decode([]byte(`{"probability":-0.1}`), receivedAt)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecode_Timestamps(t *testing.T) {
	msg, err := Decode([]byte(`{"timestamp":"2026-10-14T09:30:15Z","probability":0.1}`), receivedAt)
	require.NoError(t, err)
	assert.True(t, msg.Timestamp.Equal(time.Date(2026, 10, 14, 9, 30, 15, 0, time.UTC)))

	msg, err = Decode([]byte(`{"timestamp":"yesterday","probability":0.1}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, receivedAt, msg.Timestamp)

	msg, err = Decode([]byte(`{"probability":0.1}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, receivedAt, msg.Timestamp)
}

func TestDecode_DropsUnsupportedFeatureValues(t *testing.T) {
	frame := `{"probability":0.1,"features":{"a":null,"b":{"x":1},"c":[1],"d":false,"e":3}}`
	msg, err := Decode([]byte(frame), receivedAt)
	require.NoError(t, err)

	assert.Len(t, msg.Features, 2)
	assert.Equal(t, Str("false"), msg.Features["d"])
	assert.Equal(t, Num(3), msg.Features["e"])
}

func TestDecode_NullFeatures(t *testing.T) {
	msg, err := Decode([]byte(`{"probability":0.9,"anomaly":1,"features":null}`), receivedAt)
	require.NoError(t, err)
	assert.True(t, msg.Anomaly)
	assert.Nil(t, msg.Features)

	msg, err = Decode([]byte(`{"probability":0.9,"anomaly":1,"features":{}}`), receivedAt)
	require.NoError(t, err)
	assert.NotNil(t, msg.Features)
}

func TestFeatureVector_Encode(t *testing.T) {
	fv := FeatureVector{"Seq": Num(3), "Proto": Str("tcp")}
	out, err := fv.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"Seq":3,"Proto":"tcp"}`, out)

	var nilVector FeatureVector
	out, err = nilVector.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{}`, out)
}

func TestFeatureVector_CloneAndNames(t *testing.T) {
	fv := FeatureVector{"b": Num(1), "a": Num(2)}
	clone := fv.Clone()
	clone["c"] = Num(3)

	assert.Len(t, fv, 2)
	assert.Equal(t, []string{"a", "b"}, fv.Names())
	assert.Nil(t, FeatureVector(nil).Clone())
}

func TestFeatureValue_String(t *testing.T) {
	assert.Equal(t, "0.123", Num(0.12345).String())
	assert.Equal(t, "12.000", Num(12).String())
	assert.Equal(t, "INT", Str("INT").String())

	raw, err := json.Marshal(Num(1.5))
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(raw))
}
