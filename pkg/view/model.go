// Package view derives the dashboard display model from a state snapshot.
// Everything here is a pure function of the snapshot.
package view

import (
	"math"
	"strconv"
	"time"

	"github.com/lucid-vigil/nids-watch/pkg/state"
	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
)

// TimeLayout formats chart point labels.
const TimeLayout = "15:04:05"

// ChartPoint is one point of the probability line chart.
type ChartPoint struct {
	Time        string  `json:"time"`
	Probability float64 `json:"probability"`
}

// FeatureCell is one labelled tile of the feature panel. Value is empty when
// the feature is absent from the vector.
type FeatureCell struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Bar is one bar of a feature chart. Text is set for categorical values.
type Bar struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Text     string  `json:"text,omitempty"`
	IsNumber bool    `json:"is_number"`
}

// Model is everything the page renders.
type Model struct {
	Version         uint64        `json:"version"`
	Chart           []ChartPoint  `json:"chart"`
	Threshold       float64       `json:"threshold"`
	ThresholdLabel  string        `json:"threshold_label"`
	StreamConnected bool          `json:"stream_connected"`
	TriggerLoading  bool          `json:"trigger_loading"`
	ShowMitigation  bool          `json:"show_mitigation"`
	Mitigation      string        `json:"mitigation"`
	HealLoading     bool          `json:"heal_loading"`
	ShowFeatures    bool          `json:"show_features"`
	FeatureCells    []FeatureCell `json:"feature_cells,omitempty"`
	SnapshotBars    []Bar         `json:"snapshot_bars,omitempty"`
	RawBars         []Bar         `json:"raw_bars,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Build renders snap in the given location. A nil loc means time.Local.
func Build(snap state.Snapshot, loc *time.Location) Model {
	if loc == nil {
		loc = time.Local
	}

	m := Model{
		Version:         snap.Version,
		Chart:           make([]ChartPoint, 0, len(snap.Samples)),
		Threshold:       snap.Threshold,
		ThresholdLabel:  "Detection Threshold: " + strconv.FormatFloat(snap.Threshold, 'f', 2, 64),
		StreamConnected: snap.StreamConnected,
		TriggerLoading:  snap.TriggerLoading,
		ShowMitigation:  snap.Mitigation != "" || snap.HealLoading,
		Mitigation:      snap.Mitigation,
		HealLoading:     snap.HealLoading,
		ShowFeatures:    snap.Features != nil,
		UpdatedAt:       snap.UpdatedAt,
	}

	for _, s := range snap.Samples {
		m.Chart = append(m.Chart, ChartPoint{
			Time:        s.Timestamp.In(loc).Format(TimeLayout),
			Probability: s.Probability,
		})
	}

	if m.ShowFeatures {
		m.FeatureCells = featureCells(snap.Features)
		m.SnapshotBars = snapshotBars(snap.Features)
		m.RawBars = rawBars(snap.Features)
	}
	return m
}

func featureCells(fv telemetry.FeatureVector) []FeatureCell {
	cells := make([]FeatureCell, 0, len(telemetry.DisplayFeatures))
	for _, f := range telemetry.DisplayFeatures {
		cell := FeatureCell{Key: f.Key, Label: f.Label}
		if v, ok := fv[f.Key]; ok {
			cell.Value = v.String()
		}
		cells = append(cells, cell)
	}
	return cells
}

// snapshotBars covers labelled features with numeric values only.
func snapshotBars(fv telemetry.FeatureVector) []Bar {
	var bars []Bar
	for _, f := range telemetry.DisplayFeatures {
		v, ok := fv[f.Key]
		if !ok || !v.IsNumber {
			continue
		}
		bars = append(bars, Bar{Name: f.Label, Value: v.Number, IsNumber: true})
	}
	return bars
}

// rawBars covers every feature by key, sorted by name.
func rawBars(fv telemetry.FeatureVector) []Bar {
	names := fv.Names()
	bars := make([]Bar, 0, len(names))
	for _, name := range names {
		v := fv[name]
		if v.IsNumber {
			bars = append(bars, Bar{Name: name, Value: round3(v.Number), IsNumber: true})
			continue
		}
		bars = append(bars, Bar{Name: name, Text: v.Text})
	}
	return bars
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
