package state

import (
	"context"
	"testing"
	"time"

	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.StateEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func sample(p float64) telemetry.Sample {
	return telemetry.Sample{Timestamp: time.Now(), Probability: p}
}

func TestStore_ClearKeepsSeries(t *testing.T) {
	s := NewStore(50, 0.7, nil, zerolog.Nop())

	s.AppendSample(sample(0.1))
	s.AppendSample(sample(0.95))
	s.BeginAnomaly(telemetry.FeatureVector{"Seq": telemetry.Num(1)})
	s.ResolveMitigation("Rate Limiting and Throttling", true, true)

	s.Clear()

	snap := s.Snapshot()
	assert.Len(t, snap.Samples, 2)
	assert.Nil(t, snap.Features)
	assert.Empty(t, snap.Mitigation)
	assert.False(t, snap.HealLoading)
	assert.True(t, snap.FeaturesAt.IsZero())
}

func TestStore_BeginAnomalyReplacesWholesale(t *testing.T) {
	s := NewStore(50, 0.7, nil, zerolog.Nop())

	s.BeginAnomaly(telemetry.FeatureVector{"Seq": telemetry.Num(1), "Dur": telemetry.Num(2)})
	s.BeginAnomaly(telemetry.FeatureVector{"TcpRtt": telemetry.Num(3)})

	snap := s.Snapshot()
	assert.Equal(t, telemetry.FeatureVector{"TcpRtt": telemetry.Num(3)}, snap.Features)
	assert.True(t, snap.HealLoading)
	assert.False(t, snap.FeaturesAt.IsZero())

	// An anomaly without features hides the panel.
	s.BeginAnomaly(nil)
	snap = s.Snapshot()
	assert.Nil(t, snap.Features)
	assert.True(t, snap.FeaturesAt.IsZero())
	assert.True(t, snap.HealLoading)

	s.BeginAnomaly(telemetry.FeatureVector{})
	assert.NotNil(t, s.Snapshot().Features)
}

func TestStore_ResolveMitigation(t *testing.T) {
	s := NewStore(50, 0.7, nil, zerolog.Nop())
	s.ResolveMitigation("Sandbox Execution", true, true)
	s.BeginAnomaly(telemetry.FeatureVector{"Seq": telemetry.Num(1)})

	s.ResolveMitigation("ignored", false, false)
	snap := s.Snapshot()
	assert.Equal(t, "Sandbox Execution", snap.Mitigation)
	assert.True(t, snap.HealLoading)

	s.ResolveMitigation("Zero Trust Network Access", true, true)
	snap = s.Snapshot()
	assert.Equal(t, "Zero Trust Network Access", snap.Mitigation)
	assert.False(t, snap.HealLoading)
}

func TestStore_Threshold(t *testing.T) {
	s := NewStore(50, 0.7, nil, zerolog.Nop())
	assert.Equal(t, 0.7, s.Snapshot().Threshold)

	require.NoError(t, s.SetThreshold(0.25))
	assert.Equal(t, 0.25, s.Snapshot().Threshold)

	assert.ErrorIs(t, s.SetThreshold(1.01), ErrThresholdRange)
	assert.ErrorIs(t, s.SetThreshold(-0.5), ErrThresholdRange)
	assert.Equal(t, 0.25, s.Snapshot().Threshold)

	assert.Equal(t, 1.0, NewStore(50, 4, nil, zerolog.Nop()).Snapshot().Threshold)
}

func TestStore_WindowBounded(t *testing.T) {
	s := NewStore(50, 0.7, nil, zerolog.Nop())
	for i := 0; i < 75; i++ {
		s.AppendSample(sample(float64(i) / 100))
	}
	snap := s.Snapshot()
	require.Len(t, snap.Samples, 50)
	assert.Equal(t, 0.25, snap.Samples[0].Probability)
	assert.Equal(t, 0.74, snap.Samples[49].Probability)
}

func TestStore_PublishesEveryMutation(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.StateEvent) bool {
		return e.Type == events.EventSampleAppended
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.StateEvent) bool {
		return e.Type == events.EventAnomalyDetected && e.Version == 2
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.StateEvent) bool {
		return e.Type == events.EventStreamStatus
	})).Return(events.ErrEventBusBufferFull).Once()

	s := NewStore(50, 0.7, pub, zerolog.Nop())
	s.AppendSample(sample(0.5))
	s.BeginAnomaly(telemetry.FeatureVector{})
	s.SetStreamConnected(true)

	pub.AssertExpectations(t)
	assert.Equal(t, uint64(3), s.Version())
	assert.True(t, s.Snapshot().StreamConnected)
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	s := NewStore(50, 0.7, nil, zerolog.Nop())
	s.BeginAnomaly(telemetry.FeatureVector{"Seq": telemetry.Num(1)})

	snap := s.Snapshot()
	snap.Features["Seq"] = telemetry.Num(99)

	assert.Equal(t, telemetry.Num(1), s.Snapshot().Features["Seq"])
}
