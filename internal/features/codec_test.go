package features

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"security-risk-lab/internal/domain"
)

func intPtr(v int) *int { return &v }

func sampleEvents() []domain.RawEvent {
	return []domain.RawEvent{
		{Timestamp: "2024-01-15T10:30:45Z", SourceIP: "10.0.0.1", EventType: "login", UserID: "alice", IPAddress: "10.0.0.1", Port: intPtr(22), Protocol: "ssh"},
		{Timestamp: "2024-01-15T11:00:00Z", SourceIP: "10.0.0.2", EventType: "network_flow", UserID: "alice", IPAddress: "10.0.0.2", Port: intPtr(80), Protocol: "http"},
		{Timestamp: "2024-01-20T23:15:00Z", SourceIP: "10.0.0.1", EventType: "login", UserID: "bob", IPAddress: "10.0.0.1", Port: intPtr(443), Protocol: "https"},
	}
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	c, err := NewCodec(cfg)
	require.NoError(t, err)
	return c
}

func TestCodec_WidthEqualsSumOfFamilies(t *testing.T) {
	c := newTestCodec(t)
	vecs, err := c.FitTransform(sampleEvents())
	require.NoError(t, err)

	widths := c.FamilyWidths()
	assert.Equal(t, 1, widths[FamilyNumerical])
	assert.Equal(t, 5, widths[FamilyCategorical]) // 2 event types + 3 protocols
	assert.Equal(t, 10, widths[FamilyTemporal])
	assert.Equal(t, 6, widths[FamilyBehavioral])

	sum := 0
	for _, w := range widths {
		sum += w
	}
	assert.Equal(t, sum, c.Width())
	assert.Len(t, c.FeatureNames(), sum)
	for _, v := range vecs {
		assert.Len(t, v, sum)
	}
}

func TestCodec_TransformStableAcrossCalls(t *testing.T) {
	c := newTestCodec(t)
	require.NoError(t, c.Fit(sampleEvents()))

	first, err := c.Transform(sampleEvents())
	require.NoError(t, err)
	second, err := c.Transform(sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	single, err := c.Transform(sampleEvents()[:1])
	require.NoError(t, err)
	assert.Len(t, single[0], c.Width())
}

func TestCodec_ColumnOrder(t *testing.T) {
	c := newTestCodec(t)
	_, err := c.FitTransform(sampleEvents())
	require.NoError(t, err)

	names := c.FeatureNames()
	assert.Equal(t, "port", names[0])
	assert.Equal(t, []string{
		"event_type=login", "event_type=network_flow",
		"protocol=http", "protocol=https", "protocol=ssh",
	}, names[1:6])
	assert.Equal(t, "hour", names[6])
	assert.Equal(t, "user_event_count", names[16])
	assert.Equal(t, "ip_mean_port", names[21])
}

func TestCodec_NumericalZScore(t *testing.T) {
	cfg := Config{Schema: Schema{Numerical: []string{"port"}}, Families: Families{Numerical: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	events := []domain.RawEvent{{Port: intPtr(22)}, {Port: intPtr(80)}, {}}
	vecs, err := c.FitTransform(events)
	require.NoError(t, err)

	assert.InDelta(t, -1.0, vecs[0][0], 1e-12)
	assert.InDelta(t, 1.0, vecs[1][0], 1e-12)
	assert.Equal(t, 0.0, vecs[2][0])
}

func TestCodec_NumericalAbsentColumnIsZeroWidth(t *testing.T) {
	cfg := Config{Schema: Schema{Numerical: []string{"bytes", "port"}}, Families: Families{Numerical: true, Temporal: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	vecs, err := c.FitTransform([]domain.RawEvent{{Timestamp: "2024-01-15T10:00:00Z", Port: intPtr(22)}})
	require.NoError(t, err)
	assert.Equal(t, 1, c.FamilyWidths()[FamilyNumerical])
	assert.Len(t, vecs[0], 11)
}

func TestCodec_CategoryRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	require.NoError(t, c.Fit(sampleEvents()))

	for _, label := range []string{"ssh", "http", "https"} {
		code, ok := c.EncodeCategory("protocol", label)
		require.True(t, ok)
		back, ok := c.DecodeCategory("protocol", code)
		require.True(t, ok)
		assert.Equal(t, label, back)
	}

	_, ok := c.EncodeCategory("protocol", "ftp")
	assert.False(t, ok)
	_, ok = c.DecodeCategory("protocol", 99)
	assert.False(t, ok)
}

func TestCodec_UnseenCategoryEncodesAsZeros(t *testing.T) {
	cfg := Config{Schema: Schema{Categorical: []string{"protocol"}}, Families: Families{Categorical: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Fit([]domain.RawEvent{{Protocol: "ssh"}, {Protocol: "http"}}))

	vecs, err := c.Transform([]domain.RawEvent{{Protocol: "ftp"}, {Protocol: "ssh"}})
	require.NoError(t, err)
	assert.Equal(t, domain.FeatureVector{0, 0}, vecs[0])
	assert.Equal(t, domain.FeatureVector{0, 1}, vecs[1])
}

func TestCodec_PartialFitExtendsVocabulary(t *testing.T) {
	cfg := Config{Schema: Schema{Categorical: []string{"protocol"}}, Families: Families{Categorical: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	require.NoError(t, c.Fit([]domain.RawEvent{{Protocol: "ssh"}}))
	sshCode, _ := c.EncodeCategory("protocol", "ssh")

	require.NoError(t, c.PartialFit([]domain.RawEvent{{Protocol: "ftp"}, {Protocol: "dns"}}))
	assert.Equal(t, 3, c.Width())

	code, _ := c.EncodeCategory("protocol", "ssh")
	assert.Equal(t, sshCode, code)
	dns, _ := c.EncodeCategory("protocol", "dns")
	ftp, _ := c.EncodeCategory("protocol", "ftp")
	assert.Equal(t, 1, dns)
	assert.Equal(t, 2, ftp)
}

func TestCodec_PartialFitCombinesScalers(t *testing.T) {
	cfg := Config{Schema: Schema{Numerical: []string{"port"}}, Families: Families{Numerical: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	require.NoError(t, c.Fit([]domain.RawEvent{{Port: intPtr(10)}, {Port: intPtr(20)}}))
	require.NoError(t, c.PartialFit([]domain.RawEvent{{Port: intPtr(30)}, {Port: intPtr(40)}}))

	want := fitScaler([]float64{10, 20, 30, 40})
	got := c.State().Numerical["port"]
	assert.Equal(t, want.Count, got.Count)
	assert.InDelta(t, want.Mean, got.Mean, 1e-12)
	assert.InDelta(t, want.Var, got.Var, 1e-12)
}

func TestCodec_FitTransformRefitsFromBatch(t *testing.T) {
	cfg := Config{Schema: Schema{Numerical: []string{"port"}}, Families: Families{Numerical: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	_, err = c.FitTransform([]domain.RawEvent{{Port: intPtr(10)}, {Port: intPtr(20)}})
	require.NoError(t, err)
	_, err = c.FitTransform([]domain.RawEvent{{Port: intPtr(1000)}, {Port: intPtr(3000)}})
	require.NoError(t, err)

	st := c.State().Numerical["port"]
	assert.Equal(t, 2, st.Count)
	assert.InDelta(t, 2000.0, st.Mean, 1e-9)
}

func TestCodec_TemporalFeatures(t *testing.T) {
	cfg := Config{Families: Families{Temporal: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Fit(sampleEvents()))

	raw := temporalValues(mustParse(t, "2024-01-15T10:30:45Z"))
	assert.Equal(t, []float64{10, 0, 15, 1, 1, 2024, 0.5, 45.0 / 3600, 1, 0}, raw)

	weekend := temporalValues(mustParse(t, "2024-01-20T23:15:00Z"))
	assert.Equal(t, 5.0, weekend[1])
	assert.Equal(t, 0.0, weekend[8])
	assert.Equal(t, 1.0, weekend[9])

	edge := temporalValues(mustParse(t, "2024-10-01T17:00:00Z"))
	assert.Equal(t, 4.0, edge[4])
	assert.Equal(t, 0.0, edge[8], "17:00 is outside business hours")
}

func TestCodec_TemporalDegradedWithoutTimestamps(t *testing.T) {
	cfg := Config{Families: Families{Temporal: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	vecs, err := c.FitTransform([]domain.RawEvent{{SourceIP: "a"}, {SourceIP: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{temporalMissingColumn}, c.FeatureNames())
	for _, v := range vecs {
		assert.Equal(t, domain.FeatureVector{0}, v)
	}
}

func TestCodec_TemporalRecordWithoutTimestampGetsZeros(t *testing.T) {
	cfg := Config{Families: Families{Temporal: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Fit(sampleEvents()))

	vecs, err := c.Transform([]domain.RawEvent{{SourceIP: "x"}})
	require.NoError(t, err)
	assert.Equal(t, make(domain.FeatureVector, 10), vecs[0])
}

func TestCodec_BehavioralAggregates(t *testing.T) {
	cfg := Config{Families: Families{Behavioral: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	events := sampleEvents()
	vecs, err := c.FitTransform(events)
	require.NoError(t, err)

	// alice: 2 events, 2 event types, 2 ips; ip 10.0.0.1: 2 events, ports {22,443}
	assert.Equal(t, domain.FeatureVector{2, 2, 2, 2, 2, 232.5}, vecs[0])
	// bob on 10.0.0.1
	assert.Equal(t, domain.FeatureVector{1, 1, 1, 2, 2, 232.5}, vecs[2])
}

func TestCodec_BehavioralWithoutKeysIsSingleZero(t *testing.T) {
	cfg := Config{Families: Families{Behavioral: true}}
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	vecs, err := c.FitTransform([]domain.RawEvent{{SourceIP: "a", EventType: "login"}})
	require.NoError(t, err)
	assert.Equal(t, domain.FeatureVector{0}, vecs[0])
	assert.Equal(t, []string{behavioralMissingColumn}, c.FeatureNames())
}

func TestCodec_Errors(t *testing.T) {
	c := newTestCodec(t)

	_, err := c.Transform(sampleEvents())
	assert.True(t, errors.Is(err, domain.ErrConfig), "transform before fit")

	_, err = c.FitTransform(nil)
	assert.True(t, errors.Is(err, domain.ErrEmptyBatch))

	bad := sampleEvents()
	bad[1].Timestamp = "yesterday"
	_, err = c.FitTransform(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "record 1")

	_, err = NewCodec(Config{})
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestCodec_LoadStateSharesLayout(t *testing.T) {
	src := newTestCodec(t)
	require.NoError(t, src.Fit(sampleEvents()))

	dst := newTestCodec(t)
	require.NoError(t, dst.LoadState(src.State()))

	a, err := src.Transform(sampleEvents())
	require.NoError(t, err)
	b, err := dst.Transform(sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCodec_LoadStateRejectsMalformedState(t *testing.T) {
	short := NewTransformState()
	short.Temporal = make([]Scaler, 3)

	nilVocab := NewTransformState()
	nilVocab.Categories["protocol"] = nil

	for name, st := range map[string]*TransformState{
		"temporal length": short,
		"nil vocabulary":  nilVocab,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestCodec(t)
			err := c.LoadState(st)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfig))
			assert.False(t, c.Fitted())
		})
	}

	full := NewTransformState()
	full.Temporal = make([]Scaler, len(temporalColumns))
	assert.NoError(t, newTestCodec(t).LoadState(full))
}

func TestCodec_ConcurrentTransformAndFit(t *testing.T) {
	c := newTestCodec(t)
	require.NoError(t, c.Fit(sampleEvents()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				assert.NoError(t, c.PartialFit(sampleEvents()))
				return
			}
			vecs, err := c.Transform(sampleEvents())
			assert.NoError(t, err)
			assert.Len(t, vecs, 3)
		}(i)
	}
	wg.Wait()
}

func TestScalerMergeMatchesUnion(t *testing.T) {
	a := fitScaler([]float64{1, 2, 3})
	b := fitScaler([]float64{10, 20})
	want := fitScaler([]float64{1, 2, 3, 10, 20})
	got := a.merge(b)

	assert.Equal(t, want.Count, got.Count)
	assert.InDelta(t, want.Mean, got.Mean, 1e-12)
	assert.InDelta(t, want.Var, got.Var, 1e-9)
	assert.Equal(t, 1.0, fitScaler([]float64{5, 5}).Scale())
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := domain.ParseTimestamp(s)
	require.NoError(t, err)
	return v
}
