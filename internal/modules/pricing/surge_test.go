// README: Surge state machine tests (ramps, hysteresis, epochs, bounds).
package pricing

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honeycomb/internal/modules/zoneconfig"
)

var tick0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testCfg() zoneconfig.ZoneDispatchConfig {
	cfg := zoneconfig.Defaults().ForZone("taipei")
	cfg.SurgeThreshold = 1.5
	cfg.SurgeStep = 0.25
	cfg.SurgeCap = 2.0
	cfg.MinDriversToColorCell = 1
	return cfg
}

func one(t *testing.T, ds []Decision, cell string) Decision {
	t.Helper()
	for _, d := range ds {
		if d.CellID == cell {
			return d
		}
	}
	t.Fatalf("no decision for %s", cell)
	return Decision{}
}

// cell with supply 2 and demand 5 crosses a 1.5 threshold and gains one step
func TestSurgeStartsOneStepAboveBase(t *testing.T) {
	e := NewEngine("taipei")
	d := one(t, e.Evaluate(testCfg(), []Input{{CellID: "c1", Supply: 2, Demand: 5}}, tick0), "c1")

	assert.Equal(t, 2.5, d.Imbalance)
	assert.Equal(t, StateSurging, d.State)
	assert.Equal(t, 1.25, d.Multiplier)
	assert.True(t, d.Changed)
	require.NotNil(t, d.Opened)
	assert.Equal(t, tick0, d.Opened.StartedAt)
	assert.Equal(t, 2.5, d.Opened.Imbalance)
	assert.EqualValues(t, 2, d.Opened.Supply)
	assert.EqualValues(t, 5, d.Opened.Demand)
	assert.True(t, d.Opened.Open())
}

func TestSurgeRampsToCapThenRampsDownWithHysteresis(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	hot := []Input{{CellID: "c1", Supply: 1, Demand: 4}}
	cold := []Input{{CellID: "c1", Supply: 4, Demand: 1}}

	var got []float64
	at := tick0
	for i := 0; i < 6; i++ {
		got = append(got, one(t, e.Evaluate(cfg, hot, at), "c1").Multiplier)
		at = at.Add(time.Minute)
	}
	assert.Equal(t, []float64{1.25, 1.5, 1.75, 2.0, 2.0, 2.0}, got)

	// first tick below holds, then one step per tick
	got = got[:0]
	var closed *SurgeEpoch
	for i := 0; i < 6; i++ {
		d := one(t, e.Evaluate(cfg, cold, at), "c1")
		got = append(got, d.Multiplier)
		if d.Closed != nil {
			closed = d.Closed
			assert.Equal(t, StateNormal, d.State)
		}
		at = at.Add(time.Minute)
	}
	assert.Equal(t, []float64{2.0, 1.75, 1.5, 1.25, 1.0, 1.0}, got)
	require.NotNil(t, closed)
	require.NotNil(t, closed.EndedAt)
	assert.Equal(t, tick0.Add(10*time.Minute), *closed.EndedAt)
	assert.Equal(t, 2.0, closed.Multiplier, "epoch keeps the peak")
	assert.Empty(t, e.Surging())
}

func TestMomentaryDipDoesNotRampDown(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	hot := []Input{{CellID: "c1", Supply: 1, Demand: 4}}
	cold := []Input{{CellID: "c1", Supply: 4, Demand: 1}}

	e.Evaluate(cfg, hot, tick0)
	e.Evaluate(cfg, hot, tick0)
	assert.Equal(t, 1.5, one(t, e.Evaluate(cfg, cold, tick0), "c1").Multiplier)
	assert.Equal(t, 1.75, one(t, e.Evaluate(cfg, hot, tick0), "c1").Multiplier)
	// the dip counter restarted
	assert.Equal(t, 1.75, one(t, e.Evaluate(cfg, cold, tick0), "c1").Multiplier)
	assert.Equal(t, 1.5, one(t, e.Evaluate(cfg, cold, tick0), "c1").Multiplier)
}

func TestColdCellDoesNotSurge(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	cfg.MinDriversToColorCell = 3
	cfg.IncentivesEnabled = false
	d := one(t, e.Evaluate(cfg, []Input{{CellID: "c1", Supply: 2, Demand: 10}}, tick0), "c1")
	assert.Equal(t, StateNormal, d.State)
	assert.Equal(t, 1.0, d.Multiplier)
	assert.Nil(t, d.Opened)
	assert.False(t, d.Changed)
}

func TestSurgeDisabledRampsDown(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	hot := []Input{{CellID: "c1", Supply: 1, Demand: 4}}
	e.Evaluate(cfg, hot, tick0)
	e.Evaluate(cfg, hot, tick0)

	cfg.SurgeEnabled = false
	assert.Equal(t, 1.5, one(t, e.Evaluate(cfg, hot, tick0), "c1").Multiplier)
	assert.Equal(t, 1.25, one(t, e.Evaluate(cfg, hot, tick0), "c1").Multiplier)
	d := one(t, e.Evaluate(cfg, hot, tick0), "c1")
	assert.Equal(t, 1.0, d.Multiplier)
	assert.NotNil(t, d.Closed)
}

func TestEmptiedCellKeepsTicking(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	e.Evaluate(cfg, []Input{{CellID: "c1", Supply: 1, Demand: 4}}, tick0)

	// c1 no longer reported
	ds := e.Evaluate(cfg, []Input{{CellID: "c2", Supply: 3, Demand: 0}}, tick0)
	require.Len(t, ds, 2)
	assert.Equal(t, "c1", ds[0].CellID)
	assert.Equal(t, 1.25, ds[0].Multiplier)
	assert.Zero(t, ds[0].Imbalance)
}

func TestLoweredCapClampsImmediately(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	hot := []Input{{CellID: "c1", Supply: 1, Demand: 4}}
	for i := 0; i < 4; i++ {
		e.Evaluate(cfg, hot, tick0)
	}
	cfg.SurgeCap = 1.5
	assert.Equal(t, 1.5, one(t, e.Evaluate(cfg, hot, tick0), "c1").Multiplier)

	cfg.SurgeCap = 1.0
	d := one(t, e.Evaluate(cfg, hot, tick0), "c1")
	assert.Equal(t, 1.0, d.Multiplier)
	assert.NotNil(t, d.Closed)
}

func TestCloseAllEndsEpochs(t *testing.T) {
	e := NewEngine("taipei")
	cfg := testCfg()
	e.Evaluate(cfg, []Input{{CellID: "a", Supply: 1, Demand: 4}, {CellID: "b", Supply: 1, Demand: 9}}, tick0)
	require.Len(t, e.OpenEpochs(), 2)

	end := tick0.Add(time.Hour)
	closed := e.CloseAll(end)
	require.Len(t, closed, 2)
	for _, ep := range closed {
		assert.Equal(t, end, *ep.EndedAt)
	}
	assert.Empty(t, e.Surging())
	assert.Equal(t, 1.0, e.Multiplier("a"))
}

func TestMultiplierBoundsUnderRandomLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := NewEngine("taipei")
	cfg := testCfg()
	cfg.SurgeCap = 2.5
	prev := map[string]float64{}
	for i := 0; i < 2000; i++ {
		var inputs []Input
		for _, id := range []string{"a", "b", "c"} {
			inputs = append(inputs, Input{CellID: id, Supply: rng.Int63n(6), Demand: rng.Int63n(12)})
		}
		if i%500 == 499 {
			cfg.SurgeEnabled = !cfg.SurgeEnabled
		}
		for _, d := range e.Evaluate(cfg, inputs, tick0.Add(time.Duration(i)*time.Minute)) {
			assert.GreaterOrEqual(t, d.Multiplier, 1.0)
			assert.LessOrEqual(t, d.Multiplier, cfg.SurgeCap)
			p, ok := prev[d.CellID]
			if !ok {
				p = 1.0
			}
			assert.LessOrEqual(t, math.Abs(d.Multiplier-p), cfg.SurgeStep+1e-9)
			assert.GreaterOrEqual(t, d.Imbalance, 0.0)
			prev[d.CellID] = d.Multiplier
		}
	}
}

func TestFineStepsRampExactlyOneStepPerTick(t *testing.T) {
	for _, tc := range []struct {
		name string
		step float64
		want []float64
	}{
		{name: "eighths", step: 0.125, want: []float64{1.125, 1.25, 1.375, 1.5}},
		{name: "sub-cent", step: 0.004, want: []float64{1.004, 1.008, 1.012, 1.016}},
		{name: "tenths", step: 0.1, want: []float64{1.1, 1.2, 1.3, 1.4}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine("taipei")
			cfg := testCfg()
			cfg.SurgeStep = tc.step
			hot := []Input{{CellID: "c1", Supply: 1, Demand: 9}}
			cold := []Input{{CellID: "c1", Supply: 9, Demand: 1}}

			prev := 1.0
			for i, want := range tc.want {
				d := one(t, e.Evaluate(cfg, hot, tick0.Add(time.Duration(i)*time.Minute)), "c1")
				assert.Equal(t, StateSurging, d.State)
				assert.InDelta(t, want, d.Multiplier, 1e-12)
				assert.LessOrEqual(t, d.Multiplier-prev, tc.step+1e-12)
				prev = d.Multiplier
			}

			// one holding tick, then back down one step at a time until the epoch closes
			at := tick0.Add(time.Hour)
			one(t, e.Evaluate(cfg, cold, at), "c1")
			var closed *SurgeEpoch
			for i := 0; i < len(tc.want) && closed == nil; i++ {
				d := one(t, e.Evaluate(cfg, cold, at), "c1")
				assert.LessOrEqual(t, prev-d.Multiplier, tc.step+1e-12)
				prev = d.Multiplier
				closed = d.Closed
			}
			require.NotNil(t, closed)
			assert.Equal(t, 1.0, prev)
			assert.InDelta(t, tc.want[len(tc.want)-1], closed.Multiplier, 1e-12)
		})
	}
}
