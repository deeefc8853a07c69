package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dcompute/coreplane/pkg/types"
)

func TestAccuracyScore_NonTTS(t *testing.T) {
	cases := []struct {
		name      string
		reference string
		candidate string
		check     func(t *testing.T, got float64)
	}{
		{
			name:      "exact match",
			reference: "the quick brown fox",
			candidate: "the quick brown fox",
			check: func(t *testing.T, got float64) {
				assert.Equal(t, 1.0, got)
			},
		},
		{
			name:      "both empty",
			reference: "",
			candidate: "",
			check: func(t *testing.T, got float64) {
				assert.Equal(t, 1.0, got)
			},
		},
		{
			name:      "case insensitive exact match",
			reference: "Hello World",
			candidate: "hello world",
			check: func(t *testing.T, got float64) {
				assert.Equal(t, 1.0, got)
			},
		},
		{
			name:      "near miss transposed trailing letters",
			reference: "the quick brown fox",
			candidate: "the quick brown fxo",
			check: func(t *testing.T, got float64) {
				assert.Greater(t, got, 0.85)
				assert.Less(t, got, 1.0)
			},
		},
		{
			name:      "total mismatch",
			reference: "aaaa",
			candidate: "zzzz",
			check: func(t *testing.T, got float64) {
				assert.Equal(t, 0.0, got)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AccuracyScore(types.TaskTranscription, tc.reference, tc.candidate, 1.0)
			tc.check(t, got)
		})
	}
}

func TestAccuracyScore_TTS(t *testing.T) {
	cases := []struct {
		name           string
		processingTime float64
		want           float64
	}{
		{"too fast is suspicious", 0.05, 0.3},
		{"too slow", 31, 0.2},
		{"within the floor", 6, 0.5},
		{"comfortably fast", 2, 0.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AccuracyScore(types.TaskTTS, "reference", "candidate", tc.processingTime)
			assert.InDelta(t, tc.want, got, 0.001)
		})
	}
}

func TestSpeedScore(t *testing.T) {
	cases := []struct {
		name           string
		taskType       types.TaskType
		processingTime float64
		want           float64
	}{
		{"at baseline", types.TaskTranscription, 2.0, 1.0},
		{"double baseline", types.TaskTranscription, 4.0, 0.8},
		{"quintuple baseline", types.TaskTranscription, 10.0, 0.6},
		{"far over baseline", types.TaskTranscription, 100.0, 0.3},
		{"unlisted type uses default baseline", types.TaskType("unlisted"), 5.0, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SpeedScore(tc.taskType, tc.processingTime)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestQualityScore(t *testing.T) {
	cases := []struct {
		name     string
		taskType types.TaskType
		fields   map[string]string
		want     float64
	}{
		{"required field present", types.TaskTranscription, map[string]string{"transcript": "hi"}, 1.0},
		{"required field missing", types.TaskTranscription, map[string]string{}, 0.0},
		{"required field blank", types.TaskTranscription, map[string]string{"transcript": "   "}, 0.0},
		{"unlisted type has no requirement", types.TaskType("unlisted"), nil, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := QualityScore(tc.taskType, tc.fields)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCombine_PerTaskCapEnforced(t *testing.T) {
	// Component scores are expected to live in [0,1], but Combine must still
	// enforce the cap even if one arrives out of range.
	_, final := Combine(types.TaskTranscription, 1.5, 1.5, 1.5)
	assert.Equal(t, types.ScoreCapPerTask, final)
}

func TestCombine_PerfectScoreHitsCapExactly(t *testing.T) {
	combined, final := Combine(types.TaskTranscription, 1.0, 1.0, 1.0)
	assert.InDelta(t, 1.0, combined, 0.001)
	assert.Equal(t, types.ScoreCapPerTask, final)
}

func TestCombine_WeightsMatchTaskType(t *testing.T) {
	combined, final := Combine(types.TaskTranscription, 1.0, 0.0, 0.0)
	w := WeightsFor(types.TaskTranscription)
	assert.InDelta(t, w.Accuracy, combined, 0.001)
	assert.InDelta(t, w.Accuracy*types.ScoreCapPerTask, final, 0.001)
}
