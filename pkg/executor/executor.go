// Package executor declares the Executor collaborator — the ML inference
// pipelines themselves are out of scope for this module and are invoked
// uniformly through this interface — and implements the scoring functions
// and task-type-keyed weight table the audit pipeline uses to grade a
// worker's output against a reference execution.
package executor

import (
	"context"
	"strings"

	"github.com/dcompute/coreplane/pkg/types"
)

// Input is the validated, task-type-tagged input handed to an Executor.
type Input struct {
	TaskType       types.TaskType
	SourceLanguage string
	TargetLanguage string
	Data           []byte
}

// Output is an Executor's result. Fields is the structural payload (e.g.
// "transcript", "audio_data", "summary", "translation") the quality score
// checks for presence.
type Output struct {
	Fields         map[string]string
	ProcessingTime float64 // seconds
}

// Executor is the out-of-scope ML inference collaborator. Workers invoke
// one per assigned task; auditors invoke a semantically-equivalent one of
// the same model family to produce a reference output.
type Executor interface {
	Run(ctx context.Context, in Input) (Output, error)
}

// RequiredField names the single structural field each task type's output
// must carry a non-empty value for.
var RequiredField = map[types.TaskType]string{
	types.TaskTranscription:       "transcript",
	types.TaskVideoTranscription:  "transcript",
	types.TaskTTS:                 "audio_data",
	types.TaskSummarization:       "summary",
	types.TaskTextTranslation:     "translation",
	types.TaskDocumentTranslation: "translation",
}

// ScoreWeights is a per-task-type (w_accuracy, w_speed, w_quality) triple.
type ScoreWeights struct {
	Accuracy float64
	Speed    float64
	Quality  float64
}

var weightTable = map[types.TaskType]ScoreWeights{
	types.TaskTranscription:       {Accuracy: 0.65, Speed: 0.25, Quality: 0.10},
	types.TaskTTS:                 {Accuracy: 0.50, Speed: 0.20, Quality: 0.30},
	types.TaskSummarization:       {Accuracy: 0.60, Speed: 0.20, Quality: 0.20},
	types.TaskTextTranslation:     {Accuracy: 0.60, Speed: 0.20, Quality: 0.20},
	types.TaskDocumentTranslation: {Accuracy: 0.60, Speed: 0.20, Quality: 0.20},
}

var defaultWeights = ScoreWeights{Accuracy: 0.60, Speed: 0.25, Quality: 0.15}

// WeightsFor returns the scoring weight triple for a task type, falling
// back to a default row for any type not in the table (e.g.
// video_transcription, which has no dedicated entry).
func WeightsFor(tt types.TaskType) ScoreWeights {
	if w, ok := weightTable[tt]; ok {
		return w
	}
	return defaultWeights
}

// speedBaseline is t_opt per task type: the task-type-specific baseline is
// used everywhere, never a single uniform baseline across all types.
var speedBaseline = map[types.TaskType]float64{
	types.TaskTranscription:       2.0,
	types.TaskVideoTranscription:  2.0,
	types.TaskTTS:                 3.0,
	types.TaskSummarization:       5.0,
	types.TaskTextTranslation:     5.0,
	types.TaskDocumentTranslation: 5.0,
}

const defaultSpeedBaseline = 5.0

// SpeedScore implements the piecewise speed scoring curve: full credit at
// or under the baseline, decaying in steps as processing time grows.
func SpeedScore(tt types.TaskType, processingTime float64) float64 {
	tOpt, ok := speedBaseline[tt]
	if !ok {
		tOpt = defaultSpeedBaseline
	}
	switch {
	case processingTime <= tOpt:
		return 1.0
	case processingTime <= 2*tOpt:
		return 0.8
	case processingTime <= 5*tOpt:
		return 0.6
	default:
		return 0.3
	}
}

// AccuracyScore implements the per-task-type accuracy rule.
// For transcription/summarization/translation it is a character-level
// similarity ratio between the reference and candidate text (lowercased),
// equivalent to Python's difflib.SequenceMatcher.ratio(). For tts, it is a
// heuristic on the candidate's processing time.
func AccuracyScore(tt types.TaskType, reference, candidate string, processingTime float64) float64 {
	if tt == types.TaskTTS {
		switch {
		case processingTime < 0.1:
			return 0.3
		case processingTime > 30:
			return 0.2
		default:
			return max(0.5, 1-processingTime/10)
		}
	}
	return charRatio(strings.ToLower(reference), strings.ToLower(candidate))
}

// QualityScore is the fraction of required output fields present with
// non-empty values. Currently each task type names one required field, so
// this is 1.0 or 0.0, but the shape generalizes to multiple required
// fields without change.
func QualityScore(tt types.TaskType, fields map[string]string) float64 {
	required := requiredFields(tt)
	if len(required) == 0 {
		return 1.0
	}
	present := 0
	for _, f := range required {
		if v, ok := fields[f]; ok && strings.TrimSpace(v) != "" {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

func requiredFields(tt types.TaskType) []string {
	if f, ok := RequiredField[tt]; ok {
		return []string{f}
	}
	return nil
}

// Combine implements the combined/final scoring formulas:
// combined = w_a*accuracy + w_s*speed + w_q*quality; final = min(cap, combined*cap).
func Combine(tt types.TaskType, accuracy, speed, quality float64) (combined, final float64) {
	w := WeightsFor(tt)
	combined = w.Accuracy*accuracy + w.Speed*speed + w.Quality*quality
	final = combined * types.ScoreCapPerTask
	if final > types.ScoreCapPerTask {
		final = types.ScoreCapPerTask
	}
	return combined, final
}

// charRatio is a character-level similarity ratio equivalent to Python's
// difflib.SequenceMatcher.ratio(): twice the total length of the matching
// blocks found by recursively locating the longest common contiguous
// substring, divided by the combined length of both strings. 1.0 if both
// are empty.
func charRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingBlockLength(a, b)) / float64(len(a)+len(b))
}

// matchingBlockLength sums the lengths of the longest-common-substring
// matches found by recursing on the unmatched portions to either side of
// each match, the same divide-and-conquer difflib itself uses.
func matchingBlockLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingBlockLength(a[:ai], b[:bi]) + matchingBlockLength(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest contiguous substring common to a and b via
// a dynamic-programming scan over byte positions, returning its start
// offset in each string and its length. Ties favor the earliest match in a,
// then in b.
func longestMatch(a, b string) (aStart, bStart, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	var bestLen, bestA, bestB int
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestA = i - curr[j]
					bestB = j - curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return bestA, bestB, bestLen
}
