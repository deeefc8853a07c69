// Package validate implements the ingress-time rejections LifecycleManager's
// submit operation applies before a task row is ever created: invalid
// language code, empty TTS text, summarization text under 50 characters,
// oversized input. Expressed as validator/v10 struct tags plus a couple of
// custom funcs rather than hand-rolled if-chains.
package validate

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/dcompute/coreplane/internal/errs"
	"github.com/dcompute/coreplane/pkg/types"
)

// MaxInputBytes is the maximum accepted inline/blob input size.
const MaxInputBytes = 50 * 1024 * 1024 // 50MB

const minSummarizationChars = 50

var languageCodeRE = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

var instance *validator.Validate

func init() {
	instance = validator.New()
	_ = instance.RegisterValidation("langcode", validateLangCode)
}

func validateLangCode(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if v == "" {
		return true // optional language fields validate emptiness elsewhere
	}
	return languageCodeRE.MatchString(v)
}

// TaskSpec is the ingress-facing submission shape validator/v10 checks
// before a TaskSpec is handed to LifecycleManager.Submit.
type TaskSpec struct {
	TaskType       types.TaskType  `validate:"required"`
	Priority       types.Priority  `validate:"omitempty"`
	SourceLanguage string          `validate:"required,langcode"`
	TargetLanguage string          `validate:"omitempty,langcode"`
	InlineText     string          `validate:"omitempty"`
	BlobID         string          `validate:"omitempty"`
	InputSizeBytes int64           `validate:"omitempty,min=0"`
}

// Submit validates a TaskSpec against the ingress rules, returning an
// *errs.OperationError of Kind Validation on the first failure.
func Submit(spec TaskSpec) error {
	if err := instance.Struct(spec); err != nil {
		return errs.FailedTo(errs.Validation, "validate", "validate task submission", string(spec.TaskType), err)
	}

	if spec.InlineText == "" && spec.BlobID == "" {
		return errs.FailedTo(errs.Validation, "validate", "validate task submission", string(spec.TaskType),
			fmt.Errorf("one of inline text or blob id is required"))
	}

	switch spec.TaskType {
	case types.TaskTTS:
		if spec.InlineText == "" {
			return errs.FailedTo(errs.Validation, "validate", "validate tts submission", "", fmt.Errorf("tts text must not be empty"))
		}
	case types.TaskSummarization:
		if len(spec.InlineText) < minSummarizationChars {
			return errs.FailedTo(errs.Validation, "validate", "validate summarization submission", "",
				fmt.Errorf("summarization text must be at least %d characters, got %d", minSummarizationChars, len(spec.InlineText)))
		}
	case types.TaskTranscription, types.TaskTextTranslation, types.TaskDocumentTranslation, types.TaskVideoTranscription:
		// no extra text-length constraint beyond non-empty input, already checked above
	default:
		return errs.FailedTo(errs.Validation, "validate", "validate task submission", string(spec.TaskType),
			fmt.Errorf("unknown task type %q", spec.TaskType))
	}

	if spec.InputSizeBytes > MaxInputBytes {
		return errs.FailedTo(errs.Validation, "validate", "validate task submission", string(spec.TaskType),
			fmt.Errorf("input size %d exceeds maximum %d bytes", spec.InputSizeBytes, MaxInputBytes))
	}

	return nil
}

// PlausibleInput is the data-quality size check applied by the worker loop
// and the auditor's re-execution step: audio must be at least
// 1000 bytes for transcription/video_transcription, text at least 10
// characters for the rest. Returns false ("broken file") rather than an
// error — data-quality is a first-class outcome, not a Validation failure.
func PlausibleInput(tt types.TaskType, data []byte) bool {
	switch tt {
	case types.TaskTranscription, types.TaskVideoTranscription:
		return len(data) >= 1000
	default:
		return len(data) >= 10
	}
}
