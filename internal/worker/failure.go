package worker

import (
	"strings"

	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/services"
)

const (
	genericVideoFailure = "Video generation failed"
	celebrityMessage    = "The AI detected a celebrity or recognizable person in the image. Please try with a different person's photo or use a more generic model image."
)

// messageExtractor pulls a failure reason out of a finished operation, or "".
type messageExtractor func(op *services.VideoOperation) string

// Tried in order; the first non-empty message wins.
var videoFailureExtractors = []messageExtractor{
	filterReason,
	responseError,
	operationError,
	rawResponse,
}

func filterReason(op *services.VideoOperation) string {
	for _, r := range op.FilteredReasons {
		if r = strings.TrimSpace(r); r != "" {
			return r
		}
	}
	return ""
}

func responseError(op *services.VideoOperation) string  { return op.ResponseError }
func operationError(op *services.VideoOperation) string { return op.OperationError }
func rawResponse(op *services.VideoOperation) string    { return op.RawResponse }

func videoFailureMessage(op *services.VideoOperation) string {
	if op != nil {
		for _, extract := range videoFailureExtractors {
			if msg := extract(op); msg != "" {
				return friendlyMessage(msg)
			}
		}
	}
	return genericVideoFailure
}

// friendlyMessage replaces likeness-detection rejections with actionable advice.
func friendlyMessage(msg string) string {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "celebrity") || strings.Contains(lower, "likeness") {
		return celebrityMessage
	}
	return msg
}

func errorMessage(err error) string {
	return errs.Message(err)
}
