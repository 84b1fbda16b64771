package quizgen

import "github.com/google/uuid"

const (
	WorkflowName          = "quiz_generation"
	ActivityStart         = "quizgen_start"
	ActivityGenerateChunk = "quizgen_generate_chunk"
	ActivityPublish       = "quizgen_publish"
)

// WorkflowID is the stable workflow id for a job, so a repeated dispatch
// finds the running execution instead of starting a second one.
func WorkflowID(jobID uuid.UUID) string { return "quizgen:" + jobID.String() }
