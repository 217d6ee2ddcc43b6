package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTask(t *testing.T) {
	for _, task := range Tasks() {
		parsed, err := ParseTask(string(task))
		require.NoError(t, err)
		assert.Equal(t, task, parsed)
	}
}

func TestParseTaskInvalid(t *testing.T) {
	_, err := ParseTask("summarize")
	require.Error(t, err)
	// The error names the valid tasks, like the CLI help text
	assert.Contains(t, err.Error(), "extract_text")
	assert.Contains(t, err.Error(), "detect_layout")
}

func TestTaskKind(t *testing.T) {
	assert.Equal(t, KindDetector, TaskDetectText.Kind())
	assert.Equal(t, KindRecognizer, TaskExtractText.Kind())
	assert.Equal(t, KindLayout, TaskDetectLayout.Kind())
	assert.Equal(t, KindTable, TaskProcessTables.Kind())
	assert.Equal(t, KindLatex, TaskRecognizeLatex.Kind())
}

func TestTaskPromptsAndDescriptions(t *testing.T) {
	for _, task := range Tasks() {
		assert.NotEmpty(t, task.Prompt(), "task %s has no prompt", task)
		assert.NotEmpty(t, task.Description(), "task %s has no description", task)
	}
}
