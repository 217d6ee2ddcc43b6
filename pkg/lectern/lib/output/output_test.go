package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

func samplePredictions() []ocr.Prediction {
	rec := &ocr.RecognitionResult{
		TextLines: []ocr.TextLine{
			{Text: "line one", Confidence: 0.9},
			{Text: "line two", Confidence: 0.8},
		},
		ImageBBox: ocr.BBox{0, 0, 100, 100},
	}
	rec.Combine()

	det := &ocr.DetectionResult{
		Bboxes:    []ocr.Box{{BBox: ocr.BBox{1, 2, 3, 4}, Confidence: 0.7}},
		ImageBBox: ocr.BBox{0, 0, 100, 100},
	}

	return []ocr.Prediction{{Recognition: rec}, {Detection: det}}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("txt")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("yaml")
	require.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, samplePredictions(), FormatJSON))

	var results []map[string]any
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &results))
	require.Len(t, results, 2)

	assert.Equal(t, "line one\nline two", results[0]["combined_text"])
	assert.Contains(t, results[1], "bboxes")
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, samplePredictions(), FormatText))

	out := buf.String()
	assert.Contains(t, out, "=== Image 1 ===\nline one\nline two\n")
	assert.Contains(t, out, "=== Image 2 ===\n")
	// Non-recognition results fall back to JSON
	assert.Contains(t, out, `"bboxes"`)
}

func TestWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "results.json")
	require.NoError(t, WriteFile(path, samplePredictions(), FormatJSON))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "combined_text")
}
