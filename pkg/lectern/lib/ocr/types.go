// Copyright 2025 The Lectern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ocr

import "strings"

// BBox is an axis-aligned box as [x1, y1, x2, y2] in pixel coordinates.
type BBox [4]float64

// Polygon is a list of [x, y] corner points, clockwise from top-left.
type Polygon [][2]float64

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b[2] - b[0] }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b[3] - b[1] }

// Area returns the area of the box.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// Valid reports whether the box has positive extent.
func (b BBox) Valid() bool { return b[2] > b[0] && b[3] > b[1] }

// Polygon expands the box into its four corner points.
func (b BBox) Polygon() Polygon {
	return Polygon{
		{b[0], b[1]},
		{b[2], b[1]},
		{b[2], b[3]},
		{b[0], b[3]},
	}
}

// IntersectX returns the horizontal overlap between two boxes.
func (b BBox) IntersectX(other BBox) float64 {
	return max(0, min(b[2], other[2])-max(b[0], other[0]))
}

// IntersectY returns the vertical overlap between two boxes.
func (b BBox) IntersectY(other BBox) float64 {
	return max(0, min(b[3], other[3])-max(b[1], other[1]))
}

// IntersectArea returns the area of the intersection of two boxes.
func (b BBox) IntersectArea(other BBox) float64 {
	return b.IntersectX(other) * b.IntersectY(other)
}

// Box is a detected region with polygon, bbox, and confidence.
type Box struct {
	Polygon    Polygon `json:"polygon"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// TextLine is a recognized text line with its region.
type TextLine struct {
	Text       string  `json:"text"`
	Polygon    Polygon `json:"polygon"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// DetectionResult holds text line regions for one image.
type DetectionResult struct {
	Bboxes    []Box `json:"bboxes"`
	ImageBBox BBox  `json:"image_bbox"`
}

// FilterConfidence drops boxes scored below floor. A floor of zero or
// less keeps everything.
func (d *DetectionResult) FilterConfidence(floor float64) {
	if floor <= 0 {
		return
	}
	kept := d.Bboxes[:0]
	for _, box := range d.Bboxes {
		if box.Confidence >= floor {
			kept = append(kept, box)
		}
	}
	d.Bboxes = kept
}

// RecognitionResult holds recognized text lines for one image.
// CombinedText joins the line texts with newlines; per-character data
// is never included in the serialized form.
type RecognitionResult struct {
	TextLines    []TextLine `json:"text_lines"`
	ImageBBox    BBox       `json:"image_bbox"`
	CombinedText string     `json:"combined_text"`
}

// Combine populates CombinedText from the text lines.
func (r *RecognitionResult) Combine() {
	texts := make([]string, 0, len(r.TextLines))
	for _, line := range r.TextLines {
		texts = append(texts, line.Text)
	}
	r.CombinedText = strings.Join(texts, "\n")
}

// FilterConfidence drops text lines scored below floor. Callers refresh
// CombinedText with Combine afterwards.
func (r *RecognitionResult) FilterConfidence(floor float64) {
	if floor <= 0 {
		return
	}
	kept := r.TextLines[:0]
	for _, line := range r.TextLines {
		if line.Confidence >= floor {
			kept = append(kept, line)
		}
	}
	r.TextLines = kept
}

// LayoutBox is a labeled page region. Position is the reading-order index.
type LayoutBox struct {
	Polygon    Polygon `json:"polygon"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
	Position   int     `json:"position"`
}

// LayoutResult holds labeled page regions for one image.
type LayoutResult struct {
	Bboxes    []LayoutBox `json:"bboxes"`
	ImageBBox BBox        `json:"image_bbox"`
}

// TableRow is a detected table row.
type TableRow struct {
	BBox  BBox `json:"bbox"`
	RowID int  `json:"row_id"`
}

// TableCol is a detected table column.
type TableCol struct {
	BBox  BBox `json:"bbox"`
	ColID int  `json:"col_id"`
}

// TableCell is a cell assigned to a row and column.
type TableCell struct {
	BBox  BBox   `json:"bbox"`
	RowID int    `json:"row_id"`
	ColID int    `json:"col_id"`
	Text  string `json:"text,omitempty"`
}

// TableResult holds the recognized structure of tables in one image.
type TableResult struct {
	Rows      []TableRow  `json:"rows"`
	Cols      []TableCol  `json:"cols"`
	Cells     []TableCell `json:"cells"`
	ImageBBox BBox        `json:"image_bbox"`
}

// LatexResult holds the LaTeX recognized from an equation image.
type LatexResult struct {
	Latex      string  `json:"latex"`
	Confidence float64 `json:"confidence"`
}

// Prediction is the per-image result envelope. Exactly one field is set,
// matching the task that produced it.
type Prediction struct {
	Detection   *DetectionResult   `json:"detection,omitempty"`
	Recognition *RecognitionResult `json:"recognition,omitempty"`
	Layout      *LayoutResult      `json:"layout,omitempty"`
	Table       *TableResult       `json:"table,omitempty"`
	Latex       *LatexResult       `json:"latex,omitempty"`
}

// Value returns the populated result for flat serialization.
func (p Prediction) Value() any {
	switch {
	case p.Detection != nil:
		return p.Detection
	case p.Recognition != nil:
		return p.Recognition
	case p.Layout != nil:
		return p.Layout
	case p.Table != nil:
		return p.Table
	case p.Latex != nil:
		return p.Latex
	}
	return nil
}
