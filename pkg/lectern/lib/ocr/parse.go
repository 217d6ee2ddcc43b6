package ocr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Vision2Seq document models emit regions as a stream of
// "label<loc_x1><loc_y1><loc_x2><loc_y2>" groups. Coordinates are
// quantized to a 0-999 grid independent of the image size.
var locPattern = regexp.MustCompile(`<loc_(\d+)>`)

// locGridSize is the coordinate quantization grid used by location tokens.
const locGridSize = 1000

// specialTokens are stripped from labels and plain-text output.
var specialTokens = []string{"</s>", "<s>", "<pad>", "<unk>"}

// Region is one parsed label + box group from the model output,
// scaled to pixel coordinates.
type Region struct {
	Label string
	Box   BBox
	Score float64
}

// CleanText strips special tokens and surrounding whitespace from model output.
func CleanText(s string) string {
	for _, tok := range specialTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return strings.TrimSpace(s)
}

// ParseRegions parses all label + location-token groups from raw model
// output, scaling coordinates to the given image dimensions. Groups keep
// their emission order, which is the model's reading order. Incomplete
// trailing groups (fewer than 4 coordinates) are dropped.
func ParseRegions(s string, width, height int) []Region {
	matches := locPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return nil
	}

	var regions []Region
	groupStart := 0 // start of the label text for the current group
	i := 0
	for i < len(matches) {
		// A group is a run of consecutive loc tokens with no text between them
		runEnd := i + 1
		for runEnd < len(matches) && matches[runEnd][0] == matches[runEnd-1][1] {
			runEnd++
		}

		label := CleanText(s[groupStart:matches[i][0]])

		// Consume the run four coordinates at a time
		for j := i; j+3 < runEnd; j += 4 {
			coords := [4]float64{}
			for k := 0; k < 4; k++ {
				m := matches[j+k]
				v, err := strconv.Atoi(s[m[2]:m[3]])
				if err != nil {
					continue
				}
				coords[k] = float64(v)
			}
			box := BBox{
				coords[0] * float64(width) / locGridSize,
				coords[1] * float64(height) / locGridSize,
				coords[2] * float64(width) / locGridSize,
				coords[3] * float64(height) / locGridSize,
			}
			if !box.Valid() {
				continue
			}
			regions = append(regions, Region{Label: label, Box: box, Score: 1.0})
			// Only the first box in a run carries the label
			label = ""
		}

		groupStart = matches[runEnd-1][1]
		i = runEnd
	}

	return regions
}

// imageBBox returns the full-image bounding box.
func imageBBox(width, height int) BBox {
	return BBox{0, 0, float64(width), float64(height)}
}

// ParseDetection parses detection output into text line regions.
// Regions scoring below minScore are dropped.
func ParseDetection(s string, width, height int, minScore float64) DetectionResult {
	result := DetectionResult{
		Bboxes:    []Box{},
		ImageBBox: imageBBox(width, height),
	}
	for _, region := range ParseRegions(s, width, height) {
		if region.Score < minScore {
			continue
		}
		result.Bboxes = append(result.Bboxes, Box{
			Polygon:    region.Box.Polygon(),
			BBox:       region.Box,
			Confidence: region.Score,
		})
	}
	return result
}

// ParseRecognition parses OCR output into recognized text lines. Output
// with no location tokens is treated as a single line spanning the image.
func ParseRecognition(s string, width, height int) RecognitionResult {
	result := RecognitionResult{
		TextLines: []TextLine{},
		ImageBBox: imageBBox(width, height),
	}

	regions := ParseRegions(s, width, height)
	if len(regions) == 0 {
		if text := CleanText(s); text != "" {
			result.TextLines = append(result.TextLines, TextLine{
				Text:       text,
				Polygon:    result.ImageBBox.Polygon(),
				BBox:       result.ImageBBox,
				Confidence: 1.0,
			})
		}
		result.Combine()
		return result
	}

	for _, region := range regions {
		if region.Label == "" {
			continue
		}
		result.TextLines = append(result.TextLines, TextLine{
			Text:       region.Label,
			Polygon:    region.Box.Polygon(),
			BBox:       region.Box,
			Confidence: region.Score,
		})
	}
	result.Combine()
	return result
}

// ParseLayout parses layout analysis output into labeled regions.
// Position follows emission order, which is the model's reading order.
func ParseLayout(s string, width, height int) LayoutResult {
	result := LayoutResult{
		Bboxes:    []LayoutBox{},
		ImageBBox: imageBBox(width, height),
	}
	for i, region := range ParseRegions(s, width, height) {
		label := region.Label
		if label == "" {
			label = "Text"
		}
		result.Bboxes = append(result.Bboxes, LayoutBox{
			Polygon:    region.Box.Polygon(),
			BBox:       region.Box,
			Confidence: region.Score,
			Label:      label,
			Position:   i,
		})
	}
	return result
}

// Table region labels emitted by table recognition models.
const (
	labelTableRow  = "table-row"
	labelTableCol  = "table-column"
	labelTableCell = "table-cell"
)

// ParseTable parses table recognition output and assembles the structure.
// Cells are assigned to the row with maximal vertical overlap and the
// column with maximal horizontal overlap; cells overlapping neither are
// dropped. When the model emits no explicit cells, cells are synthesized
// from row and column intersections.
func ParseTable(s string, width, height int) TableResult {
	result := TableResult{
		Rows:      []TableRow{},
		Cols:      []TableCol{},
		Cells:     []TableCell{},
		ImageBBox: imageBBox(width, height),
	}

	var cellBoxes []BBox
	for _, region := range ParseRegions(s, width, height) {
		switch normalizeTableLabel(region.Label) {
		case labelTableRow:
			result.Rows = append(result.Rows, TableRow{BBox: region.Box})
		case labelTableCol:
			result.Cols = append(result.Cols, TableCol{BBox: region.Box})
		case labelTableCell:
			cellBoxes = append(cellBoxes, region.Box)
		}
	}

	// Rows ordered top to bottom, columns left to right
	sort.SliceStable(result.Rows, func(i, j int) bool {
		return result.Rows[i].BBox[1] < result.Rows[j].BBox[1]
	})
	sort.SliceStable(result.Cols, func(i, j int) bool {
		return result.Cols[i].BBox[0] < result.Cols[j].BBox[0]
	})
	for i := range result.Rows {
		result.Rows[i].RowID = i
	}
	for i := range result.Cols {
		result.Cols[i].ColID = i
	}

	if len(cellBoxes) == 0 {
		for _, row := range result.Rows {
			for _, col := range result.Cols {
				cell := BBox{col.BBox[0], row.BBox[1], col.BBox[2], row.BBox[3]}
				if !cell.Valid() {
					continue
				}
				result.Cells = append(result.Cells, TableCell{
					BBox:  cell,
					RowID: row.RowID,
					ColID: col.ColID,
				})
			}
		}
		return result
	}

	for _, box := range cellBoxes {
		rowID, rowOverlap := -1, 0.0
		for _, row := range result.Rows {
			if overlap := box.IntersectY(row.BBox); overlap > rowOverlap {
				rowID, rowOverlap = row.RowID, overlap
			}
		}
		colID, colOverlap := -1, 0.0
		for _, col := range result.Cols {
			if overlap := box.IntersectX(col.BBox); overlap > colOverlap {
				colID, colOverlap = col.ColID, overlap
			}
		}
		if rowID < 0 || colID < 0 {
			continue
		}
		result.Cells = append(result.Cells, TableCell{
			BBox:  box,
			RowID: rowID,
			ColID: colID,
		})
	}

	return result
}

// normalizeTableLabel folds model label variants into the canonical names.
func normalizeTableLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "table-row", "table row", "row":
		return labelTableRow
	case "table-column", "table-col", "table column", "column", "col":
		return labelTableCol
	case "table-cell", "table cell", "cell":
		return labelTableCell
	}
	return label
}

// ParseLatex parses LaTeX recognition output. Surrounding math
// delimiters emitted by the model are preserved.
func ParseLatex(s string) LatexResult {
	return LatexResult{
		Latex:      CleanText(s),
		Confidence: 1.0,
	}
}
