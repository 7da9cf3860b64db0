package lsp

import "unicode/utf16"

// PositionConverter maps LSP positions (zero-based line, UTF-16 column) onto
// byte offsets of a fixed snapshot of document content.
type PositionConverter struct {
	content string
	lines   []lineSpan
}

// lineSpan is the byte extent of one line, excluding its line terminator
// ("\n" or "\r\n").
type lineSpan struct {
	start int
	end   int
}

// NewPositionConverter indexes the lines of content.
func NewPositionConverter(content string) *PositionConverter {
	pc := &PositionConverter{content: content}

	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			end := i
			if end > start && content[end-1] == '\r' {
				end--
			}
			pc.lines = append(pc.lines, lineSpan{start: start, end: end})
			start = i + 1
		}
	}
	pc.lines = append(pc.lines, lineSpan{start: start, end: len(content)})

	return pc
}

// LineCount returns the number of lines. Empty content has one line.
func (pc *PositionConverter) LineCount() int {
	return len(pc.lines)
}

// LineContent returns the content of a line (excluding newline).
func (pc *PositionConverter) LineContent(line int) string {
	if line < 0 || line >= len(pc.lines) {
		return ""
	}
	span := pc.lines[line]
	return pc.content[span.start:span.end]
}

// PositionToByteOffset converts a position to a byte offset, clamping
// positions past the end of a line or of the document.
func (pc *PositionConverter) PositionToByteOffset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(pc.lines) {
		return len(pc.content)
	}
	span := pc.lines[pos.Line]
	return span.start + utf16ToByteOffset(pc.content[span.start:span.end], pos.Character)
}

// ByteOffsetToPosition converts a byte offset to a position.
func (pc *PositionConverter) ByteOffsetToPosition(offset int) Position {
	if offset <= 0 {
		return Position{}
	}
	if offset > len(pc.content) {
		offset = len(pc.content)
	}

	// Offsets inside a line terminator map to the end of that line.
	line := len(pc.lines) - 1
	for i := range pc.lines[:line] {
		if offset < pc.lines[i+1].start {
			line = i
			break
		}
	}

	span := pc.lines[line]
	return Position{
		Line:      line,
		Character: byteToUTF16Offset(pc.content[span.start:span.end], offset-span.start),
	}
}

// RangeToByteOffsets converts a range to start and end byte offsets.
func (pc *PositionConverter) RangeToByteOffsets(rng Range) (start, end int) {
	start = pc.PositionToByteOffset(rng.Start)
	end = pc.PositionToByteOffset(rng.End)
	if end < start {
		end = start
	}
	return start, end
}

// EntireRange returns the range covering all of the content.
func (pc *PositionConverter) EntireRange() Range {
	last := len(pc.lines) - 1
	span := pc.lines[last]
	return Range{
		End: Position{Line: last, Character: utf16LenForString(pc.content[span.start:span.end])},
	}
}

// EntireContentRange is a convenience wrapper around PositionConverter.EntireRange.
func EntireContentRange(content string) Range {
	return NewPositionConverter(content).EntireRange()
}

// --- Range helpers ---

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Character < b.Character:
		return -1
	case a.Character > b.Character:
		return 1
	}
	return 0
}

// IsPositionBefore returns true if a is before b.
func IsPositionBefore(a, b Position) bool {
	return ComparePositions(a, b) < 0
}

// IsPositionInRange returns true if pos is within the range, both ends inclusive.
// A zero-width range contains exactly its own position.
func IsPositionInRange(pos Position, rng Range) bool {
	return ComparePositions(pos, rng.Start) >= 0 && ComparePositions(pos, rng.End) <= 0
}

// PointRange returns the zero-width range at pos.
func PointRange(pos Position) Range {
	return Range{Start: pos, End: pos}
}

// --- UTF-16 conversion helpers ---

func utf16LenForString(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func byteToUTF16Offset(s string, byteOff int) int {
	n := 0
	for i, r := range s {
		if i >= byteOff {
			break
		}
		n += utf16.RuneLen(r)
	}
	return n
}

func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}
	n := 0
	for i, r := range s {
		if n >= utf16Off {
			return i
		}
		n += utf16.RuneLen(r)
	}
	return len(s)
}
