package lsp

import "testing"

func TestNewPositionConverter(t *testing.T) {
	pc := NewPositionConverter("hello\nworld\n")
	if pc.LineCount() != 3 {
		t.Errorf("Expected 3 lines, got %d", pc.LineCount())
	}
}

func TestPositionConverter_EmptyContent(t *testing.T) {
	pc := NewPositionConverter("")
	if pc.LineCount() != 1 {
		t.Errorf("Expected 1 line for empty content, got %d", pc.LineCount())
	}
}

func TestPositionConverter_SingleLine(t *testing.T) {
	pc := NewPositionConverter("hello")

	pos := pc.ByteOffsetToPosition(0)
	if pos.Line != 0 || pos.Character != 0 {
		t.Errorf("Expected (0,0), got (%d,%d)", pos.Line, pos.Character)
	}

	pos = pc.ByteOffsetToPosition(5)
	if pos.Line != 0 || pos.Character != 5 {
		t.Errorf("Expected (0,5), got (%d,%d)", pos.Line, pos.Character)
	}
}

func TestPositionConverter_MultiLine(t *testing.T) {
	pc := NewPositionConverter("line1\nline2\nline3")

	tests := []struct {
		byteOffset int
		line       int
		char       int
	}{
		{0, 0, 0},  // Start of line1
		{5, 0, 5},  // End of line1
		{6, 1, 0},  // Start of line2
		{11, 1, 5}, // End of line2
		{12, 2, 0}, // Start of line3
		{17, 2, 5}, // End of line3
	}

	for _, tt := range tests {
		pos := pc.ByteOffsetToPosition(tt.byteOffset)
		if pos.Line != tt.line || pos.Character != tt.char {
			t.Errorf("ByteOffset %d: expected (%d,%d), got (%d,%d)",
				tt.byteOffset, tt.line, tt.char, pos.Line, pos.Character)
		}
	}
}

func TestPositionConverter_PositionToByteOffset(t *testing.T) {
	pc := NewPositionConverter("line1\nline2\nline3")

	tests := []struct {
		line       int
		char       int
		byteOffset int
	}{
		{0, 0, 0},
		{0, 5, 5},
		{1, 0, 6},
		{1, 5, 11},
		{2, 0, 12},
		{2, 5, 17},
	}

	for _, tt := range tests {
		offset := pc.PositionToByteOffset(Position{Line: tt.line, Character: tt.char})
		if offset != tt.byteOffset {
			t.Errorf("Position (%d,%d): expected offset %d, got %d",
				tt.line, tt.char, tt.byteOffset, offset)
		}
	}
}

func TestPositionConverter_RoundTrip(t *testing.T) {
	content := "first line\nsecond line\nthird line"
	pc := NewPositionConverter(content)

	for i := 0; i <= len(content); i++ {
		pos := pc.ByteOffsetToPosition(i)
		offset := pc.PositionToByteOffset(pos)
		if offset != i && i < len(content) {
			t.Errorf("Round trip failed for offset %d: got %d (via pos %d,%d)",
				i, offset, pos.Line, pos.Character)
		}
	}
}

func TestPositionConverter_UTF16(t *testing.T) {
	// U+1F600 is 4 bytes in UTF-8 and 2 UTF-16 code units.
	content := "a\U0001F600b"
	pc := NewPositionConverter(content)

	tests := []struct {
		byteOffset int
		char       int
	}{
		{0, 0},
		{1, 1},
		{5, 3},
		{6, 4},
	}
	for _, tt := range tests {
		if got := pc.ByteOffsetToPosition(tt.byteOffset).Character; got != tt.char {
			t.Errorf("byte %d: expected UTF-16 char %d, got %d", tt.byteOffset, tt.char, got)
		}
		if got := pc.PositionToByteOffset(Position{Character: tt.char}); got != tt.byteOffset {
			t.Errorf("char %d: expected byte %d, got %d", tt.char, tt.byteOffset, got)
		}
	}
}

func TestPositionConverter_Clamping(t *testing.T) {
	pc := NewPositionConverter("ab\ncd")

	if got := pc.PositionToByteOffset(Position{Line: 0, Character: 99}); got != 2 {
		t.Errorf("past end of line: expected 2, got %d", got)
	}
	if got := pc.PositionToByteOffset(Position{Line: 9, Character: 0}); got != 5 {
		t.Errorf("past last line: expected 5, got %d", got)
	}
	if got := pc.PositionToByteOffset(Position{Line: -1}); got != 0 {
		t.Errorf("negative line: expected 0, got %d", got)
	}
}

func TestPositionConverter_LineContent(t *testing.T) {
	pc := NewPositionConverter("one\ntwo\nthree")

	tests := []struct {
		line int
		want string
	}{
		{0, "one"},
		{1, "two"},
		{2, "three"},
		{3, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := pc.LineContent(tt.line); got != tt.want {
			t.Errorf("LineContent(%d) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestPositionConverter_RangeToByteOffsets(t *testing.T) {
	pc := NewPositionConverter("hello\nworld")

	start, end := pc.RangeToByteOffsets(Range{
		Start: Position{Line: 0, Character: 1},
		End:   Position{Line: 1, Character: 2},
	})
	if start != 1 || end != 8 {
		t.Errorf("expected (1,8), got (%d,%d)", start, end)
	}

	// Inverted ranges collapse to their start.
	start, end = pc.RangeToByteOffsets(Range{
		Start: Position{Line: 1, Character: 0},
		End:   Position{Line: 0, Character: 0},
	})
	if start != 6 || end != 6 {
		t.Errorf("expected (6,6), got (%d,%d)", start, end)
	}
}

func TestEntireContentRange(t *testing.T) {
	tests := []struct {
		content string
		want    Range
	}{
		{"", Range{}},
		{"abc", Range{End: Position{Line: 0, Character: 3}}},
		{"a\nb", Range{End: Position{Line: 1, Character: 1}}},
		{"a\n", Range{End: Position{Line: 1, Character: 0}}},
	}
	for _, tt := range tests {
		if got := EntireContentRange(tt.content); got != tt.want {
			t.Errorf("EntireContentRange(%q) = %+v, want %+v", tt.content, got, tt.want)
		}
	}
}

func TestComparePositions(t *testing.T) {
	tests := []struct {
		a, b Position
		want int
	}{
		{Position{0, 0}, Position{0, 0}, 0},
		{Position{0, 1}, Position{0, 2}, -1},
		{Position{1, 0}, Position{0, 9}, 1},
		{Position{2, 3}, Position{2, 1}, 1},
	}
	for _, tt := range tests {
		if got := ComparePositions(tt.a, tt.b); got != tt.want {
			t.Errorf("ComparePositions(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if !IsPositionBefore(Position{0, 1}, Position{1, 0}) {
		t.Error("expected (0,1) before (1,0)")
	}
}

func TestIsPositionInRange(t *testing.T) {
	rng := Range{Start: Position{1, 2}, End: Position{1, 6}}

	tests := []struct {
		pos  Position
		want bool
	}{
		{Position{1, 2}, true},
		{Position{1, 4}, true},
		{Position{1, 6}, true},
		{Position{1, 7}, false},
		{Position{0, 4}, false},
	}
	for _, tt := range tests {
		if got := IsPositionInRange(tt.pos, rng); got != tt.want {
			t.Errorf("IsPositionInRange(%v) = %v, want %v", tt.pos, got, tt.want)
		}
	}

	point := PointRange(Position{3, 3})
	if !IsPositionInRange(Position{3, 3}, point) {
		t.Error("zero-width range should contain its own position")
	}
	if IsPositionInRange(Position{3, 4}, point) {
		t.Error("zero-width range should not contain neighbours")
	}
}

func TestPositionConverter_CRLF(t *testing.T) {
	pc := NewPositionConverter("ab\r\ncd\r\n")

	if got := pc.LineContent(0); got != "ab" {
		t.Errorf("LineContent(0) = %q, want %q", got, "ab")
	}
	if got := pc.PositionToByteOffset(Position{Line: 0, Character: 10}); got != 2 {
		t.Errorf("clamped end of line 0 = %d, want 2 (before \\r)", got)
	}
	if got := pc.PositionToByteOffset(Position{Line: 1, Character: 0}); got != 4 {
		t.Errorf("start of line 1 = %d, want 4", got)
	}
	if got := pc.ByteOffsetToPosition(3); got != (Position{Line: 0, Character: 2}) {
		t.Errorf("offset of \\n = %+v, want (0,2)", got)
	}
	if got := pc.EntireRange().End; got != (Position{Line: 2, Character: 0}) {
		t.Errorf("EntireRange end = %+v, want (2,0)", got)
	}
}
