package lineprotocol

import "fmt"

// Position is a location in the input being decoded.
// Column counts bytes consumed on the current line.
type Position struct {
	Line   int
	Column int
}

func startPosition() Position {
	return Position{Line: 1}
}

// advance records that b has been consumed.
func (p *Position) advance(b byte) {
	if b == newline {
		p.Line++
		p.Column = 0
		return
	}
	p.Column++
}

// back returns the position n bytes earlier on the same line, stopping at
// the first column.
func (p Position) back(n int) Position {
	if n > p.Column {
		p.Column = 0
		return p
	}
	p.Column -= n
	return p
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}
