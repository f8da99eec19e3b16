// Package issuebody is the Parser/Sanitizer collaborator for external
// issue bodies (CORE SPEC §1): it turns an externally-authored markdown
// instruction body, which may carry untrusted raw HTML, into plain text
// safe to embed in an agent prompt.
//
// The goldmark-AST-walk shape is adapted from the teacher's
// internal/parser/markdown.go (which walks a plan file's AST to extract
// task sections); here the walk instead flattens prose to plain text and
// drops HTML block/inline nodes outright rather than interpreting them,
// since an issue body is untrusted input and never carries task directives
// the way a plan file does.
package issuebody

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Parser sanitizes and flattens an externally-authored instruction body.
type Parser struct {
	markdown goldmark.Markdown
}

// New returns a Parser using goldmark's default (CommonMark) settings.
func New() *Parser {
	return &Parser{markdown: goldmark.New()}
}

// Sanitize parses raw as markdown and renders a plain-text instruction
// body. HTML blocks, inline raw HTML, and autolinks' angle-bracket markup
// are dropped rather than passed through; everything else is flattened to
// plain prose with paragraph/heading/list-item boundaries preserved as
// blank lines.
func (p *Parser) Sanitize(raw string) (string, error) {
	source := []byte(raw)
	doc := p.markdown.Parser().Parse(text.NewReader(source))

	var out strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote,
				*ast.FencedCodeBlock, *ast.CodeBlock:
				out.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			out.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteByte('\n')
			}
		case *ast.AutoLink:
			out.Write(node.Value(source))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			writeLines(&out, node.Lines(), source)
		case *ast.CodeBlock:
			writeLines(&out, node.Lines(), source)
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("issuebody: walk: %w", err)
	}

	return collapseBlankLines(out.String()), nil
}

func writeLines(out *strings.Builder, lines *text.Segments, source []byte) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out.Write(seg.Value(source))
	}
}

// collapseBlankLines trims trailing whitespace per line and collapses runs
// of 3+ blank lines (left by nested block boundaries) down to one.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var kept []string
	blankRun := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		kept = append(kept, trimmed)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
