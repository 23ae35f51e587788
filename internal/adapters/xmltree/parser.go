// Package xmltree loads XML documents into navigable trees.
package xmltree

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/antchfx/xmlquery"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, path string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseBytes(path, content)
}

// ParseBytes parses an in-memory document. path is kept for reporting only.
func ParseBytes(path string, content []byte) (domain.Document, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return domain.Document{}, fmt.Errorf("%w: %s is empty", domain.ErrDocumentParse, path)
	}
	root, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %s: %w", domain.ErrDocumentParse, path, err)
	}
	if xmlquery.FindOne(root, "/*") == nil {
		return domain.Document{}, fmt.Errorf("%w: %s has no root element", domain.ErrDocumentParse, path)
	}
	return domain.Document{Path: path, Content: content, Root: root}, nil
}
