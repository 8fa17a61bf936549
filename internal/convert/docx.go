package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

func (c *Converter) docxToHTML(ctx context.Context, data []byte) (string, error) {
	dir, err := c.scratchDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "source.docx"), data, 0o600); err != nil {
		return "", fmt.Errorf("write source docx: %w", err)
	}
	// Media is extracted next to the output and inlined afterwards.
	if err := c.run(ctx, dir, "pandoc", "-f", "docx", "-t", "html5", "--extract-media=.", "-o", "document.html", "source.docx"); err != nil {
		return "", err
	}

	out, err := os.ReadFile(filepath.Join(dir, "document.html"))
	if err != nil {
		return "", fmt.Errorf("read pandoc output: %w", err)
	}
	return InlineImages(string(out), dir)
}
