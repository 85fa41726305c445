package services

import (
	"context"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
)

const (
	summarySentences = 3
	summaryMaxRunes  = 480
)

var textTypes = map[string]bool{
	"application/json": true,
	"application/xml":  true,
	"application/csv":  true,
}

// TextProcessor derives an extracted text and a short summary from textual
// originals. Other originals are left alone.
type TextProcessor struct{}

func (TextProcessor) Derive(ctx context.Context, original models.Asset, content []byte) ([]DerivedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isText(original.ContentType) || len(content) == 0 {
		return nil, nil
	}

	text := normalizeText(content)
	if text == "" {
		return nil, nil
	}
	base := strings.TrimSuffix(original.Filename, filepath.Ext(original.Filename))
	return []DerivedFile{
		{
			SourceID:    original.ID,
			Filename:    base + ".extracted.txt",
			Role:        manifest.RoleExtractedText,
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte(text),
		},
		{
			SourceID:    original.ID,
			Filename:    base + ".summary.txt",
			Role:        manifest.RoleSummary,
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte(summarize(text)),
		},
	}, nil
}

func isText(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return strings.HasPrefix(ct, "text/") || textTypes[ct]
}

func normalizeText(content []byte) string {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// summarize keeps the leading sentences of text, cut at a word boundary.
func summarize(text string) string {
	flat := strings.Join(strings.Fields(text), " ")

	var b strings.Builder
	sentences := 0
	for i, r := range flat {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			next := i + utf8.RuneLen(r)
			if next >= len(flat) || flat[next] == ' ' {
				sentences++
				if sentences == summarySentences {
					break
				}
			}
		}
	}

	out := b.String()
	if utf8.RuneCountInString(out) <= summaryMaxRunes {
		return out
	}
	runes := []rune(out)[:summaryMaxRunes]
	cut := string(runes)
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
