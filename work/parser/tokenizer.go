package parser

import (
	"bufio"
	"io"
	"strings"

	"m3u-catalog/work/logger"
)

// LineKind classifies one trimmed playlist line.
type LineKind int

const (
	LineBlank     LineKind = iota // Empty line or stray text
	LineDirective                 // #EXTINF:
	LineOption                    // #EXTVLCOPT:
	LineLicense                   // #KODIPROP:inputstream.adaptive.license_key=
	LineComment                   // Any other #-prefixed line, including #EXTM3U
	LineURL                       // Line starting with "http"
)

const (
	directivePrefix = "#EXTINF:"
	optionPrefix    = "#EXTVLCOPT:"
	licensePrefix   = "#KODIPROP:inputstream.adaptive.license_key="
	headerPrefix    = "#EXTM3U"
	utf8BOM         = "\uFEFF"

	// Some providers put the whole catalog on very long EXTINF lines.
	maxLineSize = 1024 * 1024
)

func (k LineKind) String() string {
	switch k {
	case LineDirective:
		return "directive"
	case LineOption:
		return "option"
	case LineLicense:
		return "license"
	case LineComment:
		return "comment"
	case LineURL:
		return "url"
	default:
		return "blank"
	}
}

// Line is a tagged playlist line. Text is the trimmed line; Value is the
// part after the recognized prefix for options and license directives.
type Line struct {
	Kind   LineKind
	Text   string
	Value  string
	Number int
}

// Classify tags a single line. It never fails: anything unrecognized that
// is not a comment or URL is treated as blank.
func Classify(raw string) Line {
	text := strings.TrimSpace(strings.TrimPrefix(raw, utf8BOM))
	line := Line{Kind: LineBlank, Text: text}

	switch {
	case text == "":
	case strings.HasPrefix(text, directivePrefix):
		line.Kind = LineDirective
	case strings.HasPrefix(text, licensePrefix):
		line.Kind = LineLicense
		line.Value = strings.TrimSpace(text[len(licensePrefix):])
	case strings.HasPrefix(text, optionPrefix):
		line.Kind = LineOption
		line.Value = strings.TrimSpace(text[len(optionPrefix):])
	case strings.HasPrefix(text, "#"):
		line.Kind = LineComment
	case strings.HasPrefix(text, "http"):
		line.Kind = LineURL
	}

	return line
}

// Tokenize splits raw playlist text into classified lines. A line longer
// than maxLineSize is kept as a blank line so the records around it still
// pair up. The only error it returns comes from the reader itself.
func Tokenize(r io.Reader) ([]Line, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		lines    []Line
		buf      []byte
		overlong bool
		n        int
	)
	for {
		frag, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}

		if !overlong {
			if len(buf)+len(frag) > maxLineSize {
				overlong = true
				buf = buf[:0]
			} else {
				buf = append(buf, frag...)
			}
		}
		if isPrefix {
			continue
		}

		n++
		line := Line{Kind: LineBlank, Number: n}
		if overlong {
			logger.Debug("{parser/tokenizer - Tokenize} line %d exceeds %d bytes, skipped", n, maxLineSize)
		} else {
			line = Classify(string(buf))
			line.Number = n
		}
		lines = append(lines, line)
		buf = buf[:0]
		overlong = false
	}
}

// TokenizeString is Tokenize over an in-memory document.
func TokenizeString(content string) []Line {
	raw := strings.Split(content, "\n")
	lines := make([]Line, 0, len(raw))
	for i, r := range raw {
		line := Classify(r)
		line.Number = i + 1
		lines = append(lines, line)
	}
	return lines
}
