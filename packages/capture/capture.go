package capture

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/respec/packages/core/parser"
	"github.com/abdul-hamid-achik/respec/packages/http"
)

// ErrNotFound is returned when the response has nothing at a capture's source.
var ErrNotFound = errors.New("capture not found")

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

type Extractor struct {
	response *http.Response
	body     string
	hasBody  bool
}

func NewExtractor(resp *http.Response) *Extractor {
	body, ok := resp.BodyText()
	return &Extractor{response: resp, body: body, hasBody: ok}
}

// Extract returns the text of one capture.
func (e *Extractor) Extract(c *parser.Capture) (string, error) {
	switch c.Source {
	case parser.CaptureStatus:
		return strconv.Itoa(e.response.Status()), nil
	case parser.CaptureHeader:
		if v, ok := e.response.HeaderValue(c.Path); ok {
			return v, nil
		}
	case parser.CaptureBody:
		if e.hasBody {
			return e.body, nil
		}
	case parser.CaptureJSON:
		if e.hasBody && gjson.Valid(e.body) {
			path := strings.TrimPrefix(bracketIndex.ReplaceAllString(c.Path, ".$1"), ".")
			if res := gjson.Get(e.body, path); res.Exists() {
				return res.String(), nil
			}
		}
	case parser.CaptureChunk:
		chunks, ok := e.response.BodyChunks()
		if i, err := strconv.Atoi(c.Path); ok && err == nil && i >= 0 && i < len(chunks) {
			return chunks[i], nil
		}
	default:
		return "", fmt.Errorf("capture %q: unknown source %q", c.Name, c.Source)
	}
	return "", fmt.Errorf("capture %q from %s: %w", c.Name, describe(c), ErrNotFound)
}

// ExtractAll runs every capture. Values found are returned even when others
// fail; the failures are joined.
func ExtractAll(resp *http.Response, captures []*parser.Capture) (map[string]string, error) {
	extractor := NewExtractor(resp)
	results := make(map[string]string, len(captures))

	var errs []error
	for _, c := range captures {
		value, err := extractor.Extract(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[c.Name] = value
	}
	return results, errors.Join(errs...)
}

func describe(c *parser.Capture) string {
	if c.Path == "" {
		return string(c.Source)
	}
	return string(c.Source) + "." + c.Path
}
