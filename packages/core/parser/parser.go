package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
)

type rawFile struct {
	BaseURL   string            `yaml:"base_url"`
	Headers   map[string]string `yaml:"headers"`
	Variables map[string]string `yaml:"variables"`
	WaitFor   *rawWaitFor       `yaml:"wait_for"`
	Checks    []yaml.Node       `yaml:"checks"`
}

type rawWaitFor struct {
	Path     string `yaml:"path"`
	Status   int    `yaml:"status"`
	Timeout  string `yaml:"timeout"`
	Interval string `yaml:"interval"`
}

type rawCheck struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Tags        []string          `yaml:"tags"`
	Method      string            `yaml:"method"`
	Path        string            `yaml:"path"`
	Headers     map[string]string `yaml:"headers"`
	Body        string            `yaml:"body"`
	MaxChunks   int               `yaml:"max_chunks"`
	Timeout     yaml.Node         `yaml:"timeout"`
	Skip        string            `yaml:"skip"`
	Expect      yaml.Node         `yaml:"expect"`
	Capture     yaml.Node         `yaml:"capture"`
}

var patternLiteral = regexp.MustCompile(`^/(.*)/([imsU]*)$`)

func ParseFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(content), path)
}

func Parse(input, filename string) (*File, error) {
	p := &parser{file: filename}
	return p.parse(input)
}

type parser struct {
	file string
}

func (p *parser) parse(input string) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewBufferString(input))
	dec.KnownFields(true)

	var raw rawFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{Path: p.file}, nil
		}
		return nil, p.yamlError(err)
	}

	file := &File{
		Path:      p.file,
		BaseURL:   raw.BaseURL,
		Headers:   raw.Headers,
		Variables: raw.Variables,
	}
	if raw.WaitFor != nil {
		wait, err := p.parseWaitFor(raw.WaitFor)
		if err != nil {
			return nil, err
		}
		file.WaitFor = wait
	}

	names := make(map[string]int)
	for i := range raw.Checks {
		node := &raw.Checks[i]
		check, err := p.parseCheck(node, i)
		if err != nil {
			return nil, err
		}
		if prev, ok := names[check.Name]; ok {
			return nil, p.errorf(node, nil, "duplicate check name %q (first defined on line %d)", check.Name, prev)
		}
		names[check.Name] = check.Line
		file.Checks = append(file.Checks, check)
	}

	return file, nil
}

var checkFields = map[string]bool{
	"name": true, "description": true, "tags": true, "method": true, "path": true,
	"headers": true, "body": true, "max_chunks": true, "timeout": true, "skip": true,
	"expect": true, "capture": true,
}

func (p *parser) parseCheck(node *yaml.Node, index int) (*Check, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.errorf(node, nil, "check %d must be a mapping", index+1)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if key := node.Content[i]; !checkFields[key.Value] {
			return nil, p.errorf(key, nil, "unknown field %q in check %d", key.Value, index+1)
		}
	}

	var raw rawCheck
	if err := node.Decode(&raw); err != nil {
		return nil, p.yamlError(err)
	}

	check := &Check{
		Name:        raw.Name,
		Description: raw.Description,
		Tags:        raw.Tags,
		Method:      strings.ToUpper(raw.Method),
		Path:        raw.Path,
		Headers:     raw.Headers,
		Body:        raw.Body,
		MaxChunks:   raw.MaxChunks,
		Skip:        raw.Skip,
		Line:        node.Line,
	}
	if check.Name == "" {
		check.Name = fmt.Sprintf("check %d", index+1)
	}
	if check.Method == "" {
		check.Method = http.MethodGet
	}
	if check.Path == "" {
		return nil, p.errorf(node, nil, "check %q has no path", check.Name)
	}
	if check.MaxChunks < 0 {
		return nil, p.errorf(node, nil, "check %q: max_chunks must not be negative", check.Name)
	}

	if raw.Timeout.Kind != 0 {
		d, err := parseTimeout(raw.Timeout.Value)
		if err != nil || d < 0 {
			return nil, p.errorf(&raw.Timeout, err, "check %q: invalid timeout %q", check.Name, raw.Timeout.Value)
		}
		check.Timeout = d
	}

	if raw.Expect.Kind != 0 {
		opts, err := p.parseExpect(&raw.Expect)
		if err != nil {
			return nil, err
		}
		check.Expect = opts
	}

	if raw.Capture.Kind != 0 {
		captures, err := p.parseCaptures(&raw.Capture)
		if err != nil {
			return nil, err
		}
		check.Captures = captures
	}

	return check, nil
}

// parseCaptures reads a mapping of variable name to source: status, body,
// header.<name>, json.<path> or chunk.<index>.
func (p *parser) parseCaptures(node *yaml.Node) ([]*Capture, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.errorf(node, nil, "capture must be a mapping")
	}

	var captures []*Capture
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, p.errorf(value, nil, "capture %q must be a scalar", key.Value)
		}

		source, path, _ := strings.Cut(value.Value, ".")
		c := &Capture{Name: key.Value, Source: CaptureSource(source), Path: path}
		switch c.Source {
		case CaptureStatus, CaptureBody:
			if path != "" {
				return nil, p.errorf(value, nil, "capture %q: %s takes no path", c.Name, source)
			}
		case CaptureHeader, CaptureJSON:
			if path == "" {
				return nil, p.errorf(value, nil, "capture %q: %s needs a path", c.Name, source)
			}
		case CaptureChunk:
			if n, err := strconv.Atoi(path); err != nil || n < 0 {
				return nil, p.errorf(value, err, "capture %q: invalid chunk index %q", c.Name, path)
			}
		default:
			return nil, p.errorf(value, nil, "capture %q: unknown source %q", c.Name, source)
		}
		captures = append(captures, c)
	}
	return captures, nil
}

func (p *parser) parseWaitFor(raw *rawWaitFor) (*WaitFor, error) {
	wait := &WaitFor{
		Path:     raw.Path,
		Status:   raw.Status,
		Timeout:  DefaultWaitTimeout,
		Interval: DefaultWaitInterval,
	}
	if wait.Path == "" {
		wait.Path = "/"
	}
	if wait.Status == 0 {
		wait.Status = http.StatusOK
	}
	for _, f := range []struct {
		name  string
		value string
		out   *time.Duration
	}{
		{"timeout", raw.Timeout, &wait.Timeout},
		{"interval", raw.Interval, &wait.Interval},
	} {
		if f.value == "" {
			continue
		}
		d, err := parseTimeout(f.value)
		if err != nil || d <= 0 {
			return nil, &ParseError{File: p.file, Message: fmt.Sprintf("wait_for: invalid %s %q", f.name, f.value), Err: err}
		}
		*f.out = d
	}
	return wait, nil
}

// parseTimeout accepts Go durations ("2s", "500ms") and bare milliseconds.
func parseTimeout(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func (p *parser) parseExpect(node *yaml.Node) (assertions.MatchOptions, error) {
	var opts assertions.MatchOptions
	if node.Kind != yaml.MappingNode {
		return opts, p.errorf(node, nil, "expect must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case "status":
			opts.Status, err = p.scalar(value, assertions.FieldStatus)
		case "body":
			opts.Body, err = p.scalar(value, assertions.FieldBody)
		case "header", "headers":
			opts.Header, err = p.mapping(value, assertions.FieldHeader)
		case "json":
			opts.JSON, err = p.mapping(value, assertions.FieldJSON)
		case "chunks":
			opts.Chunks, err = p.sequence(value)
		default:
			err = p.errorf(key, nil, "unknown expectation %q", key.Value)
		}
		if err != nil {
			return assertions.MatchOptions{}, err
		}
	}
	return opts, nil
}

func (p *parser) mapping(node *yaml.Node, field assertions.Field) (map[string]assertions.Expectation, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.errorf(node, assertions.ErrUnsupportedExpectation, "%s must be a mapping", field)
	}
	out := make(map[string]assertions.Expectation, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		e, err := p.scalar(node.Content[i+1], field)
		if err != nil {
			return nil, err
		}
		out[node.Content[i].Value] = e
	}
	return out, nil
}

func (p *parser) sequence(node *yaml.Node) ([]assertions.Expectation, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, p.errorf(node, assertions.ErrUnsupportedExpectation, "chunks must be a sequence")
	}
	out := make([]assertions.Expectation, len(node.Content))
	for i, item := range node.Content {
		e, err := p.scalar(item, assertions.FieldChunks)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// scalar turns one YAML value into an Expectation. Plain integers are exact
// integers, /.../ strings are patterns, ok and error under status are status
// buckets and every other string is exact. JSON paths also take booleans and
// floats, compared by their text.
func (p *parser) scalar(node *yaml.Node, field assertions.Field) (assertions.Expectation, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return assertions.Absent, p.errorf(node, assertions.ErrUnsupportedExpectation, "%s expectation must be a scalar", field)
	}

	switch node.ShortTag() {
	case "!!null":
		return assertions.Absent, nil
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 0, 64)
		if err != nil {
			return assertions.Absent, p.errorf(node, err, "invalid integer %q", node.Value)
		}
		return assertions.Int(n), nil
	case "!!str":
		return p.text(node, field)
	case "!!bool", "!!float":
		if field == assertions.FieldJSON {
			return assertions.String(node.Value), nil
		}
	}
	return assertions.Absent, p.errorf(node, assertions.ErrUnsupportedExpectation,
		"unsupported %s expectation %s", field, node.Value)
}

func (p *parser) text(node *yaml.Node, field assertions.Field) (assertions.Expectation, error) {
	value := node.Value
	if field == assertions.FieldStatus {
		if e, err := assertions.Status(assertions.StatusBucket(value)); err == nil {
			return e, nil
		}
	}

	if m := patternLiteral.FindStringSubmatch(value); m != nil {
		expr := m[1]
		if m[2] != "" {
			expr = "(?" + m[2] + ")" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return assertions.Absent, p.errorf(node, err, "invalid pattern %s", value)
		}
		return assertions.Pattern(re), nil
	}

	return assertions.String(value), nil
}

func (p *parser) errorf(node *yaml.Node, err error, format string, args ...any) error {
	return &ParseError{
		File:    p.file,
		Line:    node.Line,
		Column:  node.Column,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (p *parser) yamlError(err error) error {
	return &ParseError{File: p.file, Line: 0, Message: err.Error(), Err: err}
}
