package parser

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/respec/packages/assertions"
)

const (
	DefaultWaitTimeout  = 10 * time.Second
	DefaultWaitInterval = 200 * time.Millisecond
)

// File is a parsed check file.
// Variables fill {{name}} placeholders in the base URL, paths, headers and
// bodies; placeholders stay unresolved until the run.
type File struct {
	Path      string
	BaseURL   string
	Headers   map[string]string
	Variables map[string]string
	WaitFor   *WaitFor
	Checks    []*Check
}

// WaitFor delays a run until Path answers with Status.
type WaitFor struct {
	Path     string
	Status   int
	Timeout  time.Duration
	Interval time.Duration
}

// Check is one request plus the expectations its response must meet.
type Check struct {
	Name        string
	Description string
	Tags        []string
	Method      string
	Path        string
	Headers     map[string]string
	Body        string
	MaxChunks   int
	Timeout     time.Duration
	Skip        string
	Expect      assertions.MatchOptions
	Captures    []*Capture
	Line        int
}

// CaptureSource is the part of a response a capture reads.
type CaptureSource string

const (
	CaptureStatus CaptureSource = "status"
	CaptureHeader CaptureSource = "header"
	CaptureBody   CaptureSource = "body"
	CaptureJSON   CaptureSource = "json"
	CaptureChunk  CaptureSource = "chunk"
)

// Capture stores part of a check's response as a variable for the checks
// after it. Path is the header name, JSON path or chunk index.
type Capture struct {
	Name   string
	Source CaptureSource
	Path   string
}

// URL joins the file's base URL and the check path. Absolute paths are
// returned as they are.
func (c *Check) URL(baseURL string) string {
	if baseURL == "" || strings.HasPrefix(c.Path, "http://") || strings.HasPrefix(c.Path, "https://") {
		return c.Path
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(c.Path, "/")
}

// HasTag reports whether the check carries tag.
func (c *Check) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return e.File + ":" + strconv.Itoa(e.Line) + ":" + strconv.Itoa(e.Column) + ": " + e.Message
	}
	return "line " + strconv.Itoa(e.Line) + ": " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
