package logger

import (
	"io"
	"regexp"
)

// Redactor strips credentials from log output. Provider error text is logged
// verbatim and can echo the request's API key back.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Google API keys
			regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),

			// Keys passed as URL parameters
			regexp.MustCompile(`[?&]key=[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Generic credential fields
			regexp.MustCompile(`api[_-]?key["\s:=]+[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts credentials from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer so everything written through it is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
