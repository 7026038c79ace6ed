// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Parser turns archive files back into typed event sequences. Parsing is
// pure: no writes, no global state beyond metrics counters.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse opens the partition at path and returns a lazy Scanner over its
// events. The sequence is restartable by calling Parse again. The caller
// must Close the scanner.
func (p *Parser) Parse(t EntityType, path string) (*Scanner, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	f, err := os.Open(path) //nolint:gosec // G304: path comes from archive enumeration
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	return &Scanner{
		entity:   t,
		path:     path,
		f:        f,
		br:       bufio.NewScanner(f),
		inEvents: !t.PerInstance(),
	}, nil
}

// ParseDocument reads a complete per-instance file into a Document. It
// reports malformed header or event lines as UnparsedLine findings
// alongside the document rather than failing the whole file.
func (p *Parser) ParseDocument(t EntityType, path string) (*Document, []UnparsedLine, error) {
	if !t.PerInstance() {
		return nil, nil, fmt.Errorf("entity type %q has no per-instance documents", t)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from archive enumeration
	if err != nil {
		return nil, nil, &IOError{Op: "read", Path: path, Err: err}
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, nil, &ParseError{Path: path, Line: 1, Err: fmt.Errorf("missing submission line")}
	}

	doc := &Document{Submission: lines[0]}
	var unparsed []UnparsedLine

	// Header: Key: value lines until the first blank line.
	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			i++
			break
		}
		m := metaLineRe.FindStringSubmatch(line)
		if m == nil {
			unparsed = append(unparsed, newUnparsedLine(path, i+1, line, "malformed header line"))
			continue
		}
		doc.Meta = append(doc.Meta, MetaField{Key: m[1], Value: m[2]})
	}
	if doc.ID() == "" {
		return nil, unparsed, &ParseError{Path: path, Line: 1, Err: fmt.Errorf("missing Id header")}
	}

	// Body block.
	if i < len(lines) && lines[i] == bodyMarker {
		i++
		var body []string
		for ; i < len(lines); i++ {
			if lines[i] == eventsMarker {
				break
			}
			body = append(body, lines[i])
		}
		doc.Body = strings.TrimRight(strings.Join(body, "\n"), "\n")
	}

	// Event section.
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == eventsMarker || strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := parseEventLine(t, line, doc.ID())
		if err != nil {
			unparsed = append(unparsed, newUnparsedLine(path, i+1, line, err.Error()))
			continue
		}
		doc.Events = append(doc.Events, ev)
	}

	return doc, unparsed, nil
}

// Scanner lazily yields typed events from one partition file.
//
//	sc, err := parser.Parse(archive.EntitySession, path)
//	if err != nil { ... }
//	defer sc.Close()
//	for sc.Next() {
//	    ev := sc.Event()
//	    ...
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	entity EntityType
	path   string
	f      *os.File
	br     *bufio.Scanner

	// impliedID is the Id header of a per-instance file, captured while
	// skipping the header so event lines inherit it.
	impliedID string
	inEvents  bool

	lineNo   int
	ev       Event
	unparsed []UnparsedLine
	err      error
}

// Next advances to the next parseable event. Malformed lines are recorded
// as UnparsedLine findings and skipped.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	for s.br.Scan() {
		s.lineNo++
		line := s.br.Text()

		if !s.inEvents {
			if m := metaLineRe.FindStringSubmatch(line); m != nil && m[1] == "Id" {
				s.impliedID = m[2]
			}
			if line == eventsMarker {
				s.inEvents = true
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		ev, err := parseEventLine(s.entity, line, s.impliedID)
		if err != nil {
			s.unparsed = append(s.unparsed, newUnparsedLine(s.path, s.lineNo, line, err.Error()))
			continue
		}
		s.ev = ev
		return true
	}
	if err := s.br.Err(); err != nil {
		s.err = &IOError{Op: "read", Path: s.path, Err: err}
	}
	return false
}

// Event returns the event produced by the last successful Next.
func (s *Scanner) Event() Event { return s.ev }

// Unparsed returns the UnparsedLine findings accumulated so far.
func (s *Scanner) Unparsed() []UnparsedLine { return s.unparsed }

// Err returns the first I/O error encountered, if any.
func (s *Scanner) Err() error { return s.err }

// Close releases the underlying file.
func (s *Scanner) Close() error { return s.f.Close() }

// newUnparsedLine builds the finding and bumps the error counter.
func newUnparsedLine(path string, lineNo int, text, reason string) UnparsedLine {
	recordUnparsedLine()
	return UnparsedLine{Path: path, LineNo: lineNo, Text: text, Reason: reason}
}
