// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"fmt"
	"regexp"
	"strings"
)

// File grammar. Per-instance files:
//
//	Submitted by alice on 12 March 2026 at 14:05
//	Id: p-1042
//	Name: Alice
//
//	Body:
//	Please pray for my grandmother's recovery.
//
//	Events:
//	12 March 2026 at 14:05 - alice submitted
//	13 March 2026 at 09:30 - bob prayed
//
// Month-bucketed files are a bare event section, one line per event, with
// the affected entity id as the third token:
//
//	2 August 2026 at 15:04 - system registered u-77 Alice via invite
//
// The event-line separator between timestamp and payload is " - "; the
// timestamp itself never contains that sequence in any declared format.

const (
	bodyMarker   = "Body:"
	eventsMarker = "Events:"
	eventSep     = " - "
)

// metaLineRe matches a "Key: value" header line.
var metaLineRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _-]*): (.*)$`)

// renderEventLine renders ev as one archive line. Per-instance files imply
// the entity id from the file header, so the target token is omitted;
// bucketed files always carry it.
func renderEventLine(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.String())
	b.WriteString(eventSep)
	b.WriteString(ev.Actor)
	b.WriteByte(' ')
	b.WriteString(ev.Action)
	if !ev.Entity.PerInstance() {
		b.WriteByte(' ')
		b.WriteString(ev.EntityID)
	}
	if ev.Detail != "" {
		b.WriteByte(' ')
		b.WriteString(ev.Detail)
	}
	return b.String()
}

// parseEventLine parses one event line according to the entity type's
// grammar. impliedID is the file's Id header for per-instance types.
func parseEventLine(t EntityType, line, impliedID string) (Event, error) {
	sep := strings.Index(line, eventSep)
	if sep < 0 {
		return Event{}, fmt.Errorf("no %q separator", eventSep)
	}

	ts, err := ParseArchiveTime(line[:sep])
	if err != nil {
		return Event{}, err
	}

	fields := strings.Fields(line[sep+len(eventSep):])
	ev := Event{Entity: t, Timestamp: ts}

	if t.PerInstance() {
		if len(fields) < 2 {
			return Event{}, fmt.Errorf("want at least actor and verb, got %d fields", len(fields))
		}
		ev.Actor = fields[0]
		ev.Action = fields[1]
		ev.Detail = strings.Join(fields[2:], " ")
		ev.EntityID = impliedID
		return ev, nil
	}

	if len(fields) < 3 {
		return Event{}, fmt.Errorf("want actor, verb and target, got %d fields", len(fields))
	}
	ev.Actor = fields[0]
	ev.Action = fields[1]
	ev.EntityID = fields[2]
	ev.Detail = strings.Join(fields[3:], " ")
	return ev, nil
}

// renderDocument renders a per-instance document to its full file content.
func renderDocument(d *Document) string {
	var b strings.Builder
	b.WriteString(d.Submission)
	b.WriteByte('\n')
	for _, f := range d.Meta {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(bodyMarker)
	b.WriteByte('\n')
	if d.Body != "" {
		b.WriteString(strings.TrimRight(d.Body, "\n"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(eventsMarker)
	b.WriteByte('\n')
	for _, ev := range d.Events {
		b.WriteString(renderEventLine(ev))
		b.WriteByte('\n')
	}
	return b.String()
}
