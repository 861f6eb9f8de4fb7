package kernel

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Value is one element of a text kernel variable.
type Value struct {
	Str      string
	Num      float64
	IsString bool
}

// assignment is one "NAME = values" or "NAME += values" statement.
type assignment struct {
	name   string
	append bool
	values []Value
}

const (
	beginData = `\begindata`
	beginText = `\begintext`
)

// parseTextKernel extracts the assignments found in the data blocks of a
// KPL text kernel.
func parseTextKernel(r io.Reader) ([]assignment, error) {
	var data strings.Builder
	inData := false
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch strings.TrimSpace(line) {
		case beginData:
			inData = true
			continue
		case beginText:
			inData = false
			continue
		}
		if inData {
			data.WriteString(line)
			data.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return parseAssignments(data.String())
}

type kplLexer struct {
	src  string
	pos  int
	line int
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokAssign
	tokAppend
	tokOpen
	tokClose
	tokString
	tokNumber
	tokDate
)

type token struct {
	kind tokenKind
	text string
	line int
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' }

func (l *kplLexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		if l.src[l.pos] == '\n' {
			l.line++
		}
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '=':
		l.pos++
		return token{kind: tokAssign, text: "=", line: l.line}, nil
	case c == '+' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=':
		l.pos += 2
		return token{kind: tokAppend, text: "+=", line: l.line}, nil
	case c == '(':
		l.pos++
		return token{kind: tokOpen, text: "(", line: l.line}, nil
	case c == ')':
		l.pos++
		return token{kind: tokClose, text: ")", line: l.line}, nil
	case c == '\'':
		return l.lexString()
	case c == '@':
		start := l.pos + 1
		l.pos = start
		for l.pos < len(l.src) && !isSpace(l.src[l.pos]) && l.src[l.pos] != ')' {
			l.pos++
		}
		return token{kind: tokDate, text: l.src[start:l.pos], line: l.line}, nil
	}
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isSpace(c) || c == '=' || c == '(' || c == ')' || c == '\'' {
			break
		}
		if c == '+' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			break
		}
		l.pos++
	}
	text := l.src[start:l.pos]
	if _, err := parseKPLNumber(text); err == nil {
		return token{kind: tokNumber, text: text, line: l.line}, nil
	}
	return token{kind: tokName, text: text, line: l.line}, nil
}

func (l *kplLexer) lexString() (token, error) {
	startLine := l.line
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			return token{}, fmt.Errorf("line %d: unterminated string", startLine+1)
		}
		if c == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokString, text: b.String(), line: startLine}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("line %d: unterminated string", startLine+1)
}

func parseKPLNumber(text string) (float64, error) {
	if text == "" || !strings.ContainsAny(text[:1], "0123456789+-.") {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	s := strings.NewReplacer("D", "E", "d", "e").Replace(text)
	return strconv.ParseFloat(s, 64)
}

func parseAssignments(src string) ([]assignment, error) {
	lex := &kplLexer{src: src}
	var out []assignment
	for {
		tok, err := lex.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return out, nil
		}
		if tok.kind != tokName {
			return nil, fmt.Errorf("line %d: expected variable name, got %q", tok.line+1, tok.text)
		}
		a := assignment{name: tok.text}

		op, err := lex.next()
		if err != nil {
			return nil, err
		}
		switch op.kind {
		case tokAssign:
		case tokAppend:
			a.append = true
		default:
			return nil, fmt.Errorf("line %d: expected '=' or '+=' after %s", op.line+1, a.name)
		}

		first, err := lex.next()
		if err != nil {
			return nil, err
		}
		if first.kind == tokOpen {
			for {
				v, err := lex.next()
				if err != nil {
					return nil, err
				}
				if v.kind == tokClose {
					break
				}
				if v.kind == tokEOF {
					return nil, fmt.Errorf("%s: unterminated value list", a.name)
				}
				val, err := tokenValue(v)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", a.name, err)
				}
				a.values = append(a.values, val)
			}
		} else {
			val, err := tokenValue(first)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.name, err)
			}
			a.values = append(a.values, val)
		}
		out = append(out, a)
	}
}

func tokenValue(t token) (Value, error) {
	switch t.kind {
	case tokString:
		return Value{Str: t.text, IsString: true}, nil
	case tokNumber:
		n, err := parseKPLNumber(t.text)
		if err != nil {
			return Value{}, err
		}
		return Value{Num: n}, nil
	case tokDate:
		sec, err := parseCalendar(t.text)
		if err != nil {
			return Value{}, fmt.Errorf("line %d: bad date @%s: %w", t.line+1, t.text, err)
		}
		return Value{Num: sec}, nil
	default:
		return Value{}, fmt.Errorf("line %d: unexpected token %q", t.line+1, t.text)
	}
}

var monthNames = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March, "APR": time.April,
	"MAY": time.May, "JUN": time.June, "JUL": time.July, "AUG": time.August,
	"SEP": time.September, "OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// parseCalendar parses a UTC calendar string and returns seconds past
// J2000 (2000-01-01T12:00:00) on a uniform day scale, ignoring leap seconds.
// Accepted forms are "YYYY-MM-DD[THH:MM:SS[.fff]]" and
// "YYYY-MON-DD[ HH:MM:SS[.fff]]", with "T", "/", "-" or a space separating
// date and time. The seconds field may be 60 during a leap second.
func parseCalendar(s string) (float64, error) {
	days, sec, err := splitCalendar(s)
	if err != nil {
		return 0, err
	}
	return days*86400 + sec, nil
}

// splitCalendar returns the day number (days past J2000 noon, at midnight of
// the given date) and the seconds into that day.
func splitCalendar(s string) (float64, float64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, 0, fmt.Errorf("empty time string")
	}
	first := strings.IndexByte(s, '-')
	if first <= 0 {
		return 0, 0, fmt.Errorf("unrecognised date %q", s)
	}
	dash2 := strings.IndexByte(s[first+1:], '-')
	if dash2 < 0 {
		return 0, 0, fmt.Errorf("unrecognised date %q", s)
	}
	end := first + 1 + dash2 + 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	datePart := s[:end]
	timePart := strings.TrimSpace(strings.TrimLeft(s[end:], "T/ -"))
	fields := strings.Split(datePart, "-")
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("unrecognised date %q", datePart)
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad year %q", fields[0])
	}
	var month time.Month
	if m, ok := monthNames[fields[1]]; ok {
		month = m
	} else {
		mi, err := strconv.Atoi(fields[1])
		if err != nil || mi < 1 || mi > 12 {
			return 0, 0, fmt.Errorf("bad month %q", fields[1])
		}
		month = time.Month(mi)
	}
	day, err := strconv.Atoi(fields[2])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, fmt.Errorf("bad day %q", fields[2])
	}

	var hour, minute int
	var second float64
	if timePart != "" {
		hms := strings.Split(timePart, ":")
		if len(hms) < 2 || len(hms) > 3 {
			return 0, 0, fmt.Errorf("bad time of day %q", timePart)
		}
		if hour, err = strconv.Atoi(hms[0]); err != nil || hour < 0 || hour > 23 {
			return 0, 0, fmt.Errorf("bad hour %q", hms[0])
		}
		if minute, err = strconv.Atoi(hms[1]); err != nil || minute < 0 || minute > 59 {
			return 0, 0, fmt.Errorf("bad minute %q", hms[1])
		}
		if len(hms) == 3 {
			if second, err = strconv.ParseFloat(hms[2], 64); err != nil || second < 0 || second >= 61 {
				return 0, 0, fmt.Errorf("bad second %q", hms[2])
			}
		}
	}

	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if midnight.Day() != day {
		return 0, 0, fmt.Errorf("day %d out of range for %s %d", day, month, year)
	}
	days := float64(midnight.Unix()-j2000Unix) / 86400
	return days, float64(hour*3600+minute*60) + second, nil
}

// j2000Unix is 2000-01-01T12:00:00Z as a Unix timestamp.
const j2000Unix = 946728000
