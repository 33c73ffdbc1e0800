package llsd

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxDepth bounds map/array nesting accepted by Parse.
const MaxDepth = 256

// ParseError reports malformed notation and the byte offset where parsing stopped.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llsd: %s at byte %d", e.Msg, e.Offset)
}

type parser struct {
	buf []byte
	pos int
}

// Parse decodes one notation value. Trailing whitespace and NUL padding are
// accepted; any other trailing data is an error.
func Parse(b []byte) (any, error) {
	p := &parser{buf: b}
	p.skipSpace()
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.buf) && (isSpace(p.buf[p.pos]) || p.buf[p.pos] == 0) {
		p.pos++
	}
	if p.pos != len(p.buf) {
		return nil, p.errorf("trailing data %q", p.peekN(16))
	}
	return v, nil
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.buf)
}

func (p *parser) peekN(n int) string {
	end := p.pos + n
	if end > len(p.buf) {
		end = len(p.buf)
	}
	return string(p.buf[p.pos:end])
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(string(p.buf[p.pos:]), s)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.buf) && isSpace(p.buf[p.pos]) {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	if p.eof() {
		return p.errorf("unexpected end of input, want %q", c)
	}
	if p.buf[p.pos] != c {
		return p.errorf("unexpected %q, want %q", p.buf[p.pos], c)
	}
	p.pos++
	return nil
}

func (p *parser) value(depth int) (any, error) {
	if depth > MaxDepth {
		return nil, p.errorf("nesting deeper than %d", MaxDepth)
	}
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.buf[p.pos]; c {
	case '{':
		return p.parseMap(depth)
	case '[':
		return p.parseArray(depth)
	case '!':
		p.pos++
		return nil, nil
	case '0':
		p.pos++
		return false, nil
	case '1':
		p.pos++
		return true, nil
	case 't', 'T':
		return true, p.boolWord("true", "TRUE")
	case 'f', 'F':
		return false, p.boolWord("false", "FALSE")
	case 'i':
		p.pos++
		return p.parseInteger()
	case 'r':
		p.pos++
		return p.parseReal()
	case 'u':
		p.pos++
		return p.parseUUID()
	case '\'', '"':
		return p.quoted()
	case 's':
		p.pos++
		raw, err := p.sized()
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case 'l':
		p.pos++
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		return URI(s), nil
	case 'd':
		p.pos++
		return p.parseDate()
	case 'b':
		p.pos++
		return p.parseBinary()
	default:
		return nil, p.errorf("unexpected %q", c)
	}
}

func (p *parser) boolWord(lower, upper string) error {
	switch {
	case p.hasPrefix(lower):
		p.pos += len(lower)
	case p.hasPrefix(upper):
		p.pos += len(upper)
	default:
		p.pos++
	}
	return nil
}

func (p *parser) scan(accept string) string {
	start := p.pos
	for p.pos < len(p.buf) && strings.IndexByte(accept, p.buf[p.pos]) >= 0 {
		p.pos++
	}
	return string(p.buf[start:p.pos])
}

func (p *parser) parseInteger() (any, error) {
	start := p.pos
	s := p.scan("+-0123456789")
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		p.pos = start
		return nil, p.errorf("invalid integer %q", s)
	}
	return int(n), nil
}

func (p *parser) parseReal() (any, error) {
	start := p.pos
	s := p.scan("+-.0123456789eEnNaAiIfF")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.pos = start
		return nil, p.errorf("invalid real %q", s)
	}
	return f, nil
}

func (p *parser) parseUUID() (any, error) {
	const uuidLen = 36
	if p.pos+uuidLen > len(p.buf) {
		return nil, p.errorf("short uuid")
	}
	id, err := uuid.Parse(string(p.buf[p.pos : p.pos+uuidLen]))
	if err != nil {
		return nil, p.errorf("invalid uuid %q", p.peekN(uuidLen))
	}
	p.pos += uuidLen
	return id, nil
}

func (p *parser) parseDate() (any, error) {
	s, err := p.quoted()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, p.errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func (p *parser) parseBinary() (any, error) {
	switch {
	case p.hasPrefix("64"):
		p.pos += 2
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		out, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
		if err != nil {
			return nil, p.errorf("invalid base64 binary")
		}
		return out, nil
	case p.hasPrefix("16"):
		p.pos += 2
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		out, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
		if err != nil {
			return nil, p.errorf("invalid base16 binary")
		}
		return out, nil
	case p.hasPrefix("("):
		return p.sized()
	default:
		return nil, p.errorf("unknown binary encoding %q", p.peekN(3))
	}
}

// sized reads (n)"<n raw bytes>" as used by s(...) and b(...).
func (p *parser) sized() ([]byte, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	digits := p.scan("0123456789")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil, p.errorf("invalid size %q", digits)
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, p.errorf("unexpected end of input, want quote")
	}
	q := p.buf[p.pos]
	if q != '"' && q != '\'' {
		return nil, p.errorf("unexpected %q, want quote", q)
	}
	p.pos++
	if n > len(p.buf)-p.pos {
		return nil, p.errorf("sized value of %d bytes exceeds input", n)
	}
	out := make([]byte, n)
	copy(out, p.buf[p.pos:p.pos+n])
	p.pos += n
	if err := p.expect(q); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) quoted() (string, error) {
	if p.eof() {
		return "", p.errorf("unexpected end of input, want quote")
	}
	q := p.buf[p.pos]
	if q != '"' && q != '\'' {
		return "", p.errorf("unexpected %q, want quote", q)
	}
	p.pos++
	var sb strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated string")
		}
		c := p.buf[p.pos]
		p.pos++
		if c == q {
			return sb.String(), nil
		}
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if p.eof() {
			return "", p.errorf("unterminated escape")
		}
		e := p.buf[p.pos]
		p.pos++
		switch e {
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'v':
			sb.WriteByte('\v')
		case 'x':
			if p.pos+2 > len(p.buf) {
				return "", p.errorf("short hex escape")
			}
			b, err := hex.DecodeString(string(p.buf[p.pos : p.pos+2]))
			if err != nil {
				return "", p.errorf("invalid hex escape %q", p.peekN(2))
			}
			sb.WriteByte(b[0])
			p.pos += 2
		default:
			sb.WriteByte(e)
		}
	}
}

func (p *parser) parseMap(depth int) (any, error) {
	p.pos++
	out := Map{}
	p.skipSpace()
	if !p.eof() && p.buf[p.pos] == '}' {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		key, err := p.mapKey()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		out[key] = v
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated map")
		}
		switch p.buf[p.pos] {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("unexpected %q in map", p.buf[p.pos])
		}
	}
}

func (p *parser) mapKey() (string, error) {
	if p.eof() {
		return "", p.errorf("unterminated map")
	}
	if p.buf[p.pos] == 's' {
		p.pos++
		raw, err := p.sized()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return p.quoted()
}

func (p *parser) parseArray(depth int) (any, error) {
	p.pos++
	out := Array{}
	p.skipSpace()
	if !p.eof() && p.buf[p.pos] == ']' {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated array")
		}
		switch p.buf[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("unexpected %q in array", p.buf[p.pos])
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
