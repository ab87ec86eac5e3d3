package aterm

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/distr1/buildtop/internal/model"
)

// Parse decodes a ".drv" file's ATerm encoding:
//
//	Derive(Outputs, InputDrvs, InputSrcs, System, Builder, Args, Env)
//
// where Outputs is a list of 4-tuples (name, path, hashAlgo, hash),
// InputDrvs is a list of 2-tuples (drvPath, [outputName...]), and the
// remaining fields are carried only far enough to skip past them — the
// daemon only needs outputs and input_drvs.
func Parse(contents []byte) (*Derivation, error) {
	p := &parser{buf: contents}
	if !p.consumeLiteral("Derive(") {
		return nil, xerrors.New("aterm: missing \"Derive(\" prefix")
	}

	outputs, err := parseList(p, p.parseOutputEntry)
	if err != nil {
		return nil, xerrors.Errorf("outputs: %w", err)
	}
	if err := p.consumeByte(','); err != nil {
		return nil, err
	}

	inputDrvs, err := parseList(p, p.parseInputDrvEntry)
	if err != nil {
		return nil, xerrors.Errorf("inputDrvs: %w", err)
	}
	if err := p.consumeByte(','); err != nil {
		return nil, err
	}

	// InputSrcs: list of strings, not needed beyond skipping it.
	if _, err := parseList(p, p.parseString); err != nil {
		return nil, xerrors.Errorf("inputSrcs: %w", err)
	}
	if err := p.consumeByte(','); err != nil {
		return nil, err
	}

	system, err := p.parseString()
	if err != nil {
		return nil, xerrors.Errorf("system: %w", err)
	}
	// Builder, Args, Env follow but the daemon never needs them.

	drv := &Derivation{
		System:    system,
		InputDrvs: map[model.Drv][]string{},
		Outputs:   map[string]Output{},
	}
	for _, o := range outputs {
		drv.Outputs[o.name] = o.out
	}
	for _, e := range inputDrvs {
		drv.InputDrvs[e.drv] = e.names
	}
	return drv, nil
}

type outputEntry struct {
	name string
	out  Output
}

type inputDrvEntry struct {
	drv   model.Drv
	names []string
}

type parser struct {
	buf []byte
	pos int
}

func (p *parser) consumeLiteral(s string) bool {
	if p.pos+len(s) > len(p.buf) {
		return false
	}
	if string(p.buf[p.pos:p.pos+len(s)]) != s {
		return false
	}
	p.pos += len(s)
	return true
}

func (p *parser) consumeByte(b byte) error {
	if p.pos >= len(p.buf) || p.buf[p.pos] != b {
		return xerrors.Errorf("aterm: expected %q at offset %d", b, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.buf) {
		return 0, false
	}
	return p.buf[p.pos], true
}

// parseString reads a double-quoted, backslash-escaped ATerm string.
func (p *parser) parseString() (string, error) {
	if err := p.consumeByte('"'); err != nil {
		return "", err
	}
	var out []byte
	for {
		if p.pos >= len(p.buf) {
			return "", xerrors.New("aterm: unterminated string")
		}
		c := p.buf[p.pos]
		if c == '"' {
			p.pos++
			return string(out), nil
		}
		if c == '\\' {
			p.pos++
			if p.pos >= len(p.buf) {
				return "", xerrors.New("aterm: dangling escape at end of string")
			}
			switch e := p.buf[p.pos]; e {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			default:
				out = append(out, e)
			}
			p.pos++
			continue
		}
		out = append(out, c)
		p.pos++
	}
}

// parseList reads "[e1,e2,...]" (or "[]"), calling parseEntry for each
// element.
func parseList[T any](p *parser, parseEntry func() (T, error)) ([]T, error) {
	if err := p.consumeByte('['); err != nil {
		return nil, err
	}
	var result []T
	if b, ok := p.peek(); ok && b == ']' {
		p.pos++
		return result, nil
	}
	for {
		v, err := parseEntry()
		if err != nil {
			return nil, err
		}
		result = append(result, v)
		b, ok := p.peek()
		if !ok {
			return nil, xerrors.New("aterm: unterminated list")
		}
		if b == ',' {
			p.pos++
			continue
		}
		if b == ']' {
			p.pos++
			break
		}
		return nil, xerrors.Errorf("aterm: unexpected byte %q in list", b)
	}
	return result, nil
}

func (p *parser) parseOutputEntry() (outputEntry, error) {
	if err := p.consumeByte('('); err != nil {
		return outputEntry{}, err
	}
	name, err := p.parseString()
	if err != nil {
		return outputEntry{}, err
	}
	if err := p.consumeByte(','); err != nil {
		return outputEntry{}, err
	}
	path, err := p.parseString()
	if err != nil {
		return outputEntry{}, err
	}
	if err := p.consumeByte(','); err != nil {
		return outputEntry{}, err
	}
	if _, err := p.parseString(); err != nil { // hash algo
		return outputEntry{}, err
	}
	if err := p.consumeByte(','); err != nil {
		return outputEntry{}, err
	}
	if _, err := p.parseString(); err != nil { // hash
		return outputEntry{}, err
	}
	if err := p.consumeByte(')'); err != nil {
		return outputEntry{}, err
	}
	return outputEntry{name: name, out: Output{Path: path}}, nil
}

func (p *parser) parseInputDrvEntry() (inputDrvEntry, error) {
	if err := p.consumeByte('('); err != nil {
		return inputDrvEntry{}, err
	}
	path, err := p.parseString()
	if err != nil {
		return inputDrvEntry{}, err
	}
	if err := p.consumeByte(','); err != nil {
		return inputDrvEntry{}, err
	}
	names, err := parseList(p, p.parseString)
	if err != nil {
		return inputDrvEntry{}, err
	}
	if err := p.consumeByte(')'); err != nil {
		return inputDrvEntry{}, err
	}

	dir := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		dir = path[:idx]
	}
	drv, storeOut, isDrv, parseErr := model.ParseStorePath(dir, path)
	if parseErr != nil {
		return inputDrvEntry{}, xerrors.Errorf("aterm: input drv path %q: %w", path, parseErr)
	}
	if !isDrv {
		return inputDrvEntry{}, xerrors.Errorf("aterm: input %q (%v) is not a .drv path", path, storeOut)
	}
	return inputDrvEntry{drv: drv, names: names}, nil
}
