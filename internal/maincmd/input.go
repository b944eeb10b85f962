package maincmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jfd16/mariana-go/abc/abcfile"
)

// LoadMethod reads a textual method container: a code: section of hex
// bytes, optional constant-pool sections, signature lines and try:
// exception entries. The format exists so the middle-end is drivable
// without the out-of-scope binary ABC parser.
func LoadMethod(path string) (*abcfile.Pool, *abcfile.MethodInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	pool := abcfile.NewPool()
	method := &abcfile.MethodInfo{Name: path}
	section := ""

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if idx := strings.IndexByte(text, '#'); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if idx := strings.IndexByte(text, ':'); idx >= 0 {
			section = text[:idx]
			text = strings.TrimSpace(text[idx+1:])
		}
		fields := strings.Fields(text)
		switch section {
		case "code":
			for _, fld := range fields {
				b, perr := strconv.ParseUint(fld, 16, 8)
				if perr != nil {
					return nil, nil, fmt.Errorf("%s:%d: invalid hex byte %q", path, line, fld)
				}
				method.Code = append(method.Code, byte(b))
			}
		case "ints":
			for _, fld := range fields {
				v, perr := strconv.ParseInt(fld, 10, 32)
				if perr != nil {
					return nil, nil, fmt.Errorf("%s:%d: invalid int %q", path, line, fld)
				}
				pool.AddInt(int32(v))
			}
		case "uints":
			for _, fld := range fields {
				v, perr := strconv.ParseUint(fld, 10, 32)
				if perr != nil {
					return nil, nil, fmt.Errorf("%s:%d: invalid uint %q", path, line, fld)
				}
				pool.AddUint(uint32(v))
			}
		case "doubles":
			for _, fld := range fields {
				v, perr := strconv.ParseFloat(fld, 64)
				if perr != nil {
					return nil, nil, fmt.Errorf("%s:%d: invalid double %q", path, line, fld)
				}
				pool.AddDouble(v)
			}
		case "strings":
			for _, fld := range fields {
				pool.AddString(fld)
			}
		case "names":
			for _, fld := range fields {
				pool.AddMultiname(parseName(fld))
			}
		case "params":
			for _, fld := range fields {
				method.ParamTypes = append(method.ParamTypes, parseName(fld))
			}
		case "return":
			if len(fields) > 0 {
				method.ReturnType = parseName(fields[0])
			}
		case "locals":
			if len(fields) > 0 {
				v, perr := strconv.ParseUint(fields[0], 10, 32)
				if perr != nil {
					return nil, nil, fmt.Errorf("%s:%d: invalid local count %q", path, line, fields[0])
				}
				method.LocalCount = uint32(v)
			}
		case "try":
			// from to target [type]
			if len(fields) < 3 {
				return nil, nil, fmt.Errorf("%s:%d: try needs 'from to target [type]'", path, line)
			}
			var offs [3]uint32
			for k := 0; k < 3; k++ {
				v, perr := strconv.ParseUint(fields[k], 10, 32)
				if perr != nil {
					return nil, nil, fmt.Errorf("%s:%d: invalid offset %q", path, line, fields[k])
				}
				offs[k] = uint32(v)
			}
			exc := abcfile.ExceptionInfo{From: offs[0], To: offs[1], Target: offs[2]}
			if len(fields) > 3 {
				exc.Type = parseName(fields[3])
			}
			method.Exceptions = append(method.Exceptions, exc)
		default:
			return nil, nil, fmt.Errorf("%s:%d: unknown section %q", path, line, section)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return pool, method, nil
}

// parseName turns a dotted name into a public qualified multiname; "*" is
// the any name.
func parseName(s string) *abcfile.Multiname {
	mn := &abcfile.Multiname{Kind: abcfile.MnQName, Name: s}
	if idx := strings.LastIndexByte(s, '.'); idx >= 0 {
		mn.NS = &abcfile.Namespace{Kind: abcfile.NSPublic, URI: s[:idx]}
		mn.Name = s[idx+1:]
	}
	return mn
}
