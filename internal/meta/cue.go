package meta

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// LoadCUE decodes DocType definitions from CUE source. The source must
// define a "doctypes" struct keyed by DocType name; a definition without an
// explicit name takes its key. Definitions are returned sorted by name.
func LoadCUE(filename string, src []byte) ([]*DocType, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating %s: %w", filename, err)
	}

	defs := v.LookupPath(cue.ParsePath("doctypes"))
	if !defs.Exists() {
		return nil, fmt.Errorf("%s: no doctypes field", filename)
	}
	iter, err := defs.Fields()
	if err != nil {
		return nil, fmt.Errorf("%s: doctypes: %w", filename, err)
	}

	var out []*DocType
	for iter.Next() {
		var dt DocType
		if err := iter.Value().Decode(&dt); err != nil {
			return nil, fmt.Errorf("%s: decoding %s: %w", filename, iter.Selector(), err)
		}
		if dt.Name == "" {
			dt.Name = iter.Selector().Unquoted()
		}
		out = append(out, &dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadCUEFile reads and decodes a CUE file of DocType definitions.
func LoadCUEFile(path string) ([]*DocType, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return LoadCUE(path, src)
}
