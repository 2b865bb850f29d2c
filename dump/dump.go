// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package dump enriches a path-terminating error with the information
// named by the HAYBALE_DUMP_PATH and HAYBALE_DUMP_VARS environment
// variables (spec.md §6): the sequence of basic blocks the failing
// path visited, and the current value of every variable bound in the
// function execution stopped in. Both are off by default; the core
// itself never consults the environment (exec.Manager does, once per
// path, after a call to interp.Step reports an error).
package dump

import (
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/PLSysSec/haybale/state"
)

// largeDumpBytes is the formatted-path-log size past which Enrich
// compresses the dump to a temp file instead of inlining it in the
// error message, so a deep loop-bound run doesn't produce a
// multi-megabyte error string.
const largeDumpBytes = 4096

// Enrich appends a path dump and/or a variable dump to err's message,
// gated by HAYBALE_DUMP_PATH=1 and HAYBALE_DUMP_VARS=1 respectively,
// matching the two env vars' independent on/off behavior. For each
// variable that is not set, a one-line note naming it is appended
// instead. st is the State the failing path ended in.
func Enrich(err error, st *state.State) error {
	if err == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%v\n", err)

	if os.Getenv("HAYBALE_DUMP_PATH") == "1" {
		b.WriteString("Path to error:\n")
		if err2 := writePathDump(&b, st); err2 != nil {
			fmt.Fprintf(&b, "  (failed to write path dump: %v)\n", err2)
		}
	} else {
		b.WriteString("note: for a dump of the path that led to this error, rerun with HAYBALE_DUMP_PATH=1.\n")
	}

	if os.Getenv("HAYBALE_DUMP_VARS") == "1" {
		b.WriteString("\nValues of variables bound in the current function at time of error:\n")
		b.WriteString("(ignore any values left over from a path this one backtracked past)\n\n")
		for name, val := range st.AllVarsInCurrentFunc() {
			fmt.Fprintf(&b, "  %s: %s\n", name, val)
		}
	} else {
		b.WriteString("note: for a dump of variable values at time of error, rerun with HAYBALE_DUMP_VARS=1.\n")
	}

	return fmt.Errorf("%s", b.String())
}

// writePathDump formats st's path log (and call stack) and writes it
// either directly into dst, or, once it exceeds largeDumpBytes, to a
// zstd-compressed temp file named by the content's blake2b digest so
// that two runs producing identical dumps reuse the same file.
func writePathDump(dst *strings.Builder, st *state.State) error {
	var raw strings.Builder
	for _, cs := range st.CallStack() {
		fmt.Fprintf(&raw, "  called from %s\n", cs.Loc)
	}
	for _, bb := range st.Path {
		fmt.Fprintf(&raw, "  %s:%s\n", bb.FuncName, bb.BBName)
	}
	content := raw.String()
	if len(content) <= largeDumpBytes {
		dst.WriteString(content)
		return nil
	}

	path, err := writeCompressed([]byte(content))
	if err != nil {
		return err
	}
	fmt.Fprintf(dst, "  (path log is %d bytes, written compressed to %s)\n", len(content), path)
	return nil
}

// writeCompressed zstd-compresses data and writes it to a temp file
// named by the first 8 bytes of the uncompressed content's blake2b-256
// digest, returning
// the file's path. Reusing the same name for identical content means
// repeated runs hitting the same failure don't accumulate duplicate
// dump files.
func writeCompressed(data []byte) (string, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, nil)

	sum := blake2b.Sum256(data)
	name := fmt.Sprintf("haybale-dump-%x.zst", sum[:8])
	path := os.TempDir() + string(os.PathSeparator) + name
	if err := os.WriteFile(path, compressed, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
