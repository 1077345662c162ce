package main

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// selectFiles narrows files to the --select expression. An expression made of
// digits, commas and dashes picks by the 1-based numbering printed by `list`
// (0 means every file); anything else is a glob matched against the file name
// and then the relative path. The listing order is kept.
func selectFiles(files []domain.FileDescriptor, expr string) ([]domain.FileDescriptor, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return files, nil
	}

	var (
		picked []bool
		err    error
	)
	if isIndexList(expr) {
		picked, err = pickIndices(len(files), expr)
	} else {
		picked, err = pickGlob(files, expr)
	}
	if err != nil {
		return nil, err
	}

	var out []domain.FileDescriptor
	for i, f := range files {
		if picked[i] {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--select %q matches no file", expr)
	}
	return out, nil
}

func isIndexList(expr string) bool {
	return strings.Trim(expr, "0123456789,- ") == ""
}

func pickIndices(n int, expr string) ([]bool, error) {
	picked := make([]bool, n)
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		lo, hi, err := parseRange(tok)
		if err != nil {
			return nil, err
		}
		if lo == 0 && hi == 0 {
			for i := range picked {
				picked[i] = true
			}
			continue
		}
		if lo < 1 || hi > n || lo > hi {
			return nil, fmt.Errorf("--select %q is out of range, the share has %d file(s)", tok, n)
		}
		for i := lo; i <= hi; i++ {
			picked[i-1] = true
		}
	}
	return picked, nil
}

// parseRange reads "N" or "A-B"
func parseRange(tok string) (int, int, error) {
	from, to, isRange := strings.Cut(tok, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --select entry %q", tok)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --select range %q", tok)
	}
	return lo, hi, nil
}

func pickGlob(files []domain.FileDescriptor, pattern string) ([]bool, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid --select pattern %q: %w", pattern, err)
	}
	picked := make([]bool, len(files))
	for i, f := range files {
		if ok, _ := path.Match(pattern, f.Name); ok {
			picked[i] = true
			continue
		}
		picked[i], _ = path.Match(pattern, f.Path())
	}
	return picked, nil
}
