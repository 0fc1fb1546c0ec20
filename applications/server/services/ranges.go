package services

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/donmikel/rangeserve/applications/server/domain"
)

const rangeUnit = "bytes="

// ParseRange parses a Range header value against a resource of size bytes.
//
// An empty value yields an empty set, meaning the whole resource. Any member
// that is malformed, out of bounds or overlapping another one rejects the
// whole set with domain.ErrRangeUnsatisfiable. The client order is kept.
// A suffix spec "-N" selects the last N bytes. maxRanges <= 0 disables the
// range count limit.
func ParseRange(spec string, size uint64, maxRanges int) (domain.RangeSet, error) {
	spec = textproto.TrimString(spec)
	if spec == "" {
		return nil, nil
	}

	if !strings.HasPrefix(spec, rangeUnit) {
		return nil, fmt.Errorf("%w: unsupported unit in %q", domain.ErrRangeUnsatisfiable, spec)
	}

	specs := strings.Split(spec[len(rangeUnit):], ",")
	if maxRanges > 0 && len(specs) > maxRanges {
		return nil, fmt.Errorf("%w: %d ranges requested, at most %d allowed", domain.ErrRangeTooLarge, len(specs), maxRanges)
	}

	set := make(domain.RangeSet, 0, len(specs))
	for _, s := range specs {
		r, err := parseRangeSpec(textproto.TrimString(s), size)
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}

	for i := range set {
		for j := i + 1; j < len(set); j++ {
			if set[i].Overlaps(set[j]) {
				return nil, fmt.Errorf("%w: %d-%d overlaps %d-%d", domain.ErrRangeUnsatisfiable,
					set[i].Start, set[i].End, set[j].Start, set[j].End)
			}
		}
	}

	return set, nil
}

func parseRangeSpec(s string, size uint64) (domain.ByteRange, error) {
	invalid := func() (domain.ByteRange, error) {
		return domain.ByteRange{}, fmt.Errorf("%w: %q of %d bytes", domain.ErrRangeUnsatisfiable, s, size)
	}

	first, last, ok := strings.Cut(s, "-")
	if !ok || size == 0 {
		return invalid()
	}
	first, last = textproto.TrimString(first), textproto.TrimString(last)

	var r domain.ByteRange
	if first == "" {
		suffix, err := parseOffset(last)
		if err != nil || suffix == 0 {
			return invalid()
		}
		if suffix > size {
			suffix = size
		}
		r = domain.ByteRange{Start: size - suffix, End: size - 1}
	} else {
		start, err := parseOffset(first)
		if err != nil {
			return invalid()
		}
		r.Start = start

		if last == "" {
			r.End = size - 1
		} else {
			end, err := parseOffset(last)
			if err != nil {
				return invalid()
			}
			r.End = end
		}
	}

	if r.Start > r.End || r.Start >= size || r.End >= size || r.Length() > size {
		return invalid()
	}

	return r, nil
}

func parseOffset(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty offset")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("offset %q is not a number", s)
		}
	}

	return strconv.ParseUint(s, 10, 64)
}
