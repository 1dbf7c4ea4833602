package yenc

import (
	"strconv"
	"strings"
)

const (
	beginPrefix = "=ybegin "
	partPrefix  = "=ypart "
	endPrefix   = "=yend "
)

// nameKey is the token prefix that introduces the filename field of a
// "=ybegin" line. The name may itself contain spaces and is always the
// final field on the line, so it can't be tokenised like the others.
const nameKey = " name="

// ParseBegin parses a "=ybegin" control line (with its "=ybegin " prefix
// intact) into Headers. line/size are mandatory; part/total are optional and
// only present for multipart bodies.
func ParseBegin(line string) (Headers, error) {
	if !strings.HasPrefix(line, beginPrefix) {
		return Headers{}, &MalformedError{Message: "not a =ybegin line"}
	}
	rest := line[len(beginPrefix):]

	name := ""
	if idx := strings.Index(rest, nameKey); idx >= 0 {
		name = rest[idx+len(nameKey):]
		rest = rest[:idx]
	}

	kv := parseKeyValues(rest)

	h := Headers{Name: name}

	lineStr, ok := kv["line"]
	if !ok {
		return Headers{}, &MalformedError{Message: "=ybegin missing line="}
	}
	lineVal, err := strconv.ParseUint(lineStr, 10, 16)
	if err != nil {
		return Headers{}, &MalformedError{Message: "=ybegin line= not a number"}
	}
	h.Line = uint16(lineVal)

	sizeStr, ok := kv["size"]
	if !ok {
		return Headers{}, &MalformedError{Message: "=ybegin missing size="}
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return Headers{}, &MalformedError{Message: "=ybegin size= not a number"}
	}
	h.Size = size

	if partStr, ok := kv["part"]; ok {
		part, err := strconv.ParseUint(partStr, 10, 16)
		if err != nil {
			return Headers{}, &MalformedError{Message: "=ybegin part= not a number"}
		}
		p := uint16(part)
		h.Part = &p
	}
	if totalStr, ok := kv["total"]; ok {
		total, err := strconv.ParseUint(totalStr, 10, 16)
		if err != nil {
			return Headers{}, &MalformedError{Message: "=ybegin total= not a number"}
		}
		t := uint16(total)
		h.Total = &t
	}

	return h, nil
}

// ParsePart parses a "=ypart" control line into the begin/end fields of an
// already-parsed Headers.
func ParsePart(line string, h *Headers) error {
	if !strings.HasPrefix(line, partPrefix) {
		return &MalformedError{Message: "not a =ypart line"}
	}
	kv := parseKeyValues(line[len(partPrefix):])

	beginStr, ok := kv["begin"]
	if !ok {
		return &MalformedError{Message: "=ypart missing begin="}
	}
	begin, err := strconv.ParseInt(beginStr, 10, 64)
	if err != nil {
		return &MalformedError{Message: "=ypart begin= not a number"}
	}

	endStr, ok := kv["end"]
	if !ok {
		return &MalformedError{Message: "=ypart missing end="}
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return &MalformedError{Message: "=ypart end= not a number"}
	}

	h.PartBegin = &begin
	h.PartEnd = &end
	return nil
}

// ParseEnd parses a "=yend" control line into a Trailer. size is mandatory;
// crc32/pcrc32/part are optional.
func ParseEnd(line string) (Trailer, error) {
	if !strings.HasPrefix(line, endPrefix) {
		return Trailer{}, &MalformedError{Message: "not a =yend line"}
	}
	kv := parseKeyValues(line[len(endPrefix):])

	sizeStr, ok := kv["size"]
	if !ok {
		return Trailer{}, &MalformedError{Message: "=yend missing size="}
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return Trailer{}, &MalformedError{Message: "=yend size= not a number"}
	}
	t := Trailer{Size: size}

	if crcStr, ok := kv["crc32"]; ok {
		crc, err := parseHexCRC(crcStr)
		if err != nil {
			return Trailer{}, &MalformedError{Message: "=yend crc32= not hex"}
		}
		t.CRC32 = &crc
	}
	if pcrcStr, ok := kv["pcrc32"]; ok {
		pcrc, err := parseHexCRC(pcrcStr)
		if err != nil {
			return Trailer{}, &MalformedError{Message: "=yend pcrc32= not hex"}
		}
		t.PCRC32 = &pcrc
	}
	if partStr, ok := kv["part"]; ok {
		part, err := strconv.ParseUint(partStr, 10, 16)
		if err != nil {
			return Trailer{}, &MalformedError{Message: "=yend part= not a number"}
		}
		p := uint16(part)
		t.Part = &p
	}

	return t, nil
}

// parseKeyValues tokenises a space-separated "key=value" payload.
func parseKeyValues(s string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		k, v, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		out[k] = v
	}
	return out
}

func parseHexCRC(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
