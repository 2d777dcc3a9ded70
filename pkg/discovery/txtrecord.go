package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeProbeTXT creates the TXT records for a probe.
func EncodeProbeTXT(info *ProbeInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyID: info.ID}

	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}
	if info.Target != "" {
		txt[TXTKeyTarget] = info.Target
	}
	if len(info.Groups) > 0 {
		txt[TXTKeyGroups] = strings.Join(info.Groups, ",")
	}
	if info.Cores > 0 {
		txt[TXTKeyCores] = strconv.Itoa(info.Cores)
	}
	return txt
}

// DecodeProbeTXT parses the TXT records of a probe.
func DecodeProbeTXT(txt TXTRecordMap) (*ProbeInfo, error) {
	info := &ProbeInfo{}

	id, ok := txt[TXTKeyID]
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyID)
	}
	if len(id) > MaxIDLen {
		return nil, fmt.Errorf("%w: id longer than %d", ErrInvalidTXTRecord, MaxIDLen)
	}
	info.ID = id

	info.Name = txt[TXTKeyName]
	info.Target = txt[TXTKeyTarget]
	info.Groups = parseGroups(txt[TXTKeyGroups])

	if s, ok := txt[TXTKeyCores]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid cores %q", ErrInvalidTXTRecord, s)
		}
		info.Cores = n
	}
	return info, nil
}

// parseGroups splits a comma-separated group list, dropping empty names.
func parseGroups(s string) []string {
	if s == "" {
		return nil
	}
	var groups []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if !found && k == "" {
			continue
		}
		// A key without "=" is a boolean flag.
		txt[k] = v
	}
	return txt
}

// ValidateTXT checks the total encoded size of a TXT record set. Each string
// costs one length byte plus its content.
func ValidateTXT(txt TXTRecordMap) error {
	size := 0
	for _, s := range TXTRecordsToStrings(txt) {
		size += 1 + len(s)
	}
	if size > MaxTXTRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrTXTTooLarge, size)
	}
	return nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
