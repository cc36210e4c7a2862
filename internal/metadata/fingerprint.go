package metadata

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// FingerprintVersion identifies the set of fields hashed by Fingerprint.
// Changing the field set requires bumping it, which invalidates every stored
// fingerprint and forces a full property sync on the next pass.
const FingerprintVersion = "v1"

const (
	fieldSeparator    = ';'
	recordTerminator  = '\n'
	nestedRecordOpen  = '{'
	nestedRecordClose = '}'
)

// Fingerprint computes a deterministic MD5 hex digest over the comparable
// fields of the given properties. Input order does not matter: properties
// are stably sorted by path before hashing.
func Fingerprint(props []PropertyDescriptor) string {
	ordered := make([]PropertyDescriptor, len(props))
	copy(ordered, props)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Path < ordered[j].Path
	})

	var sb strings.Builder
	sb.WriteString(FingerprintVersion)
	sb.WriteByte(recordTerminator)
	for i := range ordered {
		writeRecord(&sb, &ordered[i])
		sb.WriteByte(recordTerminator)
	}

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// writeRecord appends the comparable fields of p in alphabetical field-name
// order, each followed by the field separator.
func writeRecord(sb *strings.Builder, p *PropertyDescriptor) {
	field := func(v string) {
		sb.WriteString(v)
		sb.WriteByte(fieldSeparator)
	}

	field(p.DataFormat)
	field(string(p.DataType))
	field(p.Description)
	field(p.EntityTypeAlias)
	field(strconv.FormatBool(p.IsFrameworkRelated))
	if p.ItemsType != nil {
		sb.WriteByte(nestedRecordOpen)
		writeRecord(sb, p.ItemsType)
		sb.WriteByte(nestedRecordClose)
	}
	sb.WriteByte(fieldSeparator)
	field(p.Label)
	field(p.Path)
	field(p.ReferenceListName)
	field(p.ReferenceListNamespace)
}
