package settings

import (
	"bufio"
	"bytes"
	"strings"
)

// DefaultSection holds the options that appear before the first section header.
const DefaultSection = "DEFAULT"

// IniFile edits an INI-style file line by line. Comments, blank lines, ordering and
// untouched lines are written back exactly as read.
type IniFile struct {
	lines []iniLine
}

type iniLine struct {
	raw     string
	section string
	key     string
	value   string
	option  bool
}

// ParseIni reads data into an editable file.
func ParseIni(data []byte) *IniFile {
	f := &IniFile{}
	section := DefaultSection
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		line := iniLine{raw: raw, section: section}
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";"):
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			section = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			line.section = section
		default:
			sep := strings.IndexAny(trimmed, "=:")
			if sep > 0 {
				line.option = true
				line.key = strings.TrimSpace(trimmed[:sep])
				line.value = strings.TrimSpace(trimmed[sep+1:])
			}
		}
		f.lines = append(f.lines, line)
	}
	return f
}

// Sections lists the section names in file order, DefaultSection first.
func (f *IniFile) Sections() []string {
	seen := map[string]bool{DefaultSection: true}
	out := []string{DefaultSection}
	for _, l := range f.lines {
		if !seen[l.section] {
			seen[l.section] = true
			out = append(out, l.section)
		}
	}
	return out
}

// Get returns the value of key in section.
func (f *IniFile) Get(section, key string) (string, bool) {
	for _, l := range f.lines {
		if l.option && l.section == section && strings.EqualFold(l.key, key) {
			return l.value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing option. Options that are not in the file are
// left alone, so the file keeps the set of options its owner expects. It reports the
// previous value and whether anything changed.
func (f *IniFile) Set(section, key, value string) (old string, changed bool) {
	for i := range f.lines {
		l := &f.lines[i]
		if !l.option || l.section != section || !strings.EqualFold(l.key, key) {
			continue
		}
		if l.value == value {
			return l.value, false
		}
		old = l.value
		l.value = value
		l.raw = l.key + " = " + value
		return old, true
	}
	return "", false
}

// Bytes renders the file.
func (f *IniFile) Bytes() []byte {
	var buf bytes.Buffer
	for _, l := range f.lines {
		buf.WriteString(l.raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
