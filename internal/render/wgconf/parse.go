package wgconf

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	SectionInterface = "Interface"
	SectionPeer      = "Peer"
)

// Section: одна секция [Name] с парами Key = Value в исходном порядке.
type Section struct {
	Name   string
	Keys   []string
	Values map[string]string
}

func (s Section) Get(key string) string { return s.Values[key] }

type File struct {
	Sections []Section
}

// Parse разбирает конфиг; комментарии (# и ;) и пустые строки пропускаются.
func Parse(text string) (*File, error) {
	f := &File{}
	sc := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("wgconf: line %d: bad section header %q", lineNo, line)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			f.Sections = append(f.Sections, Section{Name: name, Values: map[string]string{}})
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("wgconf: line %d: expected key = value", lineNo)
		}
		if len(f.Sections) == 0 {
			return nil, fmt.Errorf("wgconf: line %d: key outside of a section", lineNo)
		}
		cur := &f.Sections[len(f.Sections)-1]
		key = strings.TrimSpace(key)
		if _, dup := cur.Values[key]; !dup {
			cur.Keys = append(cur.Keys, key)
		}
		cur.Values[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) sections(name string) []Section {
	var out []Section
	for _, s := range f.Sections {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func (f *File) Interfaces() []Section { return f.sections(SectionInterface) }
func (f *File) Peers() []Section      { return f.sections(SectionPeer) }

// PeerKeys: публичные ключи всех [Peer] по порядку.
func (f *File) PeerKeys() []string {
	peers := f.Peers()
	keys := make([]string, 0, len(peers))
	for _, p := range peers {
		keys = append(keys, p.Get("PublicKey"))
	}
	return keys
}
