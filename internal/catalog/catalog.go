// Package catalog reads catalog search results saved as JSON or YAML.
//
// A file holds either a plain list of entries or the API's envelope
// {"data": [...]}. Titles may be a string or a map of locale to string.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultLocale is preferred when a title carries several translations.
const DefaultLocale = "en-US"

// Placeholders used when an entry omits a field.
const (
	UnknownTitle   = "Unknown Title"
	UnknownCreator = "Unknown Creator"
)

var ErrNoEntries = errors.New("catalog: no entries")

// LocalizedText is either a single string or a set of translations.
type LocalizedText struct {
	Text         string
	Translations map[string]string
}

// String returns the plain text, else the DefaultLocale translation, else
// the first translation by locale name.
func (l LocalizedText) String() string {
	if l.Text != "" {
		return l.Text
	}
	if v := l.Translations[DefaultLocale]; v != "" {
		return v
	}
	locales := make([]string, 0, len(l.Translations))
	for k := range l.Translations {
		locales = append(locales, k)
	}
	sort.Strings(locales)
	for _, k := range locales {
		if v := l.Translations[k]; v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON accepts a string or an object of strings.
func (l *LocalizedText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = LocalizedText{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = LocalizedText{Text: s}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("localized text: %w", err)
	}
	*l = LocalizedText{Translations: m}
	return nil
}

// UnmarshalYAML accepts a scalar or a mapping of strings.
func (l *LocalizedText) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = LocalizedText{}
			return nil
		}
		*l = LocalizedText{Text: node.Value}
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return fmt.Errorf("localized text: %w", err)
		}
		*l = LocalizedText{Translations: m}
		return nil
	default:
		return fmt.Errorf("localized text: line %d: expected string or mapping", node.Line)
	}
}

// DisplayProperties holds presentation fields of an entry.
type DisplayProperties struct {
	CreatorName string `json:"creatorName" yaml:"creatorName"`
}

// Image is a picture attached to an entry.
type Image struct {
	ID   string `json:"Id" yaml:"Id"`
	Tag  string `json:"Tag" yaml:"Tag"`
	Type string `json:"Type" yaml:"Type"`
	URL  string `json:"Url" yaml:"Url"`
}

// Entry is one catalog search result.
type Entry struct {
	ID                string            `json:"Id" yaml:"Id"`
	Title             LocalizedText     `json:"Title" yaml:"Title"`
	DisplayProperties DisplayProperties `json:"DisplayProperties" yaml:"DisplayProperties"`
	ContentType       []string          `json:"ContentType" yaml:"ContentType"`
	Tags              []string          `json:"Tags" yaml:"Tags"`
	Images            []Image           `json:"Images" yaml:"Images"`
}

// DisplayTitle returns the resolved title or UnknownTitle.
func (e Entry) DisplayTitle() string {
	if s := e.Title.String(); s != "" {
		return s
	}
	return UnknownTitle
}

// Creator returns the creator name or UnknownCreator.
func (e Entry) Creator() string {
	if e.DisplayProperties.CreatorName != "" {
		return e.DisplayProperties.CreatorName
	}
	return UnknownCreator
}

// Thumbnail returns the URL of the image tagged "Thumbnail", if any.
func (e Entry) Thumbnail() string {
	for _, img := range e.Images {
		if img.Tag == "Thumbnail" {
			return img.URL
		}
	}
	return ""
}

type envelope struct {
	Data []Entry `yaml:"data"`
}

// Parse decodes entries from JSON or YAML. JSON input goes through the YAML
// decoder, which accepts it as a subset.
func Parse(data []byte) ([]Entry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, ErrNoEntries
	}
	doc := root.Content[0]

	var entries []Entry
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
	case yaml.MappingNode:
		var env envelope
		if err := doc.Decode(&env); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		entries = env.Data
	default:
		return nil, fmt.Errorf("parse catalog: line %d: expected list or mapping", doc.Line)
	}

	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("parse catalog: entry %d has no Id", i)
		}
	}
	return entries, nil
}

// Load reads entries from a file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Index maps entry ids to entries.
func Index(entries []Entry) map[string]Entry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	return m
}
