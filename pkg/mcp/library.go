package mcp

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Library is a named set of loaded flow documents. It is the unit the MCP
// tools operate on: flow.list enumerates it, flow.run and flow.validate look
// documents up by name.
type Library struct {
	mu   sync.RWMutex
	docs map[string]*schema.FlowDocument
}

// NewLibrary creates an empty document library.
func NewLibrary() *Library {
	return &Library{docs: make(map[string]*schema.FlowDocument)}
}

// Add registers a document under a name, replacing any previous entry.
func (l *Library) Add(name string, doc *schema.FlowDocument) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs[name] = doc
}

// LoadFile parses a document file (YAML or JSON by extension) and registers
// it under its base name without extension.
func (l *Library) LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "read document: %s", err.Error()).WithCause(err)
	}

	var doc *schema.FlowDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		doc, err = schema.FromJSON(data)
	default:
		doc, err = schema.FromYAML(data)
	}
	if err != nil {
		return "", err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	l.Add(name, doc)
	return name, nil
}

// Get returns the document registered under a name.
func (l *Library) Get(name string) (*schema.FlowDocument, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.docs[name]
	return doc, ok
}

// Names returns the registered document names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.docs))
	for name := range l.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
