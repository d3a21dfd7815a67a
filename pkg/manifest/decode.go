package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Document is a single raw YAML document of a manifest stream.
type Document struct {
	Kind   string
	Name   string
	Source string
	body   []byte
}

// NewDocument wraps raw YAML bytes. Kind and name are peeked so errors can
// name the document before it is validated.
func NewDocument(source string, body []byte) (Document, error) {
	var head struct {
		Kind     string `yaml:"kind"`
		Metadata struct {
			Name string `yaml:"name"`
		} `yaml:"metadata"`
	}
	if err := yaml.Unmarshal(body, &head); err != nil {
		return Document{}, fmt.Errorf("failed to parse manifest file %s, invalid YAML: %w", source, err)
	}
	return Document{Kind: head.Kind, Name: head.Metadata.Name, Source: source, body: body}, nil
}

// Decode splits a YAML stream into documents, skipping empty ones.
func Decode(source string, r io.Reader) ([]Document, error) {
	dec := yaml.NewDecoder(r)
	var docs []Document
	for {
		var raw interface{}
		err := dec.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest file %s, invalid YAML: %w", source, err)
		}
		if raw == nil {
			continue
		}
		body, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest file %s: %w", source, err)
		}
		doc, err := NewDocument(source, body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ManifestFiles returns path itself when it is a file, or the YAML files it
// contains, in lexical order, when it is a directory.
func ManifestFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadFiles reads and splits every manifest file found at path.
func ReadFiles(path string) ([]Document, error) {
	files, err := ManifestFiles(path)
	if err != nil {
		return nil, err
	}
	var docs []Document
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			if os.IsPermission(err) {
				return nil, fmt.Errorf("failed to read manifest file %s, permission denied", name)
			}
			return nil, fmt.Errorf("failed to read manifest file %s: %w", name, err)
		}
		fileDocs, err := Decode(name, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

// Parse validates every document and groups them by kind. Mount names must
// be unique across all documents since each one becomes a Vault mount path.
func Parse(docs []Document) (Manifests, error) {
	var m Manifests
	owner := make(map[string]string)
	claim := func(kind, name string) error {
		if prev, ok := owner[name]; ok {
			return &ValidationError{Kind: kind, Name: name, Err: &FieldError{
				Field:      "metadata.name",
				Constraint: fmt.Sprintf("mount path already declared by %s", prev),
			}}
		}
		owner[name] = kind
		return nil
	}

	for _, doc := range docs {
		switch doc.Kind {
		case KindRootCA:
			ca, err := ValidateRootCA(doc)
			if err != nil {
				return Manifests{}, err
			}
			if err := claim(doc.Kind, ca.Name); err != nil {
				return Manifests{}, err
			}
			m.Roots = append(m.Roots, ca)
		case KindIntermediateCA:
			ca, err := ValidateIntermediateCA(doc)
			if err != nil {
				return Manifests{}, err
			}
			if err := claim(doc.Kind, ca.Name); err != nil {
				return Manifests{}, err
			}
			m.Intermediates = append(m.Intermediates, ca)
		case KindKV:
			kv, err := ValidateKVEngine(doc)
			if err != nil {
				return Manifests{}, err
			}
			if err := claim(doc.Kind, kv.Name); err != nil {
				return Manifests{}, err
			}
			m.KVEngines = append(m.KVEngines, kv)
		default:
			return Manifests{}, &ValidationError{Kind: doc.Kind, Name: doc.Name, Err: ErrUnsupportedKind}
		}
	}
	return m, nil
}
