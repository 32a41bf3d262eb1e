package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultVersion is the version consulted when a caller has no negotiated
// protocol version.
const DefaultVersion = "ocpp1.6"

const responseSuffix = "Response"

// Registry holds compiled validators keyed by version and action.
type Registry struct {
	defaultVersion string
	versions       map[string]*versionSet
}

type versionSet struct {
	request  map[string]*gojsonschema.Schema
	response map[string]*gojsonschema.Schema
}

// source is one pending registration, compiled in New.
type source struct {
	version    string
	action     string
	isResponse bool
	load       func() ([]byte, error)
}

type config struct {
	defaultVersion string
	sources        []source
	errs           []error
}

// Option registers schemas or tunes the Registry.
type Option func(*config)

// WithDefaultVersion overrides the version used for lookups with an empty version.
func WithDefaultVersion(v string) Option {
	return func(c *config) {
		if v != "" {
			c.defaultVersion = normalizeVersion(v)
		}
	}
}

// WithSchema registers a single JSON Schema document.
func WithSchema(version, action string, isResponse bool, doc []byte) Option {
	return func(c *config) {
		c.sources = append(c.sources, source{
			version:    version,
			action:     action,
			isResponse: isResponse,
			load:       func() ([]byte, error) { return doc, nil },
		})
	}
}

// WithFS registers every *.json file in dir of fsys under version. A file
// named <Action>Response.json holds the response schema for Action; any other
// <Action>.json holds the request schema.
func WithFS(version string, fsys fs.FS, dir string) Option {
	return func(c *config) {
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			c.errs = append(c.errs, fmt.Errorf("read schema dir %q: %w", dir, err))
			return
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
				continue
			}
			name := strings.TrimSuffix(ent.Name(), ".json")
			action, isResponse := name, false
			if strings.HasSuffix(name, responseSuffix) {
				action, isResponse = strings.TrimSuffix(name, responseSuffix), true
			}
			p := path.Join(dir, ent.Name())
			c.sources = append(c.sources, source{
				version:    version,
				action:     action,
				isResponse: isResponse,
				load:       func() ([]byte, error) { return fs.ReadFile(fsys, p) },
			})
		}
	}
}

// New compiles every registered schema. Later registrations for the same
// version, action and direction replace earlier ones.
func New(opts ...Option) (*Registry, error) {
	cfg := &config{defaultVersion: DefaultVersion}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if len(cfg.errs) > 0 {
		return nil, errors.Join(cfg.errs...)
	}

	r := &Registry{
		defaultVersion: cfg.defaultVersion,
		versions:       make(map[string]*versionSet),
	}

	for _, src := range cfg.sources {
		if src.action == "" {
			return nil, fmt.Errorf("schema for version %q has an empty action name", src.version)
		}
		doc, err := src.load()
		if err != nil {
			return nil, fmt.Errorf("load schema %s/%s: %w", src.version, src.action, err)
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s/%s: %w", src.version, src.action, err)
		}

		v := normalizeVersion(src.version)
		set, ok := r.versions[v]
		if !ok {
			set = &versionSet{
				request:  make(map[string]*gojsonschema.Schema),
				response: make(map[string]*gojsonschema.Schema),
			}
			r.versions[v] = set
		}
		if src.isResponse {
			set.response[src.action] = compiled
		} else {
			set.request[src.action] = compiled
		}
	}

	return r, nil
}

// Validate reports whether payload conforms to the schema registered for
// (version, action, direction). It returns true when no such schema exists.
func (r *Registry) Validate(version, action string, payload []byte, isResponse bool) bool {
	return r.Check(version, action, payload, isResponse) == nil
}

// Check is Validate with an explanation: it returns a *ValidationError when
// the payload does not conform and nil otherwise.
func (r *Registry) Check(version, action string, payload []byte, isResponse bool) error {
	s := r.lookup(version, action, isResponse)
	if s == nil {
		return nil
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}

	verr := &ValidationError{Version: r.resolveVersion(version), Action: action, IsResponse: isResponse}
	res, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		verr.Details = []string{err.Error()}
		return verr
	}
	if res.Valid() {
		return nil
	}
	for _, re := range res.Errors() {
		verr.Details = append(verr.Details, re.Field()+": "+re.Description())
	}
	return verr
}

// Has reports whether a schema is registered for (version, action, direction).
func (r *Registry) Has(version, action string, isResponse bool) bool {
	return r.lookup(version, action, isResponse) != nil
}

// Versions lists the versions with at least one registered schema, sorted.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// DefaultVersion returns the version used for lookups with an empty version.
func (r *Registry) DefaultVersion() string { return r.defaultVersion }

func (r *Registry) lookup(version, action string, isResponse bool) *gojsonschema.Schema {
	if r == nil {
		return nil
	}
	set, ok := r.versions[r.resolveVersion(version)]
	if !ok {
		return nil
	}
	if isResponse {
		return set.response[action]
	}
	return set.request[action]
}

func (r *Registry) resolveVersion(version string) string {
	v := normalizeVersion(version)
	if v == "" {
		return r.defaultVersion
	}
	return v
}

func normalizeVersion(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
