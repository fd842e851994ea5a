// Package publish maps URL paths to responders and serves pages whose
// element trees are mirrored over websocket sessions.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"

	"github.com/ooui-go/ooui/internal/dom"
)

const jsonContentType = "application/json; charset=utf-8"

var (
	ErrNilElement = errors.New("publish: element constructor returned nil")
	ErrNotFound   = errors.New("publish: path not published")
)

// Responder answers plain HTTP requests for a published path.
type Responder interface {
	Kind() string
	Respond(w http.ResponseWriter, r *http.Request) error
}

// ETag returns a strong entity tag for data.
func ETag(data []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(data), 16) + `"`
}

// Registry is the process-wide path table. It is read on every request and
// written only when publishing.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Responder
	jsonTTL time.Duration
}

func NewRegistry(jsonTTL time.Duration) *Registry {
	if jsonTTL <= 0 {
		jsonTTL = time.Second
	}
	return &Registry{
		entries: make(map[string]Responder),
		jsonTTL: jsonTTL,
	}
}

// Publish binds path to h, replacing any previous responder.
func (reg *Registry) Publish(path string, h Responder) {
	reg.mu.Lock()
	reg.entries[path] = h
	reg.mu.Unlock()
}

func (reg *Registry) Unpublish(path string) {
	reg.mu.Lock()
	delete(reg.entries, path)
	reg.mu.Unlock()
}

func (reg *Registry) Lookup(path string) (Responder, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	h, ok := reg.entries[path]
	return h, ok
}

// Paths returns the published paths in order.
func (reg *Registry) Paths() []string {
	reg.mu.RLock()
	paths := make([]string, 0, len(reg.entries))
	for p := range reg.entries {
		paths = append(paths, p)
	}
	reg.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// PublishElement publishes a page. ctor runs once, on first use, and the
// resulting tree is shared by every session on the path.
func (reg *Registry) PublishElement(path, title string, ctor func() *dom.Element) *Page {
	p := &Page{title: title, ctor: ctor}
	reg.Publish(path, p)
	return p
}

func (reg *Registry) PublishData(path string, data []byte, contentType string) {
	reg.Publish(path, NewData(data, contentType))
}

// PublishFile publishes the contents of filePath, read now. An empty
// contentType is guessed from the extension.
func (reg *Registry) PublishFile(path, filePath, contentType string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("publish file: %w", err)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filePath))
	}
	reg.PublishData(path, data, contentType)
	return nil
}

// PublishJSON publishes v encoded once.
func (reg *Registry) PublishJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("publish json: %w", err)
	}
	reg.PublishData(path, data, jsonContentType)
	return nil
}

// PublishJSONFunc publishes a value computed on request. Results are reused
// for the registry's JSON cache TTL.
func (reg *Registry) PublishJSONFunc(path string, fn func() (any, error)) {
	cache := ttlcache.New[string, *Data](
		ttlcache.WithTTL[string, *Data](reg.jsonTTL),
		ttlcache.WithDisableTouchOnHit[string, *Data](),
	)
	reg.Publish(path, &JSONFunc{fn: fn, cache: cache})
}

func (reg *Registry) PublishCustom(path string, fn http.HandlerFunc) {
	reg.Publish(path, Custom(fn))
}

// Page is a published element tree.
type Page struct {
	title string
	ctor  func() *dom.Element

	once sync.Once
	root *dom.Element
	err  error
}

func (p *Page) Kind() string  { return "element" }
func (p *Page) Title() string { return p.title }

// Element constructs the tree on first use.
func (p *Page) Element() (*dom.Element, error) {
	p.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				p.err = fmt.Errorf("publish: element constructor panicked: %v", r)
			}
		}()
		p.root = p.ctor()
		if p.root == nil {
			p.err = ErrNilElement
		}
	})
	return p.root, p.err
}

// Respond serves the bootstrap document. Use Server for the script flag.
func (p *Page) Respond(w http.ResponseWriter, r *http.Request) error {
	return p.respond(w, r, false)
}

func (p *Page) respond(w http.ResponseWriter, r *http.Request, withScript bool) error {
	html, err := RenderPage(p.title, r.URL.Path, withScript)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(html)))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(html)
	return err
}

// Data is a static body served with an ETag.
type Data struct {
	data        []byte
	etag        string
	contentType string
}

func NewData(data []byte, contentType string) *Data {
	return &Data{data: data, etag: ETag(data), contentType: contentType}
}

func (d *Data) Kind() string { return "data" }
func (d *Data) ETag() string { return d.etag }

func (d *Data) Respond(w http.ResponseWriter, r *http.Request) error {
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == d.etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}
	w.Header().Set("Etag", d.etag)
	if d.contentType != "" {
		w.Header().Set("Content-Type", d.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(d.data)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(d.data)
	return err
}

// JSONFunc evaluates a function per request, within a short cache window.
type JSONFunc struct {
	fn    func() (any, error)
	cache *ttlcache.Cache[string, *Data]
}

func (j *JSONFunc) Kind() string { return "json" }

func (j *JSONFunc) Respond(w http.ResponseWriter, r *http.Request) error {
	const key = "body"
	if item := j.cache.Get(key); item != nil {
		return item.Value().Respond(w, r)
	}
	v, err := j.fn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	d := NewData(data, jsonContentType)
	j.cache.Set(key, d, ttlcache.DefaultTTL)
	return d.Respond(w, r)
}

// Custom hands the request to an arbitrary handler.
type Custom http.HandlerFunc

func (c Custom) Kind() string { return "custom" }

func (c Custom) Respond(w http.ResponseWriter, r *http.Request) error {
	c(w, r)
	return nil
}
