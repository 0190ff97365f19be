package foreach

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/autom8ter/foreach/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// IDField is the field every document must carry
const IDField = "id"

// Document is a concurrency safe JSON document
type Document struct {
	result gjson.Result
}

// UnmarshalJSON satisfies the json Unmarshaler interface
func (d *Document) UnmarshalJSON(bytes []byte) error {
	doc, err := NewDocumentFromBytes(bytes)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// MarshalJSON satisfies the json Marshaler interface
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Bytes(), nil
}

// NewDocument creates a new json document
func NewDocument() *Document {
	parsed := gjson.Parse("{}")
	return &Document{
		result: parsed,
	}
}

// NewDocumentFromBytes creates a new document from the given json bytes
func NewDocumentFromBytes(json []byte) (*Document, error) {
	if !gjson.ValidBytes(json) {
		return nil, errors.New(errors.Validation, "invalid json: %s", string(json))
	}
	d := &Document{
		result: gjson.ParseBytes(json),
	}
	if !d.Valid() {
		return nil, errors.New(errors.Validation, "invalid document")
	}
	return d, nil
}

// NewDocumentFrom creates a new document from the given value - the value must be json compatible
func NewDocumentFrom(value any) (*Document, error) {
	switch value := value.(type) {
	case *Document:
		if value == nil {
			return nil, errors.New(errors.Validation, "nil document")
		}
		return value.Clone(), nil
	case []byte:
		return NewDocumentFromBytes(value)
	case string:
		return NewDocumentFromBytes([]byte(value))
	}
	bits, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to json encode value: %#v", value)
	}
	return NewDocumentFromBytes(bits)
}

// Valid returns whether the document is a json object
func (d *Document) Valid() bool {
	return gjson.Valid(d.result.Raw) && d.result.IsObject()
}

// ID returns the document's id field
func (d *Document) ID() string {
	return d.result.Get(IDField).String()
}

// PartitionKey returns the value found at the given partition key path. Both slash ("/tenant/id")
// and dot ("tenant.id") paths are accepted. Missing values are returned as nil.
func (d *Document) PartitionKey(path string) any {
	field := PartitionKeyField(path)
	if field == "" {
		return nil
	}
	return d.Get(field)
}

// PartitionKeyField converts a slash separated partition key path into dot notation
func PartitionKeyField(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	return strings.ReplaceAll(path, "/", ".")
}

// String returns the document as a json string
func (d *Document) String() string {
	return d.result.Raw
}

// Bytes returns the document as json bytes
func (d *Document) Bytes() []byte {
	return []byte(d.result.Raw)
}

// Value returns the document as a map
func (d *Document) Value() map[string]any {
	return cast.ToStringMap(d.result.Value())
}

// Clone allocates a new document with identical values
func (d *Document) Clone() *Document {
	raw := d.result.Raw
	return &Document{result: gjson.Parse(raw)}
}

// Get gets a field on the document. Get has GJSON syntax support and supports dot notation
func (d *Document) Get(field string) any {
	return d.result.Get(field).Value()
}

// Exists returns true if the field is present on the document
func (d *Document) Exists(field string) bool {
	return d.result.Get(field).Exists()
}

// GetString gets a string field value on the document
func (d *Document) GetString(field string) string {
	return d.result.Get(field).String()
}

// GetFloat gets a float field value on the document
func (d *Document) GetFloat(field string) float64 {
	return cast.ToFloat64(d.Get(field))
}

// Set sets a field on the document. Dot notation is supported.
func (d *Document) Set(field string, val any) error {
	var (
		result string
		err    error
	)
	switch val := val.(type) {
	case gjson.Result:
		result, err = sjson.Set(d.result.Raw, field, val.Value())
	case []byte:
		result, err = sjson.SetRaw(d.result.Raw, field, string(val))
	default:
		result, err = sjson.Set(d.result.Raw, field, val)
	}
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to set %s", field)
	}
	if !gjson.Valid(result) {
		return errors.New(errors.Validation, "invalid document")
	}
	d.result = gjson.Parse(result)
	return nil
}

// SetAll sets all fields on the document. Dot notation is supported.
func (d *Document) SetAll(values map[string]any) error {
	for k, v := range values {
		if err := d.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Del deletes fields from the document
func (d *Document) Del(fields ...string) error {
	for _, field := range fields {
		result, err := sjson.Delete(d.result.Raw, field)
		if err != nil {
			return err
		}
		d.result = gjson.Parse(result)
	}
	return nil
}

// Equal returns true if both documents hold the same fields and values
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(d.result.Value(), other.result.Value())
}

// Scan scans the json document into the value
func (d *Document) Scan(value any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           value,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(d.Value())
}

// FieldChange is a change to a single field between two versions of a document
type FieldChange struct {
	Path   string `json:"path"`
	Op     string `json:"op"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

const (
	FieldAdded   = "add"
	FieldRemoved = "remove"
	FieldChanged = "replace"
)

// Changes returns the field changes that turn before into d, ordered by path. A nil before is an
// empty document.
func (d *Document) Changes(before *Document) []FieldChange {
	if before == nil {
		before = NewDocument()
	}
	paths := lo.Uniq(append(before.FieldPaths(), d.FieldPaths()...))
	sort.Strings(paths)
	var changes []FieldChange
	for _, path := range paths {
		old, cur := before.result.Get(path), d.result.Get(path)
		switch {
		case !cur.Exists():
			changes = append(changes, FieldChange{Path: path, Op: FieldRemoved, Before: old.Value()})
		case !old.Exists():
			changes = append(changes, FieldChange{Path: path, Op: FieldAdded, After: cur.Value()})
		case !reflect.DeepEqual(old.Value(), cur.Value()):
			changes = append(changes, FieldChange{Path: path, Op: FieldChanged, Before: old.Value(), After: cur.Value()})
		}
	}
	return changes
}

// FieldPaths returns the paths to fields & nested fields in dot notation format
func (d *Document) FieldPaths() []string {
	var paths []string
	fieldPaths(d.result, "", &paths)
	return paths
}

func fieldPaths(result gjson.Result, prefix string, paths *[]string) {
	result.ForEach(func(key, value gjson.Result) bool {
		path := pathEscaper.Replace(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		if value.IsObject() {
			fieldPaths(value, path, paths)
		} else {
			*paths = append(*paths, path)
		}
		return true
	})
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

// Documents is an array of documents
type Documents []*Document

// IDs returns the id of every document
func (documents Documents) IDs() []string {
	return lo.Map(documents, func(d *Document, _ int) string {
		return d.ID()
	})
}

// Filter applies the filter function against the documents
func (documents Documents) Filter(predicate func(document *Document, i int) bool) Documents {
	return lo.Filter(documents, predicate)
}
