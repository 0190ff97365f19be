package foreach

import (
	"encoding/json"
	"sync"

	"github.com/autom8ter/foreach/errors"
)

// Kind is the kind of mutation a transformation declared for a document
type Kind int

const (
	// NoOp leaves the document untouched
	NoOp Kind = iota
	// Delete removes the document from the container
	Delete
	// Replace upserts a new version of the document
	Replace
	// Log writes a value to the log sink
	Log
)

var kindNames = map[Kind]string{
	NoOp:    "noop",
	Delete:  "delete",
	Replace: "replace",
	Log:     "log",
}

// String returns the kind's name
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Intent is the single mutation declared for a document
type Intent struct {
	Kind         Kind
	PartitionKey any
	Document     *Document
	Value        any
	// Original is the document a replacement was derived from
	Original *Document
}

// Ops is the capability object handed to a transformation. Each call records an intent and
// overwrites the previous one; no I/O happens until the transformation returns.
type Ops struct {
	mu     sync.Mutex
	intent Intent
	update any
}

// Delete declares that the document should be deleted using the given partition key
func (o *Ops) Delete(partitionKey any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intent = Intent{Kind: Delete, PartitionKey: partitionKey}
	o.update = nil
}

// Update declares that the document should be replaced with the given value. The value may be a
// *Document, json bytes or string, or anything json encodable.
func (o *Ops) Update(newDocument any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intent = Intent{Kind: Replace}
	o.update = newDocument
}

// Log declares that the value should be written to the log sink
func (o *Ops) Log(value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intent = Intent{Kind: Log, Value: value}
	o.update = nil
}

// Intent returns the last declared intent, converting a pending update into a document
func (o *Ops) Intent() (Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent.Kind != Replace {
		return o.intent, nil
	}
	doc, err := NewDocumentFrom(o.update)
	if err != nil {
		return Intent{Kind: NoOp}, errors.Wrap(err, errors.Validation, "invalid replacement document")
	}
	return Intent{Kind: Replace, Document: doc}, nil
}
