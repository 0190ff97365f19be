package foreach

import (
	"context"
	"time"

	"github.com/autom8ter/foreach/errors"
)

// Transformation declares at most one mutation per document through the ops capability object.
// It must not perform the mutation itself.
type Transformation interface {
	Transform(ctx context.Context, doc *Document, ops *Ops) error
}

// TransformFunc adapts a function to the Transformation interface
type TransformFunc func(ctx context.Context, doc *Document, ops *Ops) error

// Transform calls f(ctx, doc, ops)
func (f TransformFunc) Transform(ctx context.Context, doc *Document, ops *Ops) error {
	return f(ctx, doc, ops)
}

// runTransform invokes the transformation against a clone of the document and returns the declared
// intent. Errors and panics are isolated to the document: the intent falls back to NoOp.
func runTransform(ctx context.Context, transformation Transformation, doc *Document, timeout time.Duration) (intent Intent, err error) {
	id := doc.ID()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			intent = Intent{Kind: NoOp}
			err = &TransformError{ID: id, Err: errors.New(errors.Internal, "panic: %v", r)}
		}
	}()
	ops := &Ops{}
	if terr := transformation.Transform(ctx, doc.Clone(), ops); terr != nil {
		return Intent{Kind: NoOp}, &TransformError{ID: id, Err: terr}
	}
	intent, ierr := ops.Intent()
	if ierr != nil {
		return Intent{Kind: NoOp}, &TransformError{ID: id, Err: ierr}
	}
	if intent.Kind == Replace {
		intent.Original = doc
	}
	return intent, nil
}
