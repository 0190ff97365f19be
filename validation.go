package foreach

import (
	"context"
	"strings"

	"github.com/autom8ter/foreach/errors"
	"github.com/samber/lo"
	"github.com/xeipuuv/gojsonschema"
)

// DocumentValidator validates a replacement document before it is written
type DocumentValidator func(ctx context.Context, doc *Document) error

// JSONSchema creates a document validator from the given json schema - https://json-schema.org/
func JSONSchema(schemaContent []byte) (DocumentValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaContent))
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to load json schema")
	}
	return func(ctx context.Context, doc *Document) error {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(doc.Bytes()))
		if err != nil {
			return errors.Wrap(err, errors.Validation, "failed to validate document %s", doc.ID())
		}
		if !result.Valid() {
			msgs := lo.Map(result.Errors(), func(e gojsonschema.ResultError, _ int) string {
				return e.String()
			})
			return errors.New(errors.Validation, "document %s is invalid: %s", doc.ID(), strings.Join(msgs, "; "))
		}
		return nil
	}, nil
}

// RequireID is a validator that rejects documents without an id
func RequireID(ctx context.Context, doc *Document) error {
	if doc.ID() == "" {
		return errors.New(errors.Validation, "document is missing an '%s' field", IDField)
	}
	return nil
}
