// Package javascript compiles javascript programs into transformations. A program runs once per
// document in a fresh runtime with the globals:
//
//	document   the document as a plain object
//	ops        delete(partitionKey), update(newDocument), log(value)
//	console    log(...values)
//	ksuid()    returns a new sortable unique id
//	fn         sprig helper functions, e.g. fn.upper("x")
//
// A program may also declare a top level function named transform, which is then called with
// (document, ops) after the program body has run.
package javascript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/sprig/v3"
	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
	"github.com/dop251/goja"
	"github.com/segmentio/ksuid"
)

// EntryPoint is the name of the optional function called for each document
const EntryPoint = "transform"

// Script is a compiled javascript transformation. It is safe for concurrent use.
type Script struct {
	name    string
	program *goja.Program
	logger  foreach.Logger
	helpers map[string]any
}

// Option configures a Script
type Option func(s *Script)

// WithLogger sets the logger used by console.log
func WithLogger(logger foreach.Logger) Option {
	return func(s *Script) {
		s.logger = logger
	}
}

// WithGlobal sets an additional global value
func WithGlobal(name string, value any) Option {
	return func(s *Script) {
		s.helpers[name] = value
	}
}

// Compile compiles the javascript source
func Compile(name, source string, opts ...Option) (*Script, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to compile script %s", name)
	}
	s := &Script{
		name:    name,
		program: program,
		logger:  foreach.NopLogger(),
		helpers: map[string]any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CompileFile reads and compiles the javascript file at path
func CompileFile(path string, opts ...Option) (*Script, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to read script")
	}
	return Compile(filepath.Base(path), string(bits), opts...)
}

// Name returns the script's name
func (s *Script) Name() string {
	return s.name
}

// Transform runs the program against the document. The run is interrupted when ctx is done.
func (s *Script) Transform(ctx context.Context, doc *foreach.Document, ops *foreach.Ops) error {
	vm, err := s.runtime(ctx, doc, ops)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()
	if _, err := vm.RunProgram(s.program); err != nil {
		return s.wrap(err)
	}
	if entry, ok := goja.AssertFunction(vm.Get(EntryPoint)); ok {
		if _, err := entry(goja.Undefined(), vm.Get("document"), vm.Get("ops")); err != nil {
			return s.wrap(err)
		}
	}
	return nil
}

func (s *Script) wrap(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return errors.Wrap(err, errors.Timeout, "script %s interrupted", s.name)
	}
	return errors.Wrap(err, errors.Validation, "script %s failed", s.name)
}

func (s *Script) runtime(ctx context.Context, doc *foreach.Document, ops *foreach.Ops) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	export := func(call goja.FunctionCall) any {
		if len(call.Arguments) == 0 {
			return nil
		}
		return call.Argument(0).Export()
	}
	globals := map[string]any{
		"ops": map[string]any{
			"delete": func(call goja.FunctionCall) goja.Value {
				ops.Delete(export(call))
				return goja.Undefined()
			},
			"update": func(call goja.FunctionCall) goja.Value {
				ops.Update(export(call))
				return goja.Undefined()
			},
			"log": func(call goja.FunctionCall) goja.Value {
				ops.Log(export(call))
				return goja.Undefined()
			},
		},
		"console": map[string]any{
			"log": func(call goja.FunctionCall) goja.Value {
				var values []any
				for _, arg := range call.Arguments {
					values = append(values, arg.Export())
				}
				s.logger.Info(ctx, "console.log", map[string]any{
					"script": s.name,
					"id":     doc.ID(),
					"values": values,
				})
				return goja.Undefined()
			},
		},
		"ksuid": func() string {
			return ksuid.New().String()
		},
		"fn": sprig.GenericFuncMap(),
	}
	for k, v := range s.helpers {
		globals[k] = v
	}
	for k, v := range globals {
		if err := vm.Set(k, v); err != nil {
			return nil, errors.Wrap(err, errors.Internal, fmt.Sprintf("failed to set global %s", k))
		}
	}
	// parse inside the runtime so the document is a plain javascript object
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New(errors.Internal, "JSON.parse is unavailable")
	}
	document, err := parse(goja.Undefined(), vm.ToValue(doc.String()))
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to parse document %s", doc.ID())
	}
	if err := vm.Set("document", document); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to set document")
	}
	return vm, nil
}
