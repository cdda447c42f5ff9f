package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Load stages reported by LoadError.
const (
	StageLoad  = "load"
	StageBuild = "build"
)

// LoadError reports a CUE package that could not be loaded or built.
type LoadError struct {
	Stage string
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load builds the CUE package at path. A directory loads every file of its
// package; a file loads on its own.
func Load(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, err
	}
	cfg := &load.Config{Dir: path}
	args := []string{"."}
	if !info.IsDir() {
		cfg.Dir = filepath.Dir(path)
		args = []string{filepath.Base(path)}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return cue.Value{}, &LoadError{Stage: StageLoad, Path: path, Err: fmt.Errorf("no CUE instances loaded")}
	}
	if err := instances[0].Err; err != nil {
		return cue.Value{}, &LoadError{Stage: StageLoad, Path: path, Err: err}
	}

	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return cue.Value{}, &LoadError{Stage: StageBuild, Path: path, Err: err}
	}
	return value, nil
}

// EachExtension calls fn for every field of the top-level "extension"
// struct, in declaration order. It stops at the first error fn returns.
// A value without extensions calls fn zero times.
func EachExtension(v cue.Value, fn func(name string, decl cue.Value) error) error {
	extVal := v.LookupPath(cue.ParsePath("extension"))
	if !extVal.Exists() {
		return nil
	}
	iter, err := extVal.Fields()
	if err != nil {
		return fmt.Errorf("iterating extensions: %w", err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}
