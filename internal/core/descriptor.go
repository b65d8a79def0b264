package core

import (
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// Descriptor is the engine's reflection-derived view of one task definition.
//
// Exactly one Descriptor exists per registered task type. It is immutable
// after construction and safe for concurrent reads.
type Descriptor struct {
	// Name is the bare type name, e.g. "Compile".
	Name string
	// PkgPath is the defining package import path.
	PkgPath string
	// Type is the pointer-to-struct type of the definition.
	Type reflect.Type

	// Exports maps export name -> struct field index.
	Exports map[string]int

	HasRun    bool
	HasClean  bool
	IsSection bool

	// RunPC is the entry PC of the Run (or, for sections, Impl) method.
	// The analyzer turns it into a source location.
	RunPC uintptr

	proto reflect.Value // snapshot of the registered prototype struct
}

// Describe builds a Descriptor for a task prototype. The prototype must be a
// non-nil pointer to a struct embedding Base.
func Describe(proto Task) (*Descriptor, error) {
	t := reflect.TypeOf(proto)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("task prototype must be a pointer to struct, got %T", proto)
	}
	elem := t.Elem()
	if elem.Name() == "" {
		return nil, errors.New("task prototype must be a named type")
	}

	d := &Descriptor{
		Name:    elem.Name(),
		PkgPath: elem.PkgPath(),
		Type:    t,
		Exports: make(map[string]int),
	}

	for i := 0; i < elem.NumField(); i++ {
		f := elem.Field(i)
		tag, ok := f.Tag.Lookup("export")
		if !ok {
			continue
		}
		if tag == "" {
			return nil, errors.Errorf("%s: empty export tag on field %s", d.Name, f.Name)
		}
		if !f.IsExported() {
			return nil, errors.Errorf("%s: export tag on unexported field %s", d.Name, f.Name)
		}
		if _, dup := d.Exports[tag]; dup {
			return nil, errors.Errorf("%s: duplicate export name %q", d.Name, tag)
		}
		d.Exports[tag] = i
	}

	_, d.HasRun = proto.(Runner)
	_, d.HasClean = proto.(Cleaner)
	_, d.IsSection = proto.(Section)

	if d.IsSection {
		if _, ok := proto.(Sectioner); !ok {
			return nil, errors.Errorf("%s: section must define an Impl method", d.Name)
		}
		if m, ok := t.MethodByName("Impl"); ok {
			d.RunPC = m.Func.Pointer()
		}
	} else if d.HasRun {
		if m, ok := t.MethodByName("Run"); ok {
			d.RunPC = m.Func.Pointer()
		}
	}

	// Snapshot the prototype so field literals act as defaults for every
	// fresh instance, immune to later mutation of the caller's value.
	pv := reflect.New(elem).Elem()
	pv.Set(reflect.ValueOf(proto).Elem())
	d.proto = pv

	return d, nil
}

// QualifiedName returns the registry key, "<pkgpath>.<Name>".
func (d *Descriptor) QualifiedName() string {
	if d.PkgPath == "" {
		return d.Name
	}
	return d.PkgPath + "." + d.Name
}

// New returns a fresh task instance initialized from the registered
// prototype.
func (d *Descriptor) New() Task {
	v := reflect.New(d.Type.Elem())
	v.Elem().Set(d.proto)
	return v.Interface().(Task)
}

// ExportNames returns the declared export names in sorted order.
func (d *Descriptor) ExportNames() []string {
	out := make([]string, 0, len(d.Exports))
	for name := range d.Exports {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExportValue reads the named export field from an instance of this task.
func (d *Descriptor) ExportValue(inst Task, name string) (any, error) {
	idx, ok := d.Exports[name]
	if !ok {
		return nil, errors.Errorf("%s: no export named %q", d.Name, name)
	}
	v := reflect.ValueOf(inst)
	if v.Type() != d.Type {
		return nil, errors.Errorf("%s: instance type mismatch: %T", d.Name, inst)
	}
	return v.Elem().Field(idx).Interface(), nil
}
