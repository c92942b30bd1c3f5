package foxglove

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
)

// SchemaResolutionError reports that a message type's descriptor closure
// could not be assembled. No channel can be registered without it.
type SchemaResolutionError struct {
	Type    string // root message type being resolved
	Missing string // file that could not be found, if any
	Err     error
}

func (e *SchemaResolutionError) Error() string {
	switch {
	case e.Missing != "":
		return fmt.Sprintf("resolve schema %s: missing descriptor file %q", e.Type, e.Missing)
	case e.Err != nil:
		return fmt.Sprintf("resolve schema %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("resolve schema %s: unknown message type", e.Type)
	}
}

func (e *SchemaResolutionError) Unwrap() error { return e.Err }

// Registry maps file names to descriptors and message names to the file that
// declares them.
type Registry struct {
	files    map[string]*descriptorpb.FileDescriptorProto
	messages map[string]string
}

// NewRegistry indexes the given files. Later files with the same name
// replace earlier ones.
func NewRegistry(files ...*descriptorpb.FileDescriptorProto) *Registry {
	r := &Registry{
		files:    make(map[string]*descriptorpb.FileDescriptorProto, len(files)),
		messages: make(map[string]string),
	}
	for _, fd := range files {
		r.files[fd.GetName()] = fd
		for _, m := range fd.GetMessageType() {
			full := m.GetName()
			if pkg := fd.GetPackage(); pkg != "" {
				full = pkg + "." + full
			}
			r.messages[full] = fd.GetName()
		}
	}
	return r
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the registry of pinned Foxglove schemas.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(schemaFiles()...)
	})
	return defaultRegistry
}

// Resolve returns the FileDescriptorSet holding the file that declares
// typeName followed by every file it transitively imports, each once.
// The order is depth-first from the root, so it is stable for a fixed
// registry.
func (r *Registry) Resolve(typeName string) (*descriptorpb.FileDescriptorSet, error) {
	root, ok := r.messages[typeName]
	if !ok {
		return nil, &SchemaResolutionError{Type: typeName}
	}

	set := &descriptorpb.FileDescriptorSet{}
	seen := make(map[string]bool)

	var add func(name string) error
	add = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true

		fd, ok := r.files[name]
		if !ok {
			return &SchemaResolutionError{Type: typeName, Missing: name}
		}
		set.File = append(set.File, proto.Clone(fd).(*descriptorpb.FileDescriptorProto))
		for _, dep := range fd.GetDependency() {
			if err := add(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(root); err != nil {
		return nil, err
	}

	// Link the closure to catch dangling type references early.
	if _, err := protodesc.NewFiles(set); err != nil {
		return nil, &SchemaResolutionError{Type: typeName, Err: err}
	}
	return set, nil
}

// Build returns the serialized FileDescriptorSet for typeName. The output
// is byte-identical across runs for a fixed registry.
func (r *Registry) Build(typeName string) ([]byte, error) {
	set, err := r.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(set)
	if err != nil {
		return nil, &SchemaResolutionError{Type: typeName, Err: err}
	}
	return data, nil
}

// BuildSchema is shorthand for DefaultRegistry().Build(typeName).
func BuildSchema(typeName string) ([]byte, error) {
	return DefaultRegistry().Build(typeName)
}
