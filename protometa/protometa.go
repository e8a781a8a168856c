// Package protometa derives class descriptors from protobuf message
// descriptors, so protobuf messages can be handed to scripts like any other
// host object.
package protometa

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

var log = commonlog.GetLogger("garnet.protometa")

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

// Message is a host object wrapping a protobuf message.
type Message struct {
	object.Base

	msg   protoreflect.Message
	class *meta.Class

	mu       sync.Mutex
	children map[proto.Message]*Message
}

// Wrap exposes an existing message. The message is shared, not copied.
func Wrap(m proto.Message) *Message {
	return wrap(m.ProtoReflect())
}

func wrap(m protoreflect.Message) *Message {
	class, err := Describe(m.Descriptor())
	if err != nil {
		// Objects without a descriptor wrap as the root class.
		log.Warningf("%s: %v", m.Descriptor().FullName(), err)
	}
	return &Message{msg: m, class: class}
}

// New creates an empty message of type md. Generated Go types are used when
// linked into the binary, dynamic messages otherwise.
func New(md protoreflect.MessageDescriptor) *Message {
	return wrap(newMessage(md))
}

func newMessage(md protoreflect.MessageDescriptor) protoreflect.Message {
	if mt, err := protoregistry.GlobalTypes.FindMessageByName(md.FullName()); err == nil && mt.Descriptor() == md {
		return mt.New()
	}
	return dynamicpb.NewMessage(md)
}

// MetaClass implements meta.Described.
func (m *Message) MetaClass() *meta.Class { return m.class }

// Proto returns the wrapped message.
func (m *Message) Proto() proto.Message { return m.msg.Interface() }

// Descriptor returns the message descriptor.
func (m *Message) Descriptor() protoreflect.MessageDescriptor { return m.msg.Descriptor() }

func (m *Message) String() string {
	data, err := protojson.MarshalOptions{}.Marshal(m.msg.Interface())
	if err != nil {
		return fmt.Sprintf("#<%s>", m.msg.Descriptor().Name())
	}
	return fmt.Sprintf("#<%s %s>", m.msg.Descriptor().Name(), data)
}

// child returns the wrapper for a nested message, reusing the previous
// wrapper while the nested message is the same. Children are destroyed with
// their parent.
func (m *Message) child(sub protoreflect.Message) *Message {
	key := sub.Interface()
	m.mu.Lock()
	if c := m.children[key]; c != nil && !c.Destroyed() {
		m.mu.Unlock()
		return c
	}
	first := m.children == nil
	if first {
		m.children = make(map[proto.Message]*Message)
	}
	c := wrap(sub)
	m.children[key] = c
	m.mu.Unlock()
	if first {
		m.OnDestroy(m.destroyChildren)
	}
	return c
}

func (m *Message) destroyChildren() {
	m.mu.Lock()
	children := m.children
	m.children = nil
	m.mu.Unlock()
	for _, c := range children {
		c.Destroy()
	}
}

// ---------------------------------------------------------------------------
// Descriptors
// ---------------------------------------------------------------------------

var (
	classesMu sync.Mutex
	classes   = make(map[protoreflect.MessageDescriptor]*meta.Class)
)

// Describe returns the class descriptor of messages of type md. Descriptors
// are memoized, so the same message type always yields the same class.
//
// The class has a zero-argument constructor and one taking a Map of field
// values, one property per field (named by its JSON name) and the methods
// has(field), clear(field), reset(), toJSON(), fromJSON(text) and
// typeName().
func Describe(md protoreflect.MessageDescriptor) (*meta.Class, error) {
	classesMu.Lock()
	defer classesMu.Unlock()
	if c := classes[md]; c != nil {
		return c, nil
	}
	name := string(md.Name())
	if !meta.ValidName(name) {
		return nil, fmt.Errorf("protometa: message name %q is not a valid class name", name)
	}

	c := &meta.Class{Name: name}
	c.Constructors = []*meta.Constructor{
		{
			Signature: meta.Sig(),
			New: func(meta.Arguments) (object.Object, error) {
				return New(md), nil
			},
		},
		{
			Signature: meta.Sig(meta.Map),
			New: func(args meta.Arguments) (object.Object, error) {
				m := New(md)
				if err := m.assign(args.At(0).AsMap()); err != nil {
					return nil, err
				}
				return m, nil
			},
		},
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		c.Properties = append(c.Properties, property(fd))
	}
	c.Methods = messageMethods()

	classes[md] = c
	log.Debugf("described %s as %s (%d fields)", md.FullName(), name, fields.Len())
	return c, nil
}

// MustDescribe is like Describe but panics on error.
func MustDescribe(md protoreflect.MessageDescriptor) *meta.Class {
	c, err := Describe(md)
	if err != nil {
		panic(err)
	}
	return c
}

// DescribeName describes a message type linked into the binary, by full
// name.
func DescribeName(fullName string) (*meta.Class, error) {
	mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, fmt.Errorf("protometa: %s: %w", fullName, err)
	}
	return Describe(mt.Descriptor())
}

// LoadDescriptorSet reads a binary FileDescriptorSet (as written by
// protoc --descriptor_set_out) and describes every top-level message in it.
func LoadDescriptorSet(path string) ([]*meta.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor set %s: %w", path, err)
	}

	var out []*meta.Class
	var failed error
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		msgs := fd.Messages()
		for i := 0; i < msgs.Len(); i++ {
			c, err := Describe(msgs.Get(i))
			if err != nil {
				failed = err
				return false
			}
			out = append(out, c)
		}
		return true
	})
	if failed != nil {
		return nil, failed
	}
	return out, nil
}

// LoadProtoFiles parses .proto sources and describes every top-level message
// they declare. Each file's own directory and the working directory are
// searched for its imports.
func LoadProtoFiles(paths ...string) ([]*meta.Class, error) {
	var out []*meta.Class
	for _, path := range paths {
		parser := protoparse.Parser{
			ImportPaths: []string{filepath.Dir(path), "."},
		}
		fds, err := parser.ParseFiles(filepath.Base(path))
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		for _, fd := range fds {
			for _, md := range fd.GetMessageTypes() {
				c, err := Describe(md.UnwrapMessage())
				if err != nil {
					return nil, err
				}
				out = append(out, c)
			}
		}
		log.Debugf("loaded %s (%d classes so far)", path, len(out))
	}
	return out, nil
}

// fieldName is the script name of a field.
func fieldName(fd protoreflect.FieldDescriptor) string {
	if name := fd.JSONName(); meta.ValidName(name) {
		return name
	}
	return string(fd.Name())
}

// findField resolves a field by script name or proto name.
func (m *Message) findField(name string) protoreflect.FieldDescriptor {
	fields := m.msg.Descriptor().Fields()
	if fd := fields.ByJSONName(name); fd != nil {
		return fd
	}
	return fields.ByName(protoreflect.Name(name))
}

func property(fd protoreflect.FieldDescriptor) *meta.Property {
	return &meta.Property{
		Name: fieldName(fd),
		Type: fieldType(fd),
		Get: func(self object.Object) (variant.Value, error) {
			return self.(*Message).get(fd), nil
		},
		Set: func(self object.Object, v variant.Value) error {
			return self.(*Message).set(fd, v)
		},
	}
}

func fieldType(fd protoreflect.FieldDescriptor) meta.Type {
	switch {
	case fd.IsList():
		return meta.List
	case fd.IsMap():
		return meta.Map
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return meta.Bool
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return meta.Float
	case protoreflect.StringKind, protoreflect.BytesKind:
		return meta.String
	case protoreflect.EnumKind, protoreflect.MessageKind, protoreflect.GroupKind:
		// Enums take numbers or value names, messages take objects or maps.
		return meta.Dynamic
	}
	return meta.Int
}

func messageMethods() []*meta.Method {
	field := func(self object.Object, args meta.Arguments) (*Message, protoreflect.FieldDescriptor, error) {
		m := self.(*Message)
		name := args.String(0)
		fd := m.findField(name)
		if fd == nil {
			return nil, nil, meta.Errorf(meta.NameError, "%s has no field %q", m.msg.Descriptor().Name(), name)
		}
		return m, fd, nil
	}
	return []*meta.Method{
		{
			Name:      "has",
			Signature: meta.Sig(meta.String),
			Invoke: func(self object.Object, args meta.Arguments) (variant.Value, error) {
				m, fd, err := field(self, args)
				if err != nil {
					return variant.Null, err
				}
				return variant.Bool(m.msg.Has(fd)), nil
			},
		},
		{
			Name:      "clear",
			Signature: meta.Sig(meta.String),
			Invoke: func(self object.Object, args meta.Arguments) (variant.Value, error) {
				m, fd, err := field(self, args)
				if err != nil {
					return variant.Null, err
				}
				m.msg.Clear(fd)
				return variant.Null, nil
			},
		},
		{
			Name:      "reset",
			Signature: meta.Sig(),
			Invoke: func(self object.Object, _ meta.Arguments) (variant.Value, error) {
				m := self.(*Message)
				proto.Reset(m.msg.Interface())
				return variant.Null, nil
			},
		},
		{
			Name:      "toJSON",
			Signature: meta.Sig(),
			Invoke: func(self object.Object, _ meta.Arguments) (variant.Value, error) {
				data, err := protojson.Marshal(self.(*Message).msg.Interface())
				if err != nil {
					return variant.Null, fmt.Errorf("toJSON: %w", err)
				}
				return variant.String(string(data)), nil
			},
		},
		{
			Name:      "fromJSON",
			Signature: meta.Sig(meta.String),
			Invoke: func(self object.Object, args meta.Arguments) (variant.Value, error) {
				m := self.(*Message)
				if err := protojson.Unmarshal([]byte(args.String(0)), m.msg.Interface()); err != nil {
					return variant.Null, meta.ArgumentErrorf("fromJSON: %v", err)
				}
				return variant.Null, nil
			},
		},
		{
			Name:      "typeName",
			Signature: meta.Sig(),
			Invoke: func(self object.Object, _ meta.Arguments) (variant.Value, error) {
				return variant.String(string(self.(*Message).msg.Descriptor().FullName())), nil
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

// Get returns the value of the named field.
func (m *Message) Get(name string) (variant.Value, error) {
	fd := m.findField(name)
	if fd == nil {
		return variant.Null, meta.Errorf(meta.NameError, "%s has no field %q", m.msg.Descriptor().Name(), name)
	}
	return m.get(fd), nil
}

// Set assigns the named field. Null clears it.
func (m *Message) Set(name string, v variant.Value) error {
	fd := m.findField(name)
	if fd == nil {
		return meta.Errorf(meta.NameError, "%s has no field %q", m.msg.Descriptor().Name(), name)
	}
	return m.set(fd, v)
}

func (m *Message) get(fd protoreflect.FieldDescriptor) variant.Value {
	switch {
	case fd.IsList():
		list := m.msg.Get(fd).List()
		out := make([]variant.Value, list.Len())
		for i := range out {
			out[i] = m.fromProto(fd, list.Get(i))
		}
		return variant.List(out...)
	case fd.IsMap():
		out := variant.NewMap()
		m.msg.Get(fd).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
			out.Set(m.fromProto(fd.MapKey(), k.Value()), m.fromProto(fd.MapValue(), v))
			return true
		})
		return variant.MapValue(out)
	case isMessage(fd):
		if !m.msg.Has(fd) {
			return variant.Null
		}
		return variant.Object(m.child(m.msg.Mutable(fd).Message()))
	}
	return m.fromProto(fd, m.msg.Get(fd))
}

func (m *Message) set(fd protoreflect.FieldDescriptor, v variant.Value) error {
	if v.IsNull() {
		m.msg.Clear(fd)
		return nil
	}
	switch {
	case fd.IsList():
		if v.Kind() != variant.KindList {
			return meta.TypeErrorf("%s: List expected, got %s", fd.Name(), v.Kind())
		}
		list := m.msg.NewField(fd).List()
		for _, e := range v.AsList() {
			pv, err := toProto(fd, e, list.NewElement)
			if err != nil {
				return err
			}
			list.Append(pv)
		}
		m.msg.Set(fd, protoreflect.ValueOfList(list))
		return nil
	case fd.IsMap():
		mv, ok := meta.Map.Coerce(v)
		if !ok {
			return meta.TypeErrorf("%s: Map expected, got %s", fd.Name(), v.Kind())
		}
		pm := m.msg.NewField(fd).Map()
		for _, e := range mv.AsMap().Entries() {
			k, err := toProto(fd.MapKey(), e.Key, nil)
			if err != nil {
				return err
			}
			val, err := toProto(fd.MapValue(), e.Value, pm.NewValue)
			if err != nil {
				return err
			}
			pm.Set(k.MapKey(), val)
		}
		m.msg.Set(fd, protoreflect.ValueOfMap(pm))
		return nil
	}
	pv, err := toProto(fd, v, func() protoreflect.Value { return m.msg.NewField(fd) })
	if err != nil {
		return err
	}
	m.msg.Set(fd, pv)
	return nil
}

// assign sets fields from a map of field name to value.
func (m *Message) assign(fields *variant.Map) error {
	for _, e := range fields.Entries() {
		name := e.Key.AsString()
		if k := e.Key.Kind(); k != variant.KindString && k != variant.KindSymbol {
			return meta.ArgumentErrorf("%s: field names must be strings, got %s", m.msg.Descriptor().Name(), k)
		}
		if err := m.Set(name, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func isMessage(fd protoreflect.FieldDescriptor) bool {
	return fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind
}

// fromProto converts a singular value of field fd.
func (m *Message) fromProto(fd protoreflect.FieldDescriptor, v protoreflect.Value) variant.Value {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return variant.Bool(v.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return variant.Int(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if u := v.Uint(); u > math.MaxInt64 {
			return variant.Float(float64(u))
		}
		return variant.Int(int64(v.Uint()))
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return variant.Float(v.Float())
	case protoreflect.StringKind:
		return variant.String(v.String())
	case protoreflect.BytesKind:
		return variant.String(string(v.Bytes()))
	case protoreflect.EnumKind:
		return variant.Int(int64(v.Enum()))
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return variant.Object(m.child(v.Message()))
	}
	return variant.Null
}

// toProto converts a singular value for field fd. newMessage supplies the
// destination for message values.
func toProto(fd protoreflect.FieldDescriptor, v variant.Value, newMessage func() protoreflect.Value) (protoreflect.Value, error) {
	mismatch := func(want string) (protoreflect.Value, error) {
		return protoreflect.Value{}, meta.TypeErrorf("%s: %s expected, got %s", fd.Name(), want, v.Kind())
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if v.Kind() != variant.KindBool {
			return mismatch("Bool")
		}
		return protoreflect.ValueOfBool(v.AsBool()), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, ok := meta.Int.Coerce(v)
		if !ok || n.AsInt() < math.MinInt32 || n.AsInt() > math.MaxInt32 {
			return mismatch("32-bit Int")
		}
		return protoreflect.ValueOfInt32(int32(n.AsInt())), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, ok := meta.Int.Coerce(v)
		if !ok {
			return mismatch("Int")
		}
		return protoreflect.ValueOfInt64(n.AsInt()), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, ok := meta.Int.Coerce(v)
		if !ok || n.AsInt() < 0 || n.AsInt() > math.MaxUint32 {
			return mismatch("unsigned 32-bit Int")
		}
		return protoreflect.ValueOfUint32(uint32(n.AsInt())), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, ok := meta.Int.Coerce(v)
		if !ok || n.AsInt() < 0 {
			return mismatch("unsigned Int")
		}
		return protoreflect.ValueOfUint64(uint64(n.AsInt())), nil
	case protoreflect.FloatKind:
		f, ok := meta.Float.Coerce(v)
		if !ok {
			return mismatch("Float")
		}
		return protoreflect.ValueOfFloat32(float32(f.AsFloat())), nil
	case protoreflect.DoubleKind:
		f, ok := meta.Float.Coerce(v)
		if !ok {
			return mismatch("Float")
		}
		return protoreflect.ValueOfFloat64(f.AsFloat()), nil
	case protoreflect.StringKind:
		s, ok := meta.String.Coerce(v)
		if !ok {
			return mismatch("String")
		}
		return protoreflect.ValueOfString(s.AsString()), nil
	case protoreflect.BytesKind:
		s, ok := meta.String.Coerce(v)
		if !ok {
			return mismatch("String")
		}
		return protoreflect.ValueOfBytes([]byte(s.AsString())), nil
	case protoreflect.EnumKind:
		switch v.Kind() {
		case variant.KindString, variant.KindSymbol:
			ev := fd.Enum().Values().ByName(protoreflect.Name(v.AsString()))
			if ev == nil {
				return protoreflect.Value{}, meta.ArgumentErrorf("%s: %s has no value %q", fd.Name(), fd.Enum().Name(), v.AsString())
			}
			return protoreflect.ValueOfEnum(ev.Number()), nil
		}
		n, ok := meta.Int.Coerce(v)
		if !ok || n.AsInt() < math.MinInt32 || n.AsInt() > math.MaxInt32 {
			return mismatch("enum name or number")
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n.AsInt())), nil
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return toMessage(fd, v, newMessage)
	}
	return mismatch(fd.Kind().String())
}

func toMessage(fd protoreflect.FieldDescriptor, v variant.Value, newMessage func() protoreflect.Value) (protoreflect.Value, error) {
	dst := newMessage()
	switch v.Kind() {
	case variant.KindObject:
		src, ok := v.AsObject().(*Message)
		if !ok || src.msg.Descriptor().FullName() != fd.Message().FullName() {
			return protoreflect.Value{}, meta.TypeErrorf("%s: %s expected", fd.Name(), fd.Message().Name())
		}
		proto.Merge(dst.Message().Interface(), src.msg.Interface())
		return dst, nil
	case variant.KindMap, variant.KindList:
		fields, ok := meta.Map.Coerce(v)
		if !ok {
			break
		}
		tmp := &Message{msg: dst.Message()}
		if err := tmp.assign(fields.AsMap()); err != nil {
			return protoreflect.Value{}, err
		}
		return dst, nil
	}
	return protoreflect.Value{}, meta.TypeErrorf("%s: %s or Map expected, got %s", fd.Name(), fd.Message().Name(), v.Kind())
}
