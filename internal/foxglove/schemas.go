// Package foxglove defines the pinned Foxglove protobuf schemas used in the
// output log, builds their self-describing FileDescriptorSet payloads and
// encodes the corresponding messages.
//
// The schemas are declared statically rather than discovered from generated
// code, so every field the converter writes is known at compile time.
package foxglove

import (
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SchemaVersion identifies the pinned revision of the Foxglove schemas below.
const SchemaVersion = "foxglove-schemas-protobuf/v1"

// Fully-qualified names of the root message types written to the log.
const (
	PointCloudType      = "foxglove.PointCloud"
	CompressedImageType = "foxglove.CompressedImage"
	FrameTransformsType = "foxglove.FrameTransforms"
)

// SchemaEncoding is the MCAP schema encoding for FileDescriptorSet payloads.
const SchemaEncoding = "protobuf"

const timestampFile = "google/protobuf/timestamp.proto"

type fieldDef struct {
	name     string
	number   int32
	kind     descriptorpb.FieldDescriptorProto_Type
	typeName string // fully-qualified, leading dot; message and enum fields only
	repeated bool
}

type enumDef struct {
	name   string
	values []string // value number is the index
}

type messageDef struct {
	name   string
	fields []fieldDef
	enums  []enumDef
}

type fileDef struct {
	name     string
	deps     []string
	messages []messageDef
}

const (
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tFixed32 = descriptorpb.FieldDescriptorProto_TYPE_FIXED32
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

var foxgloveFiles = []fileDef{
	{
		name: "foxglove/Vector3.proto",
		messages: []messageDef{{
			name: "Vector3",
			fields: []fieldDef{
				{name: "x", number: 1, kind: tDouble},
				{name: "y", number: 2, kind: tDouble},
				{name: "z", number: 3, kind: tDouble},
			},
		}},
	},
	{
		name: "foxglove/Quaternion.proto",
		messages: []messageDef{{
			name: "Quaternion",
			fields: []fieldDef{
				{name: "x", number: 1, kind: tDouble},
				{name: "y", number: 2, kind: tDouble},
				{name: "z", number: 3, kind: tDouble},
				{name: "w", number: 4, kind: tDouble},
			},
		}},
	},
	{
		name: "foxglove/Pose.proto",
		deps: []string{"foxglove/Quaternion.proto", "foxglove/Vector3.proto"},
		messages: []messageDef{{
			name: "Pose",
			fields: []fieldDef{
				{name: "position", number: 1, kind: tMessage, typeName: ".foxglove.Vector3"},
				{name: "orientation", number: 2, kind: tMessage, typeName: ".foxglove.Quaternion"},
			},
		}},
	},
	{
		name: "foxglove/PackedElementField.proto",
		messages: []messageDef{{
			name: "PackedElementField",
			fields: []fieldDef{
				{name: "name", number: 1, kind: tString},
				{name: "offset", number: 2, kind: tFixed32},
				{name: "type", number: 3, kind: tEnum, typeName: ".foxglove.PackedElementField.NumericType"},
			},
			enums: []enumDef{{
				name:   "NumericType",
				values: []string{"UNKNOWN", "UINT8", "INT8", "UINT16", "INT16", "UINT32", "INT32", "FLOAT32", "FLOAT64"},
			}},
		}},
	},
	{
		name: "foxglove/PointCloud.proto",
		deps: []string{"foxglove/PackedElementField.proto", "foxglove/Pose.proto", timestampFile},
		messages: []messageDef{{
			name: "PointCloud",
			fields: []fieldDef{
				{name: "timestamp", number: 1, kind: tMessage, typeName: ".google.protobuf.Timestamp"},
				{name: "frame_id", number: 2, kind: tString},
				{name: "pose", number: 3, kind: tMessage, typeName: ".foxglove.Pose"},
				{name: "point_stride", number: 4, kind: tFixed32},
				{name: "fields", number: 5, kind: tMessage, typeName: ".foxglove.PackedElementField", repeated: true},
				{name: "data", number: 6, kind: tBytes},
			},
		}},
	},
	{
		name: "foxglove/CompressedImage.proto",
		deps: []string{timestampFile},
		messages: []messageDef{{
			name: "CompressedImage",
			fields: []fieldDef{
				{name: "timestamp", number: 1, kind: tMessage, typeName: ".google.protobuf.Timestamp"},
				{name: "frame_id", number: 4, kind: tString},
				{name: "data", number: 2, kind: tBytes},
				{name: "format", number: 3, kind: tString},
			},
		}},
	},
	{
		name: "foxglove/FrameTransform.proto",
		deps: []string{"foxglove/Quaternion.proto", "foxglove/Vector3.proto", timestampFile},
		messages: []messageDef{{
			name: "FrameTransform",
			fields: []fieldDef{
				{name: "timestamp", number: 1, kind: tMessage, typeName: ".google.protobuf.Timestamp"},
				{name: "parent_frame_id", number: 2, kind: tString},
				{name: "child_frame_id", number: 3, kind: tString},
				{name: "translation", number: 4, kind: tMessage, typeName: ".foxglove.Vector3"},
				{name: "rotation", number: 5, kind: tMessage, typeName: ".foxglove.Quaternion"},
			},
		}},
	},
	{
		name: "foxglove/FrameTransforms.proto",
		deps: []string{"foxglove/FrameTransform.proto"},
		messages: []messageDef{{
			name: "FrameTransforms",
			fields: []fieldDef{
				{name: "transforms", number: 1, kind: tMessage, typeName: ".foxglove.FrameTransform", repeated: true},
			},
		}},
	},
}

// toProto converts a static file definition to its descriptor form.
func (f fileDef) toProto() *descriptorpb.FileDescriptorProto {
	fd := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(f.name),
		Package:    proto.String("foxglove"),
		Dependency: append([]string(nil), f.deps...),
		Syntax:     proto.String("proto3"),
	}
	for _, m := range f.messages {
		fd.MessageType = append(fd.MessageType, m.toProto())
	}
	return fd
}

func (m messageDef) toProto() *descriptorpb.DescriptorProto {
	dp := &descriptorpb.DescriptorProto{Name: proto.String(m.name)}
	for _, f := range m.fields {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if f.repeated {
			label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		field := &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(f.name),
			Number:   proto.Int32(f.number),
			Label:    label.Enum(),
			Type:     f.kind.Enum(),
			JsonName: proto.String(jsonName(f.name)),
		}
		if f.typeName != "" {
			field.TypeName = proto.String(f.typeName)
		}
		dp.Field = append(dp.Field, field)
	}
	for _, e := range m.enums {
		ep := &descriptorpb.EnumDescriptorProto{Name: proto.String(e.name)}
		for i, v := range e.values {
			ep.Value = append(ep.Value, &descriptorpb.EnumValueDescriptorProto{
				Name:   proto.String(v),
				Number: proto.Int32(int32(i)),
			})
		}
		dp.EnumType = append(dp.EnumType, ep)
	}
	return dp
}

// jsonName mirrors protoc's lowerCamelCase json_name derivation.
func jsonName(name string) string {
	var b strings.Builder
	upper := false
	for _, r := range name {
		if r == '_' {
			upper = true
			continue
		}
		if upper && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		upper = false
		b.WriteRune(r)
	}
	return b.String()
}

// schemaFiles returns descriptor protos for every pinned file, including the
// well-known Timestamp dependency.
func schemaFiles() []*descriptorpb.FileDescriptorProto {
	files := make([]*descriptorpb.FileDescriptorProto, 0, len(foxgloveFiles)+1)
	files = append(files, protodesc.ToFileDescriptorProto(timestamppb.File_google_protobuf_timestamp_proto))
	for _, f := range foxgloveFiles {
		files = append(files, f.toProto())
	}
	return files
}
