package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type bindingInfo struct {
	Prim   string
	Output string
}

func TestPayloadAs(t *testing.T) {
	assert := assert.New(t)

	rec := &Record{
		Code:    "X",
		Message: "boom",
		payload: bindingInfo{Prim: "/world/mtl/brass", Output: "outputs:surface"},
		hasInfo: true,
	}

	assert.True(rec.HasPayload())

	info, ok := PayloadAs[bindingInfo](rec)
	assert.True(ok)
	assert.Equal("/world/mtl/brass", info.Prim)

	// The dynamic type must match exactly; no coercion.
	_, ok = PayloadAs[*bindingInfo](rec)
	assert.False(ok)

	_, ok = PayloadAs[string](rec)
	assert.False(ok)
}

func TestPayloadAs_NoPayload(t *testing.T) {
	assert := assert.New(t)

	rec := &Record{Code: "X", Message: "boom"}

	assert.False(rec.HasPayload())

	_, ok := PayloadAs[int](rec)
	assert.False(ok)
}

func TestRecord_String(t *testing.T) {
	assert := assert.New(t)

	Register("torn_mesh", "A mesh has mismatched face counts")

	rec := &Record{
		Code:    "torn_mesh",
		Message: "faceVertexCounts does not cover faceVertexIndices",
		Location: Location{
			File:     "mesh.go",
			Line:     17,
			Function: "validateTopology",
		},
	}

	s := rec.String()
	assert.Contains(s, "A mesh has mismatched face counts")
	assert.Contains(s, "faceVertexCounts does not cover faceVertexIndices")
	assert.Contains(s, "mesh.go:17")
	assert.Contains(s, "validateTopology")
}

func TestRecord_StringUnregisteredCode(t *testing.T) {
	assert := assert.New(t)

	rec := &Record{
		Code:     "anonymous_code",
		Message:  "boom",
		Location: Location{File: "a.go", Line: 1},
	}

	assert.Contains(rec.String(), "anonymous_code: boom")
}

func TestLocation_String(t *testing.T) {
	assert := assert.New(t)

	withFunction := Location{File: "a.go", Line: 3, Function: "pkg.fn"}
	assert.Equal("a.go:3 (pkg.fn)", withFunction.String())

	bare := Location{File: "a.go", Line: 3}
	assert.Equal("a.go:3", bare.String())
}
