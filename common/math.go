package common

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// PutMat4 writes m into buf as 16 little-endian float32 values (64 bytes).
//
// Parameters:
//   - buf: destination, at least 64 bytes long
//   - m: the matrix to write (column-major)
func PutMat4(buf []byte, m mgl32.Mat4) {
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(m[i]))
	}
}

// PutVec3 writes v into buf as 3 little-endian float32 values (12 bytes).
func PutVec3(buf []byte, v mgl32.Vec3) {
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
	}
}

// PutFloat32 writes a single little-endian float32.
func PutFloat32(buf []byte, f float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
}

// NormalMatrix derives the matrix used to transform normals from a world matrix:
// the inverse-transpose of its upper 3x3, widened back to a 4x4 for std430 upload.
// A singular world matrix yields the identity.
//
// Parameters:
//   - world: the object's world matrix
//
// Returns:
//   - mgl32.Mat4: the normal matrix
func NormalMatrix(world mgl32.Mat4) mgl32.Mat4 {
	upper := world.Mat3()
	if upper.Det() == 0 {
		return mgl32.Ident4()
	}
	return upper.Inv().Transpose().Mat4()
}

// TransformPoint applies m to p with perspective divide.
//
// Parameters:
//   - m: the transform
//   - p: the point
//
// Returns:
//   - mgl32.Vec3: the transformed point
//   - float32: the clip-space w before the divide
func TransformPoint(m mgl32.Mat4, p mgl32.Vec3) (mgl32.Vec3, float32) {
	v := m.Mul4x1(p.Vec4(1))
	if v[3] == 0 {
		return v.Vec3(), 0
	}
	return v.Vec3().Mul(1 / v[3]), v[3]
}
