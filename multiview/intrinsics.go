package multiview

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D
// scene to the 2D plane. Width and Height are informational; zero means unknown.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px,omitempty"`
	Height int     `json:"height_px,omitempty"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Skew   float64 `json:"skew,omitempty"`
}

// IdentityIntrinsics returns intrinsics whose camera matrix is the identity, i.e. markers are
// expressed in normalized image coordinates.
func IdentityIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Fx: 1, Fy: 1}
}

// NewPinholeCameraIntrinsicsFromMatrix reads the parameters back out of an upper triangular 3x3
// camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if k.At(1, 0) != 0 || k.At(2, 0) != 0 || k.At(2, 1) != 0 || k.At(2, 2) != 1 {
		return nil, errors.New("camera matrix must be upper triangular with K[2][2] == 1")
	}
	params := &PinholeCameraIntrinsics{
		Fx:   k.At(0, 0),
		Fy:   k.At(1, 1),
		Ppx:  k.At(0, 2),
		Ppy:  k.At(1, 2),
		Skew: k.At(0, 1),
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width < 0 || params.Height < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// K creates the camera matrix.
//
//	[[fx skew ppx],
//	 [0  fy   ppy],
//	 [0  0    1  ]]
func (params *PinholeCameraIntrinsics) K() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PointToPixel projects a point given in the camera frame onto the image plane. Unlike a
// rasterizer it keeps subpixel precision. The second return is false when the point has zero depth.
func (params *PinholeCameraIntrinsics) PointToPixel(pt r3.Vector) (r2.Point, bool) {
	if pt.Z == 0 {
		return r2.Point{}, false
	}
	x, y := pt.X/pt.Z, pt.Y/pt.Z
	return r2.Point{
		X: x*params.Fx + y*params.Skew + params.Ppx,
		Y: y*params.Fy + params.Ppy,
	}, true
}
