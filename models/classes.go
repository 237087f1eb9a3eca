// Package models - Object kinds, ranked object lists and class-name loading.
package models

import "fmt"

// MaxObjects is the number of ranked objects reported per frame.
const MaxObjects = 20

// ObjectType identifies the kind of target an object was recognized as.
//
// ObjectNone is the sentinel that ends a ranked list. Class index i of the
// network maps to ObjectType(i+1).
type ObjectType uint32

const (
	ObjectNone ObjectType = iota
	ObjectCube
	ObjectScaleCenter
	ObjectScaleBlue
	ObjectScaleRed
	ObjectSwitchRed
	ObjectSwitchBlue
	ObjectPortalRed
	ObjectPortalBlue
	ObjectExchangeRed
	ObjectExchangeBlue
	ObjectBumpersRed
	ObjectBumpersBlue
)

var objectTypeNames = [...]string{
	ObjectNone:         "none",
	ObjectCube:         "cube",
	ObjectScaleCenter:  "scale_center",
	ObjectScaleBlue:    "scale_blue",
	ObjectScaleRed:     "scale_red",
	ObjectSwitchRed:    "switch_red",
	ObjectSwitchBlue:   "switch_blue",
	ObjectPortalRed:    "portal_red",
	ObjectPortalBlue:   "portal_blue",
	ObjectExchangeRed:  "exchange_red",
	ObjectExchangeBlue: "exchange_blue",
	ObjectBumpersRed:   "bumpers_red",
	ObjectBumpersBlue:  "bumpers_blue",
}

// TypeForClass maps a network class index to its object type.
func TypeForClass(class int) ObjectType {
	return ObjectType(class + 1)
}

// Class returns the network class index for t, or -1 for ObjectNone.
func (t ObjectType) Class() int {
	return int(t) - 1
}

func (t ObjectType) String() string {
	if int(t) < len(objectTypeNames) {
		return objectTypeNames[t]
	}
	return fmt.Sprintf("class%d", int(t))
}

// Object is one ranked detection. Position and size are normalized to [0,1]
// with X and Y at the center of the box.
type Object struct {
	Type        ObjectType `json:"type"`
	X           float32    `json:"x"`
	Y           float32    `json:"y"`
	Width       float32    `json:"width"`
	Height      float32    `json:"height"`
	Probability float32    `json:"probability"`
}

// Ranked is a per-frame object list sorted by descending probability. The
// first ObjectNone entry ends the list.
type Ranked [MaxObjects]Object

// Len returns the number of objects before the first ObjectNone.
func (r *Ranked) Len() int {
	for i := range r {
		if r[i].Type == ObjectNone {
			return i
		}
	}
	return len(r)
}

// Objects returns the effective list as a slice.
func (r *Ranked) Objects() []Object {
	return r[:r.Len()]
}
