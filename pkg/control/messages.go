package control

import (
	"github.com/micro-manager/mmgocorex/pkg/domain"
)

// Wire messages for the core service. Kept deliberately flat; the msgpack
// codec round-trips them without any generated code.

type Empty struct{}

type PathRequest struct {
	Path string `msgpack:"path"`
}

type DeviceRequest struct {
	Label string `msgpack:"label"`
}

type PropertyRequest struct {
	Label    string `msgpack:"label"`
	Property string `msgpack:"property"`
}

type SetPropertyRequest struct {
	Label    string `msgpack:"label"`
	Property string `msgpack:"property"`
	Value    string `msgpack:"value"`
}

type ExposureRequest struct {
	ExposureMs float64 `msgpack:"exposure_ms"`
}

type SequenceRequest struct {
	NumImages      int     `msgpack:"num_images"`
	IntervalMs     float64 `msgpack:"interval_ms"`
	StopOnOverflow bool    `msgpack:"stop_on_overflow"`
}

type ContinuousSequenceRequest struct {
	IntervalMs float64 `msgpack:"interval_ms"`
}

type FootprintRequest struct {
	SizeMB int `msgpack:"size_mb"`
}

type StringListReply struct {
	Values []string `msgpack:"values"`
}

type StringReply struct {
	Value string `msgpack:"value"`
}

type IntReply struct {
	Value int `msgpack:"value"`
}

type FloatReply struct {
	Value float64 `msgpack:"value"`
}

type BoolReply struct {
	Value bool `msgpack:"value"`
}

type BytesReply struct {
	Value []byte `msgpack:"value"`
}

type TaggedImageReply struct {
	Image *domain.TaggedImage `msgpack:"image"`
}
