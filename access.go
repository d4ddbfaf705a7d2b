package dieselrhi

import (
	"fmt"

	"github.com/andewx/dieselrhi/hal"
)

type AccessKind int

const (
	AccessUndefined AccessKind = iota
	AccessTransfer
	AccessShader
	AccessAttachment
	AccessPresent
)

func (k AccessKind) String() string {
	switch k {
	case AccessUndefined:
		return "undefined"
	case AccessTransfer:
		return "transfer"
	case AccessShader:
		return "shader"
	case AccessAttachment:
		return "attachment"
	case AccessPresent:
		return "present"
	}
	return fmt.Sprintf("AccessKind(%d)", int(k))
}

type RW int

const (
	Read RW = iota + 1
	Write
	ReadWrite
)

func (rw RW) String() string {
	switch rw {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read_write"
	}
	return "-"
}

// AccessState is the role an image plays for the operation that touches
// it. Undefined and Present carry no read/write qualifier.
type AccessState struct {
	Kind AccessKind
	RW   RW
}

var (
	Undefined = AccessState{Kind: AccessUndefined}
	Present   = AccessState{Kind: AccessPresent}
)

func Transfer(rw RW) AccessState     { return AccessState{Kind: AccessTransfer, RW: rw} }
func ShaderAccess(rw RW) AccessState { return AccessState{Kind: AccessShader, RW: rw} }
func Attachment(rw RW) AccessState   { return AccessState{Kind: AccessAttachment, RW: rw} }

// AllAccessStates enumerates every distinct state.
func AllAccessStates() []AccessState {
	out := []AccessState{Undefined}
	for _, k := range []AccessKind{AccessTransfer, AccessShader, AccessAttachment} {
		for _, rw := range []RW{Read, Write, ReadWrite} {
			out = append(out, AccessState{Kind: k, RW: rw})
		}
	}
	return append(out, Present)
}

// normalize drops the qualifier where it has no meaning and defaults a
// missing one to ReadWrite.
func (s AccessState) normalize() AccessState {
	switch s.Kind {
	case AccessUndefined, AccessPresent:
		s.RW = 0
	default:
		if s.RW < Read || s.RW > ReadWrite {
			s.RW = ReadWrite
		}
	}
	return s
}

func (s AccessState) String() string {
	s = s.normalize()
	if s.RW == 0 {
		return s.Kind.String()
	}
	return s.Kind.String() + "(" + s.RW.String() + ")"
}

// Stage is the pipeline stage that performs the access.
func (s AccessState) Stage(depth bool) hal.PipelineStage {
	switch s.Kind {
	case AccessTransfer:
		return hal.StageTransfer
	case AccessShader:
		return hal.StageVertexShader | hal.StageFragmentShader
	case AccessAttachment:
		if depth {
			return hal.StageEarlyFragmentTests | hal.StageLateFragmentTests
		}
		return hal.StageColorAttachmentOutput
	case AccessPresent:
		return hal.StageBottomOfPipe
	}
	return hal.StageTopOfPipe
}

func (s AccessState) Access(depth bool) hal.Access {
	s = s.normalize()
	var rd, wr hal.Access
	switch s.Kind {
	case AccessTransfer:
		rd, wr = hal.AccessTransferRead, hal.AccessTransferWrite
	case AccessShader:
		rd, wr = hal.AccessShaderRead, hal.AccessShaderWrite
	case AccessAttachment:
		if depth {
			rd, wr = hal.AccessDepthStencilAttachmentRead, hal.AccessDepthStencilAttachmentWrite
		} else {
			rd, wr = hal.AccessColorAttachmentRead, hal.AccessColorAttachmentWrite
		}
	default:
		return 0
	}
	switch s.RW {
	case Read:
		return rd
	case Write:
		return wr
	}
	return rd | wr
}

// Layout is the image layout the access requires.
func (s AccessState) Layout(depth bool) hal.ImageLayout {
	s = s.normalize()
	switch s.Kind {
	case AccessTransfer:
		switch s.RW {
		case Read:
			return hal.LayoutTransferSrc
		case ReadWrite:
			Logger().Warn("dieselrhi: transfer read_write has no single layout, using transfer dst")
		}
		return hal.LayoutTransferDst
	case AccessShader:
		if s.RW == Read {
			return hal.LayoutShaderReadOnly
		}
		return hal.LayoutGeneral
	case AccessAttachment:
		if depth {
			return hal.LayoutDepthStencilAttachment
		}
		return hal.LayoutColorAttachment
	case AccessPresent:
		return hal.LayoutPresentSrc
	}
	return hal.LayoutUndefined
}
