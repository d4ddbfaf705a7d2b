package dieselrhi

import (
	"fmt"
)

// oneShot records fn into a throwaway command buffer, submits it and waits
// for it to finish.
func (d *Device) oneShot(op string, fn func(e *CommandEncoder)) error {
	cb, err := d.CreateCommandBuffer()
	if err != nil {
		return err
	}
	defer cb.Destroy()
	fence, err := d.CreateFence(false)
	if err != nil {
		return err
	}
	defer fence.Destroy()

	enc, err := cb.Encoder()
	if err != nil {
		return err
	}
	fn(enc)
	if err := enc.Finalize(); err != nil {
		return err
	}
	if err := cb.Submit(nil, nil, fence); err != nil {
		return err
	}
	if err := fence.Wait(NoTimeout); err != nil {
		return &Error{Op: op, Kind: KindSync, Err: err, Caller: caller(2)}
	}
	return nil
}

// Upload replaces mip level 0 of every layer of img with pixels, tightly
// packed, and leaves the image in state final. Previous contents are
// discarded.
func (d *Device) Upload(img Image, pixels []byte, final AccessState) error {
	const op = "upload image"
	_, size := imageCopy(img.core(), 0)
	if uint64(len(pixels)) != size {
		return usageError(op, fmt.Errorf("%d bytes for an image of %d", len(pixels), size))
	}
	staging, err := d.CreateBuffer(size, BufferCopySrc, CpuToGpu)
	if err != nil {
		return err
	}
	defer staging.Destroy()
	if err := staging.Write(0, pixels); err != nil {
		return err
	}
	return d.oneShot(op, func(e *CommandEncoder) {
		e.TransitionImage(img, Undefined)
		e.CopyBufferToImage(staging, img, 0)
		if final.normalize() != Undefined {
			e.TransitionImage(img, final)
		}
	})
}

// Readback copies mip level 0 of every layer of img to host memory. current
// is the state img is in; the image is returned to it afterwards, unless it
// is Undefined, in which case the image is left in Transfer(Read).
func (d *Device) Readback(img Image, current AccessState) ([]byte, error) {
	_, size := imageCopy(img.core(), 0)
	staging, err := d.CreateBuffer(size, BufferCopyDst, GpuToCpu)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	err = d.oneShot("readback image", func(e *CommandEncoder) {
		e.TransitionImage(img, current)
		e.CopyImageToBuffer(img, staging, 0)
		if current.normalize() != Undefined {
			e.TransitionImage(img, current)
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if err := staging.Read(0, out); err != nil {
		return nil, err
	}
	return out, nil
}
