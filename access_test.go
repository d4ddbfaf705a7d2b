package dieselrhi

import (
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessStateDerivation(t *testing.T) {
	tests := []struct {
		state  AccessState
		depth  bool
		stage  hal.PipelineStage
		access hal.Access
		layout hal.ImageLayout
	}{
		{Undefined, false, hal.StageTopOfPipe, 0, hal.LayoutUndefined},
		{Transfer(Read), false, hal.StageTransfer, hal.AccessTransferRead, hal.LayoutTransferSrc},
		{Transfer(Write), false, hal.StageTransfer, hal.AccessTransferWrite, hal.LayoutTransferDst},
		{Transfer(ReadWrite), false, hal.StageTransfer, hal.AccessTransferRead | hal.AccessTransferWrite, hal.LayoutTransferDst},
		{ShaderAccess(Read), false, hal.StageVertexShader | hal.StageFragmentShader, hal.AccessShaderRead, hal.LayoutShaderReadOnly},
		{ShaderAccess(Write), false, hal.StageVertexShader | hal.StageFragmentShader, hal.AccessShaderWrite, hal.LayoutGeneral},
		{ShaderAccess(ReadWrite), false, hal.StageVertexShader | hal.StageFragmentShader, hal.AccessShaderRead | hal.AccessShaderWrite, hal.LayoutGeneral},
		{Attachment(Write), false, hal.StageColorAttachmentOutput, hal.AccessColorAttachmentWrite, hal.LayoutColorAttachment},
		{Attachment(ReadWrite), false, hal.StageColorAttachmentOutput,
			hal.AccessColorAttachmentRead | hal.AccessColorAttachmentWrite, hal.LayoutColorAttachment},
		{Attachment(Read), true, hal.StageEarlyFragmentTests | hal.StageLateFragmentTests,
			hal.AccessDepthStencilAttachmentRead, hal.LayoutDepthStencilAttachment},
		{Present, false, hal.StageBottomOfPipe, 0, hal.LayoutPresentSrc},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.stage, tt.state.Stage(tt.depth))
			assert.Equal(t, tt.access, tt.state.Access(tt.depth))
			assert.Equal(t, tt.layout, tt.state.Layout(tt.depth))
		})
	}
}

func TestAccessStateNormalize(t *testing.T) {
	assert.Equal(t, Transfer(ReadWrite), AccessState{Kind: AccessTransfer}.normalize())
	assert.Equal(t, Present, AccessState{Kind: AccessPresent, RW: Write}.normalize())
	assert.Equal(t, "shader(read)", ShaderAccess(Read).String())
	assert.Equal(t, "present", Present.String())
	assert.Len(t, AllAccessStates(), 11)
}

// Every ordered pair of states on a fresh encoder: the first access records
// nothing, the second records a barrier exactly when the state changes.
// Moving back to Undefined is a discard and still needs a barrier.
func TestTransitionPairs(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	colour := testImage(t, dev, Rgba8, 4, 4, ImageCopySrc|ImageCopyDst|ImageSampled|ImageAttachment)
	depth := testImage(t, dev, D32Float, 4, 4, ImageSampled|ImageAttachment)
	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	want := 0
	for _, img := range []Image{colour, depth} {
		for _, a := range AllAccessStates() {
			for _, b := range AllAccessStates() {
				enc, err := cb.Encoder()
				require.NoError(t, err)
				assert.False(t, enc.TransitionImage(img, a))
				assert.Equal(t, a != b, enc.TransitionImage(img, b), "%s -> %s", a, b)
				if a != b {
					want++
				}
				require.NoError(t, enc.Finalize())
			}
		}
	}
	assert.Equal(t, want, hd.Calls("CmdPipelineBarrier"))
	assert.Empty(t, hd.Violations())
}

func TestTransitionRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	img := testImage(t, dev, Rgba8, 2, 2, ImageCopySrc|ImageCopyDst|ImageSampled)
	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.TransitionImage(img, Undefined)
	enc.TransitionImage(img, Transfer(Write))
	enc.TransitionImage(img, Transfer(Write))
	enc.TransitionImage(img, ShaderAccess(Read))
	enc.TransitionImage(img, ShaderAccess(Read))
	assert.Equal(t, 2, enc.Barriers())

	state, ok := enc.LastImageAccess(img)
	assert.True(t, ok)
	assert.Equal(t, ShaderAccess(Read), state)
	require.NoError(t, enc.Finalize())
}

// A -> B -> A for every pair of distinct states costs two barriers and ends
// in A, on colour and depth images alike.
func TestTransitionRoundTripAllPairs(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	colour := testImage(t, dev, Rgba8, 4, 4, ImageCopySrc|ImageCopyDst|ImageSampled|ImageAttachment)
	depth := testImage(t, dev, D32Float, 4, 4, ImageSampled|ImageAttachment)
	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	for _, img := range []Image{colour, depth} {
		for _, a := range AllAccessStates() {
			for _, b := range AllAccessStates() {
				if a == b {
					continue
				}
				enc, err := cb.Encoder()
				require.NoError(t, err)
				enc.TransitionImage(img, a)
				enc.TransitionImage(img, b)
				enc.TransitionImage(img, a)
				assert.Equal(t, 2, enc.Barriers(), "%s -> %s -> %s", a, b, a)
				state, ok := enc.LastImageAccess(img)
				assert.True(t, ok)
				assert.Equal(t, a, state, "%s -> %s -> %s", a, b, a)
				require.NoError(t, enc.Finalize())
			}
		}
	}
	assert.Empty(t, hd.Violations())
}

func TestSetLastImageAccessRange(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	img, err := dev.CreateImage(D2, Rgba8, Extent{Width: 4, Height: 4, Depth: 3}, 2, ImageSampled|ImageCopyDst, Gpu)
	require.NoError(t, err)
	defer img.Destroy()
	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.SetLastImageAccess(img, Undefined, Range{Base: 1, Count: 1}, Range{Base: 1})
	assert.True(t, enc.SetLastImageAccess(img, Transfer(Write), Range{Base: 1, Count: 1}, Range{Base: 1}))
	require.NoError(t, enc.Err())

	enc.SetLastImageAccess(img, ShaderAccess(Read), Range{Base: 3}, All)
	err = enc.Finalize()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRecord))
}
