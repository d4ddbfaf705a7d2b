package hal

type AdapterInfo struct {
	Index              int
	Name               string
	Type               AdapterType
	APIVersion         uint32
	QueueFamily        uint32
	Graphics           bool
	Present            bool
	TimelineSemaphores bool
}

// DeviceOptions are the knobs honoured when a logical device is opened.
type DeviceOptions struct {
	Validation bool
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	TypeBits  uint32
}

type MemoryType struct {
	Flags MemoryProperty
	Heap  uint32
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type BufferDesc struct {
	Size  uint64
	Usage BufferUsage
}

type ImageDesc struct {
	Type        ImageType
	Format      Format
	Width       uint32
	Height      uint32
	Depth       uint32
	ArrayLayers uint32
	MipLevels   uint32
	Usage       ImageUsage
}

type SubresourceRange struct {
	Aspect     ImageAspect
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

type SubresourceLayers struct {
	Aspect     ImageAspect
	Mip        uint32
	BaseLayer  uint32
	LayerCount uint32
}

type ImageViewDesc struct {
	Image  Image
	Type   ViewType
	Format Format
	Range  SubresourceRange
}

type SamplerDesc struct {
	MagFilter   Filter
	MinFilter   Filter
	AddressMode AddressMode
	MaxLod      float32
}

type Offset3D struct {
	X, Y, Z int32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

type Extent2D struct {
	Width, Height uint32
}

type Rect2D struct {
	X, Y          int32
	Width, Height uint32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type ImageBarrier struct {
	Image     Image
	SrcAccess Access
	DstAccess Access
	OldLayout ImageLayout
	NewLayout ImageLayout
	Range     SubresourceRange
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy describes a tightly packed region: buffer rows are
// exactly Extent.Width texels long.
type BufferImageCopy struct {
	BufferOffset uint64
	Subresource  SubresourceLayers
	Offset       Offset3D
	Extent       Extent3D
}

type ImageBlit struct {
	SrcSubresource SubresourceLayers
	SrcOffsets     [2]Offset3D
	DstSubresource SubresourceLayers
	DstOffsets     [2]Offset3D
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type RenderPassBegin struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Rect2D
	ClearValues []ClearValue
}

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorPoolDesc struct {
	MaxSets uint32
	Sizes   []DescriptorPoolSize
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler Sampler
	View    ImageView
	Layout  ImageLayout
}

type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffers      []DescriptorBufferInfo
	Images       []DescriptorImageInfo
}

type AttachmentDesc struct {
	Format        Format
	LoadOp        LoadOp
	StoreOp       StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
	// Layout is the layout used inside the single subpass.
	Layout ImageLayout
}

type VertexAttributeDesc struct {
	Location uint32
	Offset   uint32
	Format   Format
}

type ShaderStageDesc struct {
	Module ShaderModule
	Entry  string
	Stage  ShaderStage
}

type GraphicsPipelineDesc struct {
	Layout       PipelineLayout
	RenderPass   RenderPass
	Stages       []ShaderStageDesc
	VertexStride uint32
	Attributes   []VertexAttributeDesc
	Polygon      PolygonMode
	LineWidth    float32
	CullBack     bool
	FrontFaceCCW bool
	// ColorAttachments is the number of colour blend states to emit.
	ColorAttachments uint32
	DepthTest        bool
	DepthCompare     CompareOp
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

// SemaphoreSubmit is one wait or signal entry of a queue submission. Value
// is ignored for binary semaphores. Stage is only read for waits.
type SemaphoreSubmit struct {
	Semaphore Semaphore
	Value     uint64
	Stage     PipelineStage
}

type SubmitDesc struct {
	CommandBuffers []CommandBuffer
	Wait           []SemaphoreSubmit
	Signal         []SemaphoreSubmit
}

type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount of zero means no upper limit.
	MaxImageCount uint32
	// CurrentExtent is 0xFFFFFFFF in both axes when the surface size is
	// decided by the swapchain.
	CurrentExtent    Extent2D
	MinExtent        Extent2D
	MaxExtent        Extent2D
	SupportedUsage   ImageUsage
	CurrentTransform uint32
	CompositeAlpha   uint32
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type SwapchainDesc struct {
	MinImageCount  uint32
	Format         Format
	ColorSpace     ColorSpace
	Extent         Extent2D
	Usage          ImageUsage
	PresentMode    PresentMode
	Transform      uint32
	CompositeAlpha uint32
	Old            Swapchain
}
